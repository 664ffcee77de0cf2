package repositories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const noncePrefix = "tonproof:nonce:"

// ErrNonceNotFound is returned for unknown, expired or already used nonces.
var ErrNonceNotFound = errors.New("nonce not found or expired")

// NonceRepo хранит одноразовые payload'ы для TON Proof в redis.
type NonceRepo struct {
	rdb *redis.Client
}

func NewNonceRepo(rdb *redis.Client) *NonceRepo {
	return &NonceRepo{rdb: rdb}
}

func (r *NonceRepo) Create(ctx context.Context, ttl time.Duration) (string, error) {
	payload := generateNonce(32)
	if err := r.rdb.Set(ctx, noncePrefix+payload, 1, ttl).Err(); err != nil {
		return "", err
	}
	return payload, nil
}

// Consume removes the nonce; a second call with the same payload fails.
func (r *NonceRepo) Consume(ctx context.Context, payload string) error {
	err := r.rdb.GetDel(ctx, noncePrefix+payload).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNonceNotFound
	}
	return err
}

func generateNonce(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
