package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ads-marketplace/escrow/internal/auth"
	"github.com/ads-marketplace/escrow/internal/ton"
	"go.uber.org/zap"
)

const proofPayloadTTL = 5 * time.Minute

var (
	ErrInvalidNonce    = errors.New("invalid or expired proof payload")
	ErrNetworkMismatch = errors.New("network mismatch")
)

type NonceStore interface {
	Create(ctx context.Context, ttl time.Duration) (string, error)
	Consume(ctx context.Context, payload string) error
}

type AuthConfig struct {
	JWTSecret      string
	JWTExpiration  time.Duration
	Network        string // mainnet/testnet
	AllowedDomains []string
}

// AuthService logs parties in with a TON Connect proof of wallet ownership.
type AuthService struct {
	nonces NonceStore
	cfg    AuthConfig
	now    func() time.Time
	log    *zap.Logger
}

func NewAuthService(nonces NonceStore, cfg AuthConfig, log *zap.Logger) *AuthService {
	return &AuthService{nonces: nonces, cfg: cfg, now: time.Now, log: log}
}

// GeneratePayload создаёт nonce для TON Proof.
// Клиент передаёт его в tonconnect при подключении кошелька.
func (s *AuthService) GeneratePayload(ctx context.Context) (string, error) {
	p, err := s.nonces.Create(ctx, proofPayloadTTL)
	if err != nil {
		return "", fmt.Errorf("failed to create proof payload: %w", err)
	}
	return p, nil
}

type Session struct {
	Token   string `json:"token"`
	Address string `json:"address"`
	Network string `json:"network"`
}

// IssueToken проверяет TON Proof и выдаёт JWT на адрес кошелька.
func (s *AuthService) IssueToken(ctx context.Context, req ton.ProofData) (*Session, error) {
	// 1. Consume payload (nonce), защита от replay
	if err := s.nonces.Consume(ctx, req.Proof.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNonce, err)
	}

	// 2. Парсим raw address
	workchain, addrHash, err := ton.ParseRawAddress(req.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid TON address: %w", err)
	}

	// 3. Проверяем network
	expected := ton.NetworkID(s.cfg.Network)
	if req.Network != "" && req.Network != expected {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrNetworkMismatch, expected, req.Network)
	}

	// 4. Верифицируем подпись
	if err := ton.VerifyProof(req.PublicKey, addrHash, workchain, req.Proof, s.cfg.AllowedDomains, s.now()); err != nil {
		return nil, fmt.Errorf("TON Proof verification failed: %w", err)
	}

	addr, err := ton.RawToAddress(req.Address)
	if err != nil {
		return nil, err
	}
	raw := ton.RawAddress(addr)

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, raw, s.cfg.Network, s.cfg.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate jwt: %w", err)
	}

	s.log.Info("wallet authenticated", zap.String("address", raw), zap.String("network", s.cfg.Network))
	return &Session{Token: token, Address: raw, Network: s.cfg.Network}, nil
}
