package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/ads-marketplace/escrow/internal/db"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test, needs docker")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "redis")
	require.NoError(t, err)

	rdb, err := db.NewRedisClient(ctx, endpoint, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestNonceRepo(t *testing.T) {
	rdb := setupTestRedis(t)
	ctx := context.Background()
	nonces := NewNonceRepo(rdb)

	payload, err := nonces.Create(ctx, time.Minute)
	require.NoError(t, err)
	assert.Len(t, payload, 64)

	other, err := nonces.Create(ctx, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, payload, other)

	require.NoError(t, nonces.Consume(ctx, payload))
	assert.ErrorIs(t, nonces.Consume(ctx, payload), ErrNonceNotFound, "nonce is single use")
	assert.ErrorIs(t, nonces.Consume(ctx, "deadbeef"), ErrNonceNotFound)

	short, err := nonces.Create(ctx, time.Second)
	require.NoError(t, err)
	time.Sleep(1500 * time.Millisecond)
	assert.ErrorIs(t, nonces.Consume(ctx, short), ErrNonceNotFound, "expired nonce")
}
