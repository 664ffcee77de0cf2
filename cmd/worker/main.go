package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ads-marketplace/escrow/internal/config"
	"github.com/ads-marketplace/escrow/internal/db"
	"github.com/ads-marketplace/escrow/internal/events"
	"github.com/ads-marketplace/escrow/internal/metrics"
	"github.com/ads-marketplace/escrow/internal/repositories"
	"github.com/ads-marketplace/escrow/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisAnnounced = "worker:refund-announced:"
	announcedTTL   = 30 * 24 * time.Hour
	batchSize      = 100
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PGMaxConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	unitRepo := repositories.NewUnitRepo(pool)
	messageRepo := repositories.NewMessageRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	settlementCfg, err := services.NewSettlementConfig(cfg, nil)
	if err != nil {
		log.Fatal("invalid escrow configuration", zap.Error(err))
	}
	settlement := services.NewSettlementService(unitRepo, messageRepo, publisher, metrics.NoopRecorder{}, settlementCfg, log)

	log.Info("worker started", zap.Duration("interval", cfg.WorkerInterval))

	deadlineTicker := time.NewTicker(cfg.WorkerInterval)
	defer deadlineTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-deadlineTicker.C:
			runDeadlineWatch(ctx, settlement, rdb, time.Now(), log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runDeadlineWatch announces funded units whose confirmation window has
// closed. Each unit is announced once.
func runDeadlineWatch(ctx context.Context, settlement *services.SettlementService, rdb *redis.Client, now time.Time, log *zap.Logger) {
	units, err := settlement.ExpiredFunded(ctx, now, batchSize)
	if err != nil {
		log.Error("failed to get expired units", zap.Error(err))
		return
	}

	for _, u := range units {
		first, err := rdb.SetNX(ctx, redisAnnounced+u.Address, now.Unix(), announcedTTL).Result()
		if err != nil {
			log.Error("failed to mark unit announced", zap.String("unit", u.Address), zap.Error(err))
			continue
		}
		if !first {
			continue
		}

		log.Info("confirmation window closed, refund available",
			zap.String("unit", u.Address),
			zap.Uint64("deal_id", u.DealID),
			zap.Int64("deadline", u.Deadline),
		)
		if err := settlement.AnnounceRefund(ctx, u); err != nil {
			log.Error("failed to announce refund", zap.String("unit", u.Address), zap.Error(err))
			rdb.Del(ctx, redisAnnounced+u.Address)
		}
	}
}
