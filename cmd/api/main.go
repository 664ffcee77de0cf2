package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ads-marketplace/escrow/internal/config"
	"github.com/ads-marketplace/escrow/internal/db"
	"github.com/ads-marketplace/escrow/internal/events"
	apphttp "github.com/ads-marketplace/escrow/internal/http"
	"github.com/ads-marketplace/escrow/internal/http/handlers"
	"github.com/ads-marketplace/escrow/internal/metrics"
	"github.com/ads-marketplace/escrow/internal/repositories"
	"github.com/ads-marketplace/escrow/internal/services"
	"github.com/ads-marketplace/escrow/migrations"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PGMaxConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(registry)

	// Repositories
	unitRepo := repositories.NewUnitRepo(pool)
	messageRepo := repositories.NewMessageRepo(pool)
	nonceRepo := repositories.NewNonceRepo(rdb)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	settlementCfg, err := services.NewSettlementConfig(cfg, nil)
	if err != nil {
		log.Fatal("invalid escrow configuration", zap.Error(err))
	}
	settlement := services.NewSettlementService(unitRepo, messageRepo, publisher, recorder, settlementCfg, log)
	authService := services.NewAuthService(nonceRepo, services.AuthConfig{
		JWTSecret:      cfg.JWTSecret,
		JWTExpiration:  cfg.JWTExpiration,
		Network:        cfg.TONNetwork,
		AllowedDomains: cfg.TONProofAllowedDomains,
	}, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, log)
	dealHandler := handlers.NewDealHandler(settlement, log)
	wsHub := handlers.NewWSHub(cfg.JWTSecret, subscriber, log)

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, registry, authHandler, dealHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
