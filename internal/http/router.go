package http

import (
	"time"

	"github.com/ads-marketplace/escrow/internal/config"
	"github.com/ads-marketplace/escrow/internal/http/handlers"
	"github.com/ads-marketplace/escrow/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	gatherer prometheus.Gatherer,
	authHandler *handlers.AuthHandler,
	dealHandler *handlers.DealHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api/v1")

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Auth (TON Connect proof)
	api.Post("/auth/proof-payload", authHandler.GeneratePayload)
	api.Post("/auth/ton-proof", authHandler.TonProof)

	// Deals (public reads)
	api.Get("/deals/:address", dealHandler.GetDeal)
	api.Get("/deals/:address/messages", dealHandler.ListMessages)

	// Protected endpoints
	// second limiter counts per wallet, so one party cannot flood a unit from many IPs
	protected := api.Group("",
		middleware.AuthMiddleware(cfg.JWTSecret, log),
		middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute),
	)
	protected.Post("/deals", dealHandler.CreateDeal)
	protected.Post("/deals/:address/messages", dealHandler.SendMessage)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
