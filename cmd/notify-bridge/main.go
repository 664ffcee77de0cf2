package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ads-marketplace/escrow/internal/config"
	"github.com/ads-marketplace/escrow/internal/db"
	"github.com/ads-marketplace/escrow/internal/events"
	"go.uber.org/zap"
)

// Notify Bridge: небольшой сервис, который слушает события эскроу в Redis
// и пересылает их на внешний webhook (бот, почта и т.п.).

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is required")
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	fw := &forwarder{
		url:    cfg.NotifyWebhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	if err := subscriber.Subscribe(ctx, events.StreamEscrow, func(event events.Event) {
		fw.forward(ctx, event)
	}); err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("stream", events.StreamEscrow))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

type notification struct {
	Type    string         `json:"type"`
	Unit    string         `json:"unit"`
	Parties []string       `json:"parties"`
	Text    string         `json:"text"`
	Payload map[string]any `json:"payload"`
}

type forwarder struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// forward posts one event to the webhook. Events without parties have
// nobody to notify and are dropped.
func (f *forwarder) forward(ctx context.Context, event events.Event) bool {
	parties := event.Parties()
	if len(parties) == 0 {
		return false
	}

	unit, _ := event.Payload["unit"].(string)
	body, err := json.Marshal(notification{
		Type:    event.Type,
		Unit:    unit,
		Parties: parties,
		Text:    notificationText(event),
		Payload: event.Payload,
	})
	if err != nil {
		f.log.Error("failed to encode notification", zap.Error(err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		f.log.Error("failed to build notification request", zap.Error(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("failed to forward notification", zap.String("type", event.Type), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		f.log.Warn("webhook returned non-2xx", zap.String("type", event.Type), zap.Int("status", resp.StatusCode))
		return false
	}
	f.log.Debug("notification forwarded", zap.String("type", event.Type), zap.String("unit", unit))
	return true
}

func notificationText(event events.Event) string {
	unit, _ := event.Payload["unit"].(string)
	switch event.Type {
	case events.EventUnitCreated:
		return fmt.Sprintf("Escrow %s created", unit)
	case events.EventUnitStatusChanged:
		return fmt.Sprintf("Escrow %s is now %v", unit, event.Payload["to_status"])
	case events.EventMessageRejected:
		return fmt.Sprintf("Escrow %s rejected a message (exit code %v)", unit, event.Payload["exit_code"])
	case events.EventJettonsReturned:
		return fmt.Sprintf("Escrow %s returned jettons to the sender", unit)
	case events.EventRefundAvailable:
		return fmt.Sprintf("Confirmation window of escrow %s has closed, refund is available", unit)
	default:
		return fmt.Sprintf("Event: %s", event.Type)
	}
}
