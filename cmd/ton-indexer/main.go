package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ads-marketplace/escrow/internal/config"
	"github.com/ads-marketplace/escrow/internal/db"
	"github.com/ads-marketplace/escrow/internal/events"
	"github.com/ads-marketplace/escrow/internal/metrics"
	"github.com/ads-marketplace/escrow/internal/repositories"
	"github.com/ads-marketplace/escrow/internal/services"
	"github.com/ads-marketplace/escrow/internal/ton"
	"github.com/ads-marketplace/escrow/migrations"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

const (
	redisCursorLT   = "ton-indexer:cursor:lt:"
	redisCursorHash = "ton-indexer:cursor:hash:"
	pollInterval    = 5 * time.Second
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.IndexedEscrowAddress == "" {
		log.Fatal("INDEXED_ESCROW_ADDRESS is required")
	}

	unitAddr, err := ton.ParseAnyAddress(cfg.IndexedEscrowAddress)
	if err != nil {
		log.Fatal("invalid INDEXED_ESCROW_ADDRESS", zap.String("addr", cfg.IndexedEscrowAddress), zap.Error(err))
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PGMaxConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	tonAPI, err := ton.Connect(ctx, ton.ConnectOptions{
		Network: cfg.TONNetwork,
		Host:    cfg.LiteServerHost,
		Port:    cfg.LiteServerPort,
		Key:     cfg.LiteServerKey,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}

	settlementCfg, err := services.NewSettlementConfig(cfg, tonAPI)
	if err != nil {
		log.Fatal("invalid escrow configuration", zap.Error(err))
	}
	settlement := services.NewSettlementService(
		repositories.NewUnitRepo(pool),
		repositories.NewMessageRepo(pool),
		events.NewRedisPublisher(rdb, log),
		metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer),
		settlementCfg,
		log,
	)

	log.Info("TON indexer started",
		zap.String("unit", unitAddr.String()),
		zap.String("network", cfg.TONNetwork),
	)

	ix := &indexer{
		api:        tonAPI,
		unit:       unitAddr,
		settlement: settlement,
		cursor:     &redisCursor{rdb: rdb, key: ton.RawAddress(unitAddr)},
		log:        log,
	}

	if err := ix.init(ctx); err != nil {
		log.Fatal("failed to initialize indexer", zap.Error(err))
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := ix.poll(ctx); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down TON indexer")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

type cursorStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, lt uint64, hash []byte) error
}

type redisCursor struct {
	rdb *redis.Client
	key string
}

func (c *redisCursor) Load(ctx context.Context) (uint64, bool, error) {
	val, err := c.rdb.Get(ctx, redisCursorLT+c.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	lt, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad cursor %q: %w", val, err)
	}
	return lt, true, nil
}

func (c *redisCursor) Save(ctx context.Context, lt uint64, hash []byte) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, redisCursorLT+c.key, strconv.FormatUint(lt, 10), 0)
	pipe.Set(ctx, redisCursorHash+c.key, hex.EncodeToString(hash), 0)
	_, err := pipe.Exec(ctx)
	return err
}

type settler interface {
	ImportUnit(ctx context.Context, addr *address.Address, data *cell.Cell, balance *big.Int) (*services.DealView, error)
	Deliver(ctx context.Context, addr *address.Address, env services.Envelope) (*services.Delivery, error)
}

// indexer mirrors one escrow contract: every inbound internal message of
// the account is replayed through the settlement service.
type indexer struct {
	api        ton.Chain
	unit       *address.Address
	settlement settler
	cursor     cursorStore
	log        *zap.Logger
}

// init sets the initial cursor position on first run. The unit is imported
// from the current account state and only transactions after it are
// replayed.
func (ix *indexer) init(ctx context.Context) error {
	if lt, ok, err := ix.cursor.Load(ctx); err != nil {
		return err
	} else if ok {
		ix.log.Info("resuming from saved cursor", zap.Uint64("lt", lt))
		return nil
	}

	account, err := ton.AccountState(ctx, ix.api, ix.unit)
	if err != nil {
		return err
	}
	if account == nil {
		ix.log.Info("escrow account not active yet, starting from LT=0")
		return ix.cursor.Save(ctx, 0, nil)
	}

	if account.Data != nil && account.State != nil {
		view, err := ix.settlement.ImportUnit(ctx, ix.unit, account.Data, account.State.Balance.Nano())
		if err != nil {
			return fmt.Errorf("import unit: %w", err)
		}
		ix.log.Info("unit imported from chain", zap.String("status", view.Status), zap.String("balance", view.BalanceTON))
	}

	ix.log.Info("cursor initialized at current account state (skipping historical transactions)",
		zap.Uint64("lt", account.LastTxLT),
		zap.String("hash", hex.EncodeToString(account.LastTxHash)),
	)
	return ix.cursor.Save(ctx, account.LastTxLT, account.LastTxHash)
}

// poll runs a single cycle:
// 1. Get the account's latest state
// 2. Fetch all transactions newer than the cursor
// 3. Replay their inbound messages
// 4. Update the cursor
func (ix *indexer) poll(ctx context.Context) error {
	cursorLT, _, err := ix.cursor.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	account, err := ton.AccountState(ctx, ix.api, ix.unit)
	if err != nil {
		return err
	}
	if account == nil || account.LastTxLT <= cursorLT {
		return nil
	}

	txs, err := ton.NewTransactions(ctx, ix.api, ix.unit, account, cursorLT)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}

	if len(txs) > 0 {
		ix.log.Info("found new transactions", zap.Int("count", len(txs)))
	}
	for _, tx := range txs {
		if err := ix.replay(ctx, tx); err != nil {
			// cursor stays before this transaction, the cycle is retried
			return fmt.Errorf("replay tx lt=%d: %w", tx.LT, err)
		}
		if err := ix.cursor.Save(ctx, tx.LT, tx.Hash); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	return nil
}

func (ix *indexer) replay(ctx context.Context, tx *tlb.Transaction) error {
	in, ok := inboundInternal(tx)
	if !ok {
		return nil
	}
	env := envelopeFromTx(tx, in)

	d, err := ix.settlement.Deliver(ctx, ix.unit, env)
	if errors.Is(err, services.ErrUnitNotFound) && in.StateInit != nil && in.StateInit.Data != nil {
		// deploy message: the unit starts from the data of its StateInit
		if _, err := ix.settlement.ImportUnit(ctx, ix.unit, in.StateInit.Data, big.NewInt(0)); err != nil {
			return fmt.Errorf("import unit: %w", err)
		}
		d, err = ix.settlement.Deliver(ctx, ix.unit, env)
	}
	switch {
	case errors.Is(err, services.ErrDuplicateMessage):
		return nil
	case d == nil && err != nil:
		return err
	}

	fields := []zap.Field{
		zap.Uint64("lt", tx.LT),
		zap.String("from", env.Sender.String()),
		zap.String("op", d.Op),
		zap.Int("exit_code", d.ExitCode),
		zap.String("status", d.Unit.Status),
	}
	if err != nil {
		ix.log.Warn("inbound message rejected", append(fields, zap.Error(err))...)
		return nil
	}
	ix.log.Info("inbound message applied", append(fields, zap.Int("outbound", len(d.Outbound)))...)
	return nil
}

// inboundInternal returns the inbound internal message of a transaction.
// External and tick-tock transactions carry none.
func inboundInternal(tx *tlb.Transaction) (*tlb.InternalMessage, bool) {
	if tx.IO.In == nil {
		return nil, false
	}
	in, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || in == nil {
		return nil, false
	}
	return in, true
}

func envelopeFromTx(tx *tlb.Transaction, in *tlb.InternalMessage) services.Envelope {
	return services.Envelope{
		Sender:  in.SrcAddr,
		Value:   in.Amount.Nano(),
		Now:     tx.Now,
		Body:    in.Body,
		Bounce:  in.Bounce,
		Bounced: in.Bounced,
		TxHash:  hex.EncodeToString(tx.Hash),
		Source:  services.SourceIndexer,
	}
}
