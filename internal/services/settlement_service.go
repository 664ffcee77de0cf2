package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ads-marketplace/escrow/internal/escrow"
	"github.com/ads-marketplace/escrow/internal/events"
	"github.com/ads-marketplace/escrow/internal/metrics"
	"github.com/ads-marketplace/escrow/internal/models"
	"github.com/ads-marketplace/escrow/internal/repositories"
	"github.com/ads-marketplace/escrow/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

var (
	ErrUnitNotFound     = errors.New("unit not found")
	ErrUnitExists       = errors.New("unit with these terms already exists")
	ErrDuplicateMessage = errors.New("message already delivered")
	ErrInvalidStatus    = errors.New("invalid status transition")
	ErrStaleClock       = errors.New("message time is before the last delivered message")
	ErrCustodyMismatch  = errors.New("unit is not delivered to from this source")
)

// Delivery sources. The indexer replays chain transactions; everything else
// is the API simulator.
const (
	SourceAPI     = "api"
	SourceIndexer = "indexer"
)

// custodyOf maps a delivery source to the custody of the units it may touch.
func custodyOf(source string) string {
	if source == SourceIndexer {
		return models.CustodyChain
	}
	return models.CustodySimulated
}

type UnitStore interface {
	Create(ctx context.Context, u *models.Unit) error
	GetByAddress(ctx context.Context, address string) (*models.Unit, error)
	ListByStatusBefore(ctx context.Context, status string, before int64, limit int) ([]models.Unit, error)
	Mutate(ctx context.Context, address string, fn repositories.MutateFunc) (*models.Unit, error)
}

type MessageStore interface {
	ListByUnit(ctx context.Context, address string, limit, offset int) ([]models.MessageLog, error)
	HasTx(ctx context.Context, txHash string) (bool, error)
}

type SettlementConfig struct {
	Code      *cell.Cell
	Workchain int32
	Token     escrow.TokenOptions
}

type SettlementService struct {
	units     UnitStore
	messages  MessageStore
	publisher events.Publisher
	metrics   metrics.Recorder
	cfg       SettlementConfig
	log       *zap.Logger
}

func NewSettlementService(
	units UnitStore,
	messages MessageStore,
	publisher events.Publisher,
	recorder metrics.Recorder,
	cfg SettlementConfig,
	log *zap.Logger,
) *SettlementService {
	if cfg.Code == nil {
		cfg.Code = cell.BeginCell().EndCell()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &SettlementService{
		units:     units,
		messages:  messages,
		publisher: publisher,
		metrics:   recorder,
		cfg:       cfg,
		log:       log,
	}
}

type CreateUnitParams struct {
	DealID               uint64
	UsesToken            bool
	ConfirmationDuration uint32
	Buyer                *address.Address
	Seller               *address.Address
	Guarantor            *address.Address
	GuarantorFeeBps      uint16
}

// CreateUnit builds the initial storage for the terms, derives the unit
// address from its StateInit and registers the unit.
func (s *SettlementService) CreateUnit(ctx context.Context, p CreateUnitParams) (*DealView, error) {
	deal, err := escrow.NewDeal(escrow.Terms{
		DealID:               p.DealID,
		UsesToken:            p.UsesToken,
		ConfirmationDuration: p.ConfirmationDuration,
		Buyer:                p.Buyer,
		Seller:               p.Seller,
		Guarantor:            p.Guarantor,
		GuarantorFeeBps:      p.GuarantorFeeBps,
	})
	if err != nil {
		return nil, err
	}

	data, err := escrow.EncodeDeal(deal)
	if err != nil {
		return nil, fmt.Errorf("encode storage: %w", err)
	}
	addr := escrow.ContractAddress(s.cfg.Workchain, s.cfg.Code, data)

	row := &models.Unit{
		Address:     ton.RawAddress(addr),
		DealID:      deal.DealID,
		Status:      models.UnitStatusUninitialized,
		UsesToken:   deal.UsesToken,
		StorageBOC:  data.ToBOC(),
		BalanceNano: "0",
		Custody:     models.CustodySimulated,
	}
	if err := s.units.Create(ctx, row); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			return nil, ErrUnitExists
		}
		return nil, fmt.Errorf("create unit: %w", err)
	}

	s.log.Info("escrow unit created",
		zap.String("unit", row.Address),
		zap.Uint64("deal_id", deal.DealID),
		zap.Bool("uses_token", deal.UsesToken),
	)

	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventUnitCreated,
		Payload: map[string]any{
			"unit":    row.Address,
			"deal_id": deal.DealID,
			"parties": parties(deal),
		},
	})

	return newDealView(row, addr, deal)
}

// ImportUnit registers a unit that already lives on chain from its current
// storage cell and balance. An existing chain row is left untouched; a unit
// created through the API cannot be taken over by the chain.
func (s *SettlementService) ImportUnit(ctx context.Context, addr *address.Address, data *cell.Cell, balance *big.Int) (*DealView, error) {
	deal, err := escrow.DecodeDeal(data)
	if err != nil {
		return nil, err
	}

	row := &models.Unit{
		Address:     ton.RawAddress(addr),
		DealID:      deal.DealID,
		Status:      string(deal.Status()),
		UsesToken:   deal.UsesToken,
		StorageBOC:  data.ToBOC(),
		BalanceNano: balance.String(),
		StartTime:   int64(deal.StartTime),
		LastNow:     int64(deal.StartTime),
		Custody:     models.CustodyChain,
	}
	if deal.StartTime != 0 {
		row.Deadline = int64(deal.Deadline())
	}

	if err := s.units.Create(ctx, row); err != nil {
		if !errors.Is(err, repositories.ErrAlreadyExists) {
			return nil, fmt.Errorf("import unit: %w", err)
		}
		existing, err := s.units.GetByAddress(ctx, row.Address)
		if err != nil {
			return nil, err
		}
		if existing.Custody != models.CustodyChain {
			return nil, fmt.Errorf("%w: %s is %s", ErrCustodyMismatch, row.Address, existing.Custody)
		}
		return s.GetDeal(ctx, addr)
	}

	s.log.Info("escrow unit imported",
		zap.String("unit", row.Address),
		zap.String("status", row.Status),
		zap.String("balance", balance.String()),
	)
	return newDealView(row, addr, deal)
}

// Envelope is an internal message as the transport delivers it.
type Envelope struct {
	Sender  *address.Address
	Value   *big.Int
	Now     uint32
	Body    *cell.Cell
	Bounce  bool // sender asked for a bounce on failure
	Bounced bool // this message is itself a bounce
	TxHash  string
	Source  string // SourceAPI / SourceIndexer
}

// Delivery is the outcome of one delivered message.
type Delivery struct {
	Unit     *DealView
	Op       string
	ExitCode int
	Outbound []models.MessageLog
	Returned bool
	Reason   string
}

// Deliver runs one inbound message through the state machine under the unit
// row lock and persists the result. A rejected message is logged and its
// exit error is returned together with the delivery.
//
// Message time never goes backwards for a unit: an envelope older than the
// last delivered one fails with ErrStaleClock. A zero Now means the server
// clock.
func (s *SettlementService) Deliver(ctx context.Context, unitAddr *address.Address, env Envelope) (*Delivery, error) {
	start := time.Now()
	raw := ton.RawAddress(unitAddr)
	if env.Value == nil {
		env.Value = big.NewInt(0)
	}
	if env.Now == 0 {
		env.Now = uint32(start.Unix())
	}

	var (
		res       *escrow.Result
		handleErr error
		from      string
		deal      *escrow.Deal
		outLogs   []models.MessageLog
		opName    string
	)

	row, err := s.units.Mutate(ctx, raw, func(u *models.Unit) ([]models.MessageLog, error) {
		if want := custodyOf(env.Source); u.Custody != want {
			return nil, fmt.Errorf("%w: %s unit, source %q", ErrCustodyMismatch, u.Custody, env.Source)
		}
		if env.TxHash != "" {
			// checked under the row lock, a concurrent copy waits for our commit
			seen, err := s.messages.HasTx(ctx, env.TxHash)
			if err != nil {
				return nil, fmt.Errorf("check tx: %w", err)
			}
			if seen {
				return nil, ErrDuplicateMessage
			}
		}
		if int64(env.Now) < u.LastNow || int64(env.Now) < u.StartTime {
			return nil, fmt.Errorf("%w: now=%d last=%d", ErrStaleClock, env.Now, u.LastNow)
		}
		u.LastNow = int64(env.Now)

		from = u.Status
		unit, err := s.loadUnit(unitAddr, u)
		if err != nil {
			return nil, err
		}
		deal = unit.Deal

		balance, err := ton.ParseNano(u.BalanceNano)
		if err != nil {
			return nil, err
		}
		balance.Add(balance, env.Value)

		opName = inboundOpName(unit, env)
		in := s.inboundLog(raw, env, opName)

		res, handleErr = escrow.Handle(unit, escrow.Inbound{
			Sender:  env.Sender,
			Value:   env.Value,
			Now:     env.Now,
			Body:    env.Body,
			Bounced: env.Bounced,
		})

		var left *big.Int
		if handleErr == nil {
			left, handleErr = escrow.ResolveValues(balance, env.Value, res.Outbound)
		}

		if handleErr != nil {
			in.ExitCode = escrow.ExitCode(handleErr)
			logs := []models.MessageLog{in}
			if env.Bounce && !env.Bounced {
				// the transport sends the value back minus fees we do not model
				logs = append(logs, bounceLog(raw, env))
			} else {
				u.BalanceNano = balance.String()
			}
			return logs, nil
		}

		unit.Apply(res)
		if unit.Status() != escrow.Status(from) && !models.IsValidTransition(from, string(unit.Status())) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, from, unit.Status())
		}

		storage, err := escrow.EncodeDealBOC(unit.Deal)
		if err != nil {
			return nil, fmt.Errorf("encode storage: %w", err)
		}
		deal = unit.Deal
		u.StorageBOC = storage
		u.Status = string(unit.Status())
		u.BalanceNano = left.String()
		u.StartTime = int64(unit.Deal.StartTime)
		if unit.Deal.StartTime != 0 {
			u.Deadline = int64(unit.Deal.Deadline())
		}

		outLogs = s.outboundLogs(raw, res.Outbound)
		return append([]models.MessageLog{in}, outLogs...), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return nil, ErrUnitNotFound
		case errors.Is(err, repositories.ErrDuplicateTx):
			return nil, ErrDuplicateMessage
		}
		return nil, err
	}

	exitCode := escrow.ExitCode(handleErr)
	s.metrics.MessageHandled(opName, exitCode)
	s.metrics.ObserveDelivery(env.Source, time.Since(start))

	view, err := newDealView(row, unitAddr, deal)
	if err != nil {
		return nil, err
	}
	d := &Delivery{Unit: view, Op: opName, ExitCode: exitCode, Outbound: outLogs}

	if handleErr != nil {
		s.log.Info("message rejected",
			zap.String("unit", raw),
			zap.String("op", opName),
			zap.Int("exit_code", exitCode),
			zap.Error(handleErr),
		)
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventMessageRejected,
			Payload: map[string]any{
				"unit":      raw,
				"op":        opName,
				"exit_code": exitCode,
				"sender":    ton.RawAddress(env.Sender),
				"parties":   []string{ton.RawAddress(env.Sender)},
			},
		})
		return d, handleErr
	}

	if res.Returned {
		d.Returned = true
		d.Reason = res.Reason.Error()
		s.log.Info("jettons returned to sender",
			zap.String("unit", raw),
			zap.Int("reason_code", escrow.ExitCode(res.Reason)),
			zap.Error(res.Reason),
		)
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventJettonsReturned,
			Payload: map[string]any{
				"unit":    raw,
				"reason":  res.Reason.Error(),
				"parties": parties(deal),
			},
		})
	}

	if row.Status != from {
		s.metrics.Transition(from, row.Status)
		s.log.Info("unit status changed",
			zap.String("unit", raw),
			zap.String("from", from),
			zap.String("to", row.Status),
			zap.String("source", env.Source),
		)
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventUnitStatusChanged,
			Payload: map[string]any{
				"unit":        raw,
				"deal_id":     row.DealID,
				"from_status": from,
				"to_status":   row.Status,
				"parties":     parties(deal),
			},
		})
	}

	return d, nil
}

// GetDeal returns the stored deal of a unit. Resolved units keep their last
// storage, so the accessor stays valid after resolution.
func (s *SettlementService) GetDeal(ctx context.Context, unitAddr *address.Address) (*DealView, error) {
	row, err := s.units.GetByAddress(ctx, ton.RawAddress(unitAddr))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUnitNotFound
		}
		return nil, err
	}
	deal, err := escrow.DecodeDealBOC(row.StorageBOC)
	if err != nil {
		return nil, err
	}
	return newDealView(row, unitAddr, deal)
}

func (s *SettlementService) ListMessages(ctx context.Context, unitAddr *address.Address, limit, offset int) ([]models.MessageLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.messages.ListByUnit(ctx, ton.RawAddress(unitAddr), limit, offset)
}

// ExpiredFunded returns funded units whose confirmation window closed before
// now. Their buyers may refund.
func (s *SettlementService) ExpiredFunded(ctx context.Context, now time.Time, limit int) ([]models.Unit, error) {
	return s.units.ListByStatusBefore(ctx, models.UnitStatusFunded, now.Unix(), limit)
}

// AnnounceRefund publishes that the buyer of a unit can refund.
func (s *SettlementService) AnnounceRefund(ctx context.Context, u models.Unit) error {
	deal, err := escrow.DecodeDealBOC(u.StorageBOC)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventRefundAvailable,
		Payload: map[string]any{
			"unit":     u.Address,
			"deal_id":  u.DealID,
			"deadline": u.Deadline,
			"parties":  []string{ton.RawAddress(deal.Buyer)},
		},
	})
}

func (s *SettlementService) loadUnit(addr *address.Address, row *models.Unit) (*escrow.Unit, error) {
	deal, err := escrow.DecodeDealBOC(row.StorageBOC)
	if err != nil {
		return nil, err
	}
	unit := escrow.NewUnit(addr, deal, s.cfg.Token)
	if models.IsTerminalStatus(row.Status) {
		unit.Resolution = escrow.Status(row.Status)
	}
	return unit, nil
}

func (s *SettlementService) inboundLog(unit string, env Envelope, op string) models.MessageLog {
	in := models.MessageLog{
		UnitAddress: unit,
		Direction:   models.DirectionIn,
		OpName:      op,
		Source:      ton.RawAddress(env.Sender),
		Destination: unit,
		ValueNano:   env.Value.String(),
	}
	if env.Body != nil {
		in.Op, _ = escrow.PeekOp(env.Body)
		in.BodyBOC = env.Body.ToBOC()
		if msg, err := escrow.DecodeMessage(env.Body); err == nil {
			in.QueryID = msg.QueryID
		}
	}
	if env.TxHash != "" {
		h := env.TxHash
		in.TxHash = &h
	}
	return in
}

func (s *SettlementService) outboundLogs(unit string, outs []escrow.OutMessage) []models.MessageLog {
	logs := make([]models.MessageLog, 0, len(outs))
	for _, m := range outs {
		l := models.MessageLog{
			UnitAddress: unit,
			Direction:   models.DirectionOut,
			Op:          m.Op(),
			OpName:      escrow.OpName(m.Op()),
			Source:      unit,
			Destination: ton.RawAddress(m.Dest),
			ValueNano:   m.Value.String(),
			SendMode:    m.Mode,
		}
		if m.Body != nil {
			l.BodyBOC = m.Body.ToBOC()
			if msg, err := escrow.DecodeMessage(m.Body); err == nil {
				l.QueryID = msg.QueryID
			}
		}
		logs = append(logs, l)
	}
	return logs
}

func bounceLog(unit string, env Envelope) models.MessageLog {
	body := escrow.BounceBody(env.Body)
	return models.MessageLog{
		UnitAddress: unit,
		Direction:   models.DirectionOut,
		Op:          escrow.OpBounced,
		OpName:      escrow.OpName(escrow.OpBounced),
		Source:      unit,
		Destination: ton.RawAddress(env.Sender),
		ValueNano:   env.Value.String(),
		BodyBOC:     body.ToBOC(),
	}
}

func inboundOpName(u *escrow.Unit, env Envelope) string {
	switch {
	case env.Bounced:
		return "bounced"
	case u.Status() == escrow.StatusUninitialized:
		return "deploy"
	case env.Body == nil || (env.Body.BitsSize() == 0 && env.Body.RefsNum() == 0):
		return "top_up"
	}
	op, ok := escrow.PeekOp(env.Body)
	if !ok {
		return "malformed"
	}
	return escrow.OpName(op)
}

func parties(d *escrow.Deal) []string {
	if d == nil {
		return nil
	}
	return []string{ton.RawAddress(d.Buyer), ton.RawAddress(d.Seller), ton.RawAddress(d.Guarantor)}
}
