package services

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ads-marketplace/escrow/internal/escrow"
	"github.com/ads-marketplace/escrow/internal/events"
	"github.com/ads-marketplace/escrow/internal/models"
	"github.com/ads-marketplace/escrow/internal/ton"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"go.uber.org/zap"
)

const t0 uint32 = 1800000000

func testAddr(seed byte) *address.Address {
	data := make([]byte, 32)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return address.NewAddress(0, 0, data)
}

func nano(s string) *big.Int {
	return tlb.MustFromTON(s).Nano()
}

var (
	buyer     = testAddr(1)
	seller    = testAddr(40)
	guarantor = testAddr(80)
	wallet    = testAddr(160)
	stranger  = testAddr(200)
)

type fixture struct {
	svc   *SettlementService
	store *memStore
	pub   *recordingPublisher
}

func newFixture(t *testing.T, token escrow.TokenOptions) *fixture {
	t.Helper()
	store := newMemStore()
	pub := &recordingPublisher{}
	svc := NewSettlementService(store, store, pub, nil, SettlementConfig{Token: token}, zap.NewNop())
	return &fixture{svc: svc, store: store, pub: pub}
}

func (f *fixture) create(t *testing.T, usesToken bool) *address.Address {
	t.Helper()
	view, err := f.svc.CreateUnit(context.Background(), CreateUnitParams{
		DealID:               42,
		UsesToken:            usesToken,
		ConfirmationDuration: 3600,
		Buyer:                buyer,
		Seller:               seller,
		Guarantor:            guarantor,
		GuarantorFeeBps:      250,
	})
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusUninitialized, view.Status)

	addr, err := ton.ParseAnyAddress(view.RawAddress)
	require.NoError(t, err)
	return addr
}

func (f *fixture) deploy(t *testing.T, unit *address.Address, subaccount *address.Address) {
	t.Helper()
	body, err := escrow.EncodeDeploy(escrow.DeployBody{NeededAmount: nano("10"), TokenSubaccount: subaccount})
	require.NoError(t, err)
	d, err := f.svc.Deliver(context.Background(), unit, Envelope{
		Sender: seller, Value: nano("0.05"), Now: t0, Body: body, Source: SourceAPI,
	})
	require.NoError(t, err)
	require.Equal(t, models.UnitStatusAwaitingFunds, d.Unit.Status)
}

func (f *fixture) fund(t *testing.T, unit *address.Address) {
	t.Helper()
	d, err := f.svc.Deliver(context.Background(), unit, Envelope{
		Sender: buyer, Value: nano("10"), Now: t0 + 10, Body: escrow.EncodeHeader(escrow.OpDeposit, 1),
	})
	require.NoError(t, err)
	require.Equal(t, models.UnitStatusFunded, d.Unit.Status)
}

func TestSettlementService_CreateUnit(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	unit := f.create(t, false)

	view, err := f.svc.GetDeal(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, "42", view.DealID)
	assert.Equal(t, buyer.String(), view.Buyer)
	assert.False(t, view.Initialized)
	assert.Nil(t, view.Deadline)

	// same terms, same StateInit, same address
	_, err = f.svc.CreateUnit(context.Background(), CreateUnitParams{
		DealID: 42, ConfirmationDuration: 3600,
		Buyer: buyer, Seller: seller, Guarantor: guarantor, GuarantorFeeBps: 250,
	})
	assert.ErrorIs(t, err, ErrUnitExists)

	_, err = f.svc.CreateUnit(context.Background(), CreateUnitParams{
		DealID: 43, Buyer: buyer, Seller: seller, Guarantor: guarantor, GuarantorFeeBps: 1024,
	})
	assert.ErrorIs(t, err, escrow.ErrInvalidDeal)

	assert.Equal(t, []string{events.EventUnitCreated}, f.pub.types())
}

func TestSettlementService_ConfirmFlow(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	unit := f.create(t, false)
	f.deploy(t, unit, nil)
	f.fund(t, unit)

	view, err := f.svc.GetDeal(ctx, unit)
	require.NoError(t, err)
	assert.Equal(t, "10050000000", view.Balance)
	assert.Equal(t, "10.05", view.BalanceTON)
	require.NotNil(t, view.Deadline)
	assert.Equal(t, int64(t0+10+3600), view.Deadline.Unix())

	d, err := f.svc.Deliver(ctx, unit, Envelope{
		Sender: guarantor, Value: nano("0.1"), Now: t0 + 100, Body: escrow.EncodeHeader(escrow.OpConfirmDeal, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusSettled, d.Unit.Status)
	assert.Equal(t, "0", d.Unit.Balance)

	require.Len(t, d.Outbound, 3)
	assert.Equal(t, nano("9.75").String(), d.Outbound[0].ValueNano)
	assert.Equal(t, ton.RawAddress(seller), d.Outbound[0].Destination)
	assert.Equal(t, "deal_succeeded_seller_notification", d.Outbound[0].OpName)
	assert.Equal(t, nano("0.25").String(), d.Outbound[1].ValueNano)
	assert.Equal(t, ton.RawAddress(guarantor), d.Outbound[1].Destination)
	assert.Equal(t, nano("0.15").String(), d.Outbound[2].ValueNano)
	assert.Equal(t, uint8(escrow.SendModeCarryAll|escrow.SendModeDestroy), d.Outbound[2].SendMode)
	assert.Equal(t, uint64(2), d.Outbound[2].QueryID)

	// resolved units keep their deal readable and reject further commands
	view, err = f.svc.GetDeal(ctx, unit)
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusSettled, view.Status)
	assert.Equal(t, "10000000000", view.NeededAmount)

	_, err = f.svc.Deliver(ctx, unit, Envelope{
		Sender: guarantor, Value: nano("0.1"), Now: t0 + 200, Body: escrow.EncodeHeader(escrow.OpRejectDeal, 3),
	})
	assert.ErrorIs(t, err, escrow.ErrWrongState)

	assert.Equal(t, []string{
		events.EventUnitCreated,
		events.EventUnitStatusChanged,
		events.EventUnitStatusChanged,
		events.EventUnitStatusChanged,
		events.EventMessageRejected,
	}, f.pub.types())
}

func TestSettlementService_RejectedMessage(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	unit := f.create(t, false)
	f.deploy(t, unit, nil)

	body := escrow.EncodeHeader(escrow.OpDeposit, 9)
	d, err := f.svc.Deliver(ctx, unit, Envelope{
		Sender: stranger, Value: nano("10"), Now: t0 + 5, Body: body, Bounce: true,
	})
	require.ErrorIs(t, err, escrow.ErrWrongSender)
	require.NotNil(t, d)
	assert.Equal(t, escrow.ExitWrongSender, d.ExitCode)
	assert.Equal(t, models.UnitStatusAwaitingFunds, d.Unit.Status)
	assert.Equal(t, "50000000", d.Unit.Balance, "bounced value is not kept")

	logs, err := f.svc.ListMessages(ctx, unit, 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	in, bounce := logs[1], logs[2]
	assert.Equal(t, models.DirectionIn, in.Direction)
	assert.Equal(t, escrow.ExitWrongSender, in.ExitCode)
	assert.Equal(t, uint64(9), in.QueryID)
	assert.Equal(t, models.DirectionOut, bounce.Direction)
	assert.Equal(t, escrow.OpBounced, bounce.Op)
	assert.Equal(t, ton.RawAddress(stranger), bounce.Destination)

	// non-bounceable value stays with the unit
	d, err = f.svc.Deliver(ctx, unit, Envelope{
		Sender: buyer, Value: nano("1"), Now: t0 + 6, Body: body,
	})
	require.ErrorIs(t, err, escrow.ErrInsufficientAmount)
	assert.Equal(t, "1050000000", d.Unit.Balance)
}

func TestSettlementService_Refund(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	unit := f.create(t, false)
	f.deploy(t, unit, nil)
	f.fund(t, unit)

	deadline := time.Unix(int64(t0+10+3600), 0)

	expired, err := f.svc.ExpiredFunded(ctx, deadline, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = f.svc.ExpiredFunded(ctx, deadline.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.NoError(t, f.svc.AnnounceRefund(ctx, expired[0]))

	refund := escrow.EncodeHeader(escrow.OpRefund, 5)
	_, err = f.svc.Deliver(ctx, unit, Envelope{Sender: buyer, Value: nano("0.1"), Now: t0 + 10 + 3600, Body: refund})
	assert.ErrorIs(t, err, escrow.ErrDeadlineNotComeYet)

	d, err := f.svc.Deliver(ctx, unit, Envelope{Sender: buyer, Value: nano("0.1"), Now: t0 + 10 + 3601, Body: refund})
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusRefunded, d.Unit.Status)
	require.Len(t, d.Outbound, 2)
	assert.Equal(t, nano("10").String(), d.Outbound[0].ValueNano)
	assert.Equal(t, ton.RawAddress(buyer), d.Outbound[0].Destination)
	assert.Equal(t, nano("0.15").String(), d.Outbound[1].ValueNano)
	assert.Contains(t, f.pub.types(), events.EventRefundAvailable)
}

func TestSettlementService_TokenReturn(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	unit := f.create(t, true)
	f.deploy(t, unit, wallet)

	notify := func(from *address.Address, amount string) Envelope {
		body, err := escrow.EncodeTransferNotification(escrow.TransferNotification{
			QueryID: 11, Amount: nano(amount), Sender: buyer,
		})
		require.NoError(t, err)
		return Envelope{Sender: from, Value: nano("0.05"), Now: t0 + 20, Body: body}
	}

	// notification from a foreign jetton wallet is sent back
	d, err := f.svc.Deliver(ctx, unit, notify(stranger, "10"))
	require.NoError(t, err)
	assert.True(t, d.Returned)
	assert.Equal(t, models.UnitStatusAwaitingFunds, d.Unit.Status)
	require.Len(t, d.Outbound, 1)
	assert.Equal(t, ton.RawAddress(stranger), d.Outbound[0].Destination)
	assert.Equal(t, "transfer", d.Outbound[0].OpName)
	assert.Equal(t, nano("0.05").String(), d.Outbound[0].ValueNano)
	assert.Equal(t, "50000000", d.Unit.Balance)
	assert.Contains(t, f.pub.types(), events.EventJettonsReturned)

	// native deposit is refused
	_, err = f.svc.Deliver(ctx, unit, Envelope{
		Sender: buyer, Value: nano("10"), Now: t0 + 21, Body: escrow.EncodeHeader(escrow.OpDeposit, 1),
	})
	assert.ErrorIs(t, err, escrow.ErrJettonPaymentRequired)

	d, err = f.svc.Deliver(ctx, unit, notify(wallet, "10"))
	require.NoError(t, err)
	assert.False(t, d.Returned)
	assert.Equal(t, models.UnitStatusFunded, d.Unit.Status)
}

// importChainUnit registers an undeployed on-chain unit, as the indexer does.
func (f *fixture) importChainUnit(t *testing.T) *address.Address {
	t.Helper()
	deal, err := escrow.NewDeal(escrow.Terms{
		DealID: 43, ConfirmationDuration: 3600, Buyer: buyer, Seller: seller, Guarantor: guarantor, GuarantorFeeBps: 250,
	})
	require.NoError(t, err)
	data, err := escrow.EncodeDeal(deal)
	require.NoError(t, err)

	unit := testAddr(240)
	view, err := f.svc.ImportUnit(context.Background(), unit, data, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusUninitialized, view.Status)
	return unit
}

func TestSettlementService_Deduplicates(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	unit := f.importChainUnit(t)

	body, err := escrow.EncodeDeploy(escrow.DeployBody{NeededAmount: nano("1")})
	require.NoError(t, err)
	env := Envelope{Sender: seller, Value: nano("0.05"), Now: t0, Body: body, TxHash: "aabb", Source: SourceIndexer}

	_, err = f.svc.Deliver(ctx, unit, env)
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, unit, env)
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	// a later transaction moves the clock; replaying the old one is still a duplicate
	_, err = f.svc.Deliver(ctx, unit, Envelope{
		Sender: stranger, Value: nano("1"), Now: t0 + 50, Body: escrow.EncodeHeader(escrow.OpDeposit, 1), TxHash: "aabc", Source: SourceIndexer,
	})
	require.ErrorIs(t, err, escrow.ErrWrongSender)
	_, err = f.svc.Deliver(ctx, unit, env)
	assert.ErrorIs(t, err, ErrDuplicateMessage)

	_, err = f.svc.Deliver(ctx, stranger, Envelope{Sender: seller, Body: body})
	assert.ErrorIs(t, err, ErrUnitNotFound)
}

func TestSettlementService_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	unit := f.importChainUnit(t)

	body, err := escrow.EncodeDeploy(escrow.DeployBody{NeededAmount: nano("1")})
	require.NoError(t, err)
	env := Envelope{Sender: seller, Value: nano("0.05"), Now: t0, Body: body, TxHash: "ccdd", Source: SourceIndexer}

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Deliver(context.Background(), unit, env)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	applied := 0
	for err := range errs {
		if err == nil {
			applied++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateMessage)
	}
	assert.Equal(t, 1, applied)

	logs, err := f.svc.ListMessages(context.Background(), unit, 0, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestSettlementService_ClockNeverGoesBack(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	unit := f.create(t, false)
	f.deploy(t, unit, nil)
	f.fund(t, unit) // now = t0+10

	confirm := escrow.EncodeHeader(escrow.OpConfirmDeal, 2)
	refund := escrow.EncodeHeader(escrow.OpRefund, 3)

	tests := []struct {
		name string
		env  Envelope
	}{
		{"confirm before start time", Envelope{Sender: guarantor, Value: nano("0.1"), Now: 5, Body: confirm}},
		{"confirm one second back", Envelope{Sender: guarantor, Value: nano("0.1"), Now: t0 + 9, Body: confirm}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.svc.Deliver(ctx, unit, tt.env)
			require.ErrorIs(t, err, ErrStaleClock)
			assert.Nil(t, d)

			view, err := f.svc.GetDeal(ctx, unit)
			require.NoError(t, err)
			assert.Equal(t, models.UnitStatusFunded, view.Status)
			assert.Equal(t, "10050000000", view.Balance)
		})
	}

	// after the window closed nothing can be confirmed with an earlier time
	_, err := f.svc.Deliver(ctx, unit, Envelope{Sender: buyer, Value: nano("0.1"), Now: t0 + 10 + 3601, Body: refund})
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, unit, Envelope{Sender: guarantor, Value: nano("0.1"), Now: t0 + 100, Body: confirm})
	assert.ErrorIs(t, err, ErrStaleClock)

	row, err := f.store.GetByAddress(ctx, ton.RawAddress(unit))
	require.NoError(t, err)
	assert.Equal(t, int64(t0+10+3601), row.LastNow)
	assert.Equal(t, models.UnitStatusRefunded, row.Status)
}

func TestSettlementService_ServerClock(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	unit := f.create(t, false)

	body, err := escrow.EncodeDeploy(escrow.DeployBody{NeededAmount: nano("1")})
	require.NoError(t, err)
	before := time.Now().Unix()
	_, err = f.svc.Deliver(ctx, unit, Envelope{Sender: seller, Value: nano("0.05"), Body: body, Source: SourceAPI})
	require.NoError(t, err)

	row, err := f.store.GetByAddress(ctx, ton.RawAddress(unit))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, row.LastNow, before)
	assert.LessOrEqual(t, row.LastNow, time.Now().Unix())
}

func TestSettlementService_Custody(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	simulated := f.create(t, false)
	chain := f.importChainUnit(t)

	body, err := escrow.EncodeDeploy(escrow.DeployBody{NeededAmount: nano("1")})
	require.NoError(t, err)

	tests := []struct {
		name   string
		unit   *address.Address
		source string
	}{
		{"indexer on api unit", simulated, SourceIndexer},
		{"api on chain unit", chain, SourceAPI},
		{"unnamed source on chain unit", chain, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Deliver(ctx, tt.unit, Envelope{Sender: seller, Value: nano("0.05"), Now: t0, Body: body, Source: tt.source})
			assert.ErrorIs(t, err, ErrCustodyMismatch)
		})
	}

	// the chain cannot take over a unit created through the api
	view, err := f.svc.GetDeal(ctx, simulated)
	require.NoError(t, err)
	raw, err := escrow.DecodeDealBOC(mustStorage(t, f, simulated))
	require.NoError(t, err)
	data, err := escrow.EncodeDeal(raw)
	require.NoError(t, err)
	_, err = f.svc.ImportUnit(ctx, simulated, data, big.NewInt(0))
	assert.ErrorIs(t, err, ErrCustodyMismatch)
	assert.Equal(t, models.UnitStatusUninitialized, view.Status)

	// importing a chain unit again is a no-op
	again, err := f.svc.ImportUnit(ctx, chain, data, big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, "43", again.DealID)
}

func mustStorage(t *testing.T, f *fixture, unit *address.Address) []byte {
	t.Helper()
	row, err := f.store.GetByAddress(context.Background(), ton.RawAddress(unit))
	require.NoError(t, err)
	return row.StorageBOC
}

func TestSettlementService_BouncedNotificationIgnored(t *testing.T) {
	f := newFixture(t, escrow.TokenOptions{})
	ctx := context.Background()
	unit := f.create(t, false)
	f.deploy(t, unit, nil)

	d, err := f.svc.Deliver(ctx, unit, Envelope{
		Sender:  guarantor,
		Value:   nano("0.01"),
		Now:     t0 + 1,
		Body:    escrow.BounceBody(escrow.EncodeHeader(escrow.OpDealFailedGuarantorNotification, 1)),
		Bounced: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "bounced", d.Op)
	assert.Equal(t, models.UnitStatusAwaitingFunds, d.Unit.Status)
	assert.Equal(t, "60000000", d.Unit.Balance)
}
