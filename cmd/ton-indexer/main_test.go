package main

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ads-marketplace/escrow/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

var (
	unit   = address.NewAddress(0, 0, make([]byte, 32))
	sender = address.NewAddress(0, 0, append([]byte{1}, make([]byte, 31)...))
)

type chain struct {
	txs []*tlb.Transaction
}

func (c *chain) add(in *tlb.InternalMessage) {
	lt := uint64(len(c.txs) + 1)
	tx := &tlb.Transaction{LT: lt, Now: uint32(1800000000 + lt), Hash: []byte{byte(lt)}}
	if lt > 1 {
		tx.PrevTxLT = lt - 1
		tx.PrevTxHash = []byte{byte(lt - 1)}
	}
	if in != nil {
		tx.IO.In = &tlb.Message{MsgType: tlb.MsgTypeInternal, Msg: in}
	}
	c.txs = append(c.txs, tx)
}

func (c *chain) CurrentMasterchainInfo(context.Context) (*ton.BlockIDExt, error) {
	return &ton.BlockIDExt{}, nil
}

func (c *chain) GetAccount(context.Context, *ton.BlockIDExt, *address.Address) (*tlb.Account, error) {
	if len(c.txs) == 0 {
		return &tlb.Account{}, nil
	}
	last := c.txs[len(c.txs)-1]
	return &tlb.Account{IsActive: true, LastTxLT: last.LT, LastTxHash: last.Hash}, nil
}

func (c *chain) ListTransactions(_ context.Context, _ *address.Address, num uint32, lt uint64, _ []byte) ([]*tlb.Transaction, error) {
	end := int(lt)
	if end == 0 {
		return nil, ton.ErrNoTransactionsWereFound
	}
	start := end - int(num)
	if start < 0 {
		start = 0
	}
	return c.txs[start:end], nil
}

type memCursor struct {
	lt  uint64
	set bool
}

func (c *memCursor) Load(context.Context) (uint64, bool, error) { return c.lt, c.set, nil }

func (c *memCursor) Save(_ context.Context, lt uint64, _ []byte) error {
	c.lt, c.set = lt, true
	return nil
}

type fakeSettler struct {
	imported  *cell.Cell
	delivered []services.Envelope
	failAt    uint32 // Now of the envelope to fail with a transport error
}

func (s *fakeSettler) ImportUnit(_ context.Context, _ *address.Address, data *cell.Cell, _ *big.Int) (*services.DealView, error) {
	s.imported = data
	return &services.DealView{}, nil
}

func (s *fakeSettler) Deliver(_ context.Context, _ *address.Address, env services.Envelope) (*services.Delivery, error) {
	if s.imported == nil {
		return nil, services.ErrUnitNotFound
	}
	if env.Now == s.failAt {
		return nil, errors.New("connection reset")
	}
	s.delivered = append(s.delivered, env)
	return &services.Delivery{Op: "deposit", Unit: &services.DealView{Status: "funded"}}, nil
}

func transfer(body *cell.Cell) *tlb.InternalMessage {
	return &tlb.InternalMessage{
		Bounce:  true,
		SrcAddr: sender,
		DstAddr: unit,
		Amount:  tlb.MustFromTON("1.5"),
		Body:    body,
	}
}

func TestIndexer_InitAndPoll(t *testing.T) {
	c := &chain{}
	cur := &memCursor{}
	st := &fakeSettler{}
	ix := &indexer{api: c, unit: unit, settlement: st, cursor: cur, log: zap.NewNop()}
	ctx := context.Background()

	// account not deployed yet
	require.NoError(t, ix.init(ctx))
	assert.True(t, cur.set)
	assert.Equal(t, uint64(0), cur.lt)

	data := cell.BeginCell().MustStoreUInt(0xDA7A, 16).EndCell()
	deploy := transfer(cell.BeginCell().EndCell())
	deploy.StateInit = &tlb.StateInit{Code: cell.BeginCell().EndCell(), Data: data}
	c.add(deploy)
	c.add(&tlb.InternalMessage{SrcAddr: sender, DstAddr: unit, Amount: tlb.MustFromTON("0"), Body: cell.BeginCell().EndCell()})
	c.add(nil) // external / tick-tock, no internal inbound

	require.NoError(t, ix.poll(ctx))
	require.NotNil(t, st.imported)
	assert.Equal(t, data.Hash(), st.imported.Hash())
	require.Len(t, st.delivered, 2)
	assert.Equal(t, uint64(3), cur.lt)

	env := st.delivered[0]
	assert.True(t, env.Bounce)
	assert.Equal(t, "indexer", env.Source)
	assert.Equal(t, uint32(1800000001), env.Now)
	assert.Equal(t, "01", env.TxHash)
	assert.Equal(t, tlb.MustFromTON("1.5").Nano().String(), env.Value.String())

	// nothing new
	require.NoError(t, ix.poll(ctx))
	assert.Len(t, st.delivered, 2)
}

func TestIndexer_PollStopsOnFailure(t *testing.T) {
	c := &chain{}
	for i := 0; i < 3; i++ {
		c.add(transfer(nil))
	}
	cur := &memCursor{set: true}
	st := &fakeSettler{imported: cell.BeginCell().EndCell(), failAt: 1800000002}
	ix := &indexer{api: c, unit: unit, settlement: st, cursor: cur, log: zap.NewNop()}

	err := ix.poll(context.Background())
	require.Error(t, err)
	assert.Equal(t, uint64(1), cur.lt, "cursor stays before the failed transaction")
	assert.Len(t, st.delivered, 1)

	st.failAt = 0
	require.NoError(t, ix.poll(context.Background()))
	assert.Equal(t, uint64(3), cur.lt)
	assert.Len(t, st.delivered, 3)
}

func TestIndexer_ResumesFromCursor(t *testing.T) {
	c := &chain{}
	c.add(transfer(nil))
	cur := &memCursor{lt: 1, set: true}
	st := &fakeSettler{}
	ix := &indexer{api: c, unit: unit, settlement: st, cursor: cur, log: zap.NewNop()}

	require.NoError(t, ix.init(context.Background()))
	assert.Nil(t, st.imported)
	assert.Equal(t, uint64(1), cur.lt)
}
