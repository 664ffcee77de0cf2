package escrow

import (
	"fmt"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

// EncodeDeal writes the storage cell:
//
//	init:1 uses_token:1 deal_id:64 start_time:32 confirmation_duration:32
//	needed_amount:Coins buyer:MsgAddress seller:MsgAddress guarantor:MsgAddress
//	guarantor_fee_bps:10 ^[token_subaccount:MsgAddress]
func EncodeDeal(d *Deal) (*cell.Cell, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	b := cell.BeginCell().
		MustStoreBoolBit(d.Initialized).
		MustStoreBoolBit(d.UsesToken).
		MustStoreUInt(d.DealID, 64).
		MustStoreUInt(uint64(d.StartTime), 32).
		MustStoreUInt(uint64(d.ConfirmationDuration), 32)
	if err := b.StoreBigCoins(d.NeededAmount); err != nil {
		return nil, fmt.Errorf("needed amount: %w", err)
	}
	if err := b.StoreAddr(d.Buyer); err != nil {
		return nil, fmt.Errorf("buyer: %w", err)
	}
	if err := b.StoreAddr(d.Seller); err != nil {
		return nil, fmt.Errorf("seller: %w", err)
	}
	if err := b.StoreAddr(d.Guarantor); err != nil {
		return nil, fmt.Errorf("guarantor: %w", err)
	}
	b.MustStoreUInt(uint64(d.GuarantorFeeBps), 10)

	// nil is stored as addr_none (tag 00)
	sub := cell.BeginCell()
	if err := sub.StoreAddr(d.TokenSubaccount); err != nil {
		return nil, fmt.Errorf("token subaccount: %w", err)
	}
	if err := b.StoreRef(sub.EndCell()); err != nil {
		return nil, fmt.Errorf("token subaccount ref: %w", err)
	}
	return b.EndCell(), nil
}

// DecodeDeal is the inverse of EncodeDeal.
func DecodeDeal(c *cell.Cell) (*Deal, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil cell", ErrMalformedStorage)
	}
	s := c.BeginParse()
	d := &Deal{}

	var err error
	fail := func(field string, err error) (*Deal, error) {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedStorage, field, err)
	}

	if d.Initialized, err = s.LoadBoolBit(); err != nil {
		return fail("init", err)
	}
	if d.UsesToken, err = s.LoadBoolBit(); err != nil {
		return fail("uses_token", err)
	}
	if d.DealID, err = s.LoadUInt(64); err != nil {
		return fail("deal_id", err)
	}
	v, err := s.LoadUInt(32)
	if err != nil {
		return fail("start_time", err)
	}
	d.StartTime = uint32(v)
	if v, err = s.LoadUInt(32); err != nil {
		return fail("confirmation_duration", err)
	}
	d.ConfirmationDuration = uint32(v)
	if d.NeededAmount, err = s.LoadBigCoins(); err != nil {
		return fail("needed_amount", err)
	}
	if d.Buyer, err = s.LoadAddr(); err != nil {
		return fail("buyer", err)
	}
	if d.Seller, err = s.LoadAddr(); err != nil {
		return fail("seller", err)
	}
	if d.Guarantor, err = s.LoadAddr(); err != nil {
		return fail("guarantor", err)
	}
	if v, err = s.LoadUInt(10); err != nil {
		return fail("guarantor_fee_bps", err)
	}
	d.GuarantorFeeBps = uint16(v)

	ref, err := s.LoadRef()
	if err != nil {
		return fail("token_subaccount", err)
	}
	sub, err := ref.LoadAddr()
	if err != nil {
		return fail("token_subaccount", err)
	}
	d.TokenSubaccount = orNil(sub)
	d.Buyer, d.Seller, d.Guarantor = orNil(d.Buyer), orNil(d.Seller), orNil(d.Guarantor)
	return d, nil
}

// EncodeDealBOC serializes the storage cell to a bag of cells.
func EncodeDealBOC(d *Deal) ([]byte, error) {
	c, err := EncodeDeal(d)
	if err != nil {
		return nil, err
	}
	return c.ToBOC(), nil
}

func DecodeDealBOC(boc []byte) (*Deal, error) {
	c, err := cell.FromBOC(boc)
	if err != nil {
		return nil, fmt.Errorf("%w: boc: %v", ErrMalformedStorage, err)
	}
	return DecodeDeal(c)
}
