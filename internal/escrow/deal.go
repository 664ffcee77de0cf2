package escrow

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
)

// Unit statuses. The first three are derived from the stored deal, the
// terminal ones are kept next to it as a tombstone.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusAwaitingFunds Status = "awaiting_funds"
	StatusFunded        Status = "funded"
	StatusSettled       Status = "settled"
	StatusRejected      Status = "rejected"
	StatusRefunded      Status = "refunded"
)

func (s Status) IsTerminal() bool {
	return s == StatusSettled || s == StatusRejected || s == StatusRefunded
}

const (
	MaxGuarantorFeeBps = 1<<10 - 1
	BpsDenominator     = 10000

	// coins are VarUInteger 16: at most 15 bytes of value
	maxCoinsBits = 120
)

// Deal is the persistent state of one escrow unit.
type Deal struct {
	Initialized          bool
	UsesToken            bool
	DealID               uint64
	StartTime            uint32
	ConfirmationDuration uint32
	NeededAmount         *big.Int
	Buyer                *address.Address
	Seller               *address.Address
	Guarantor            *address.Address
	GuarantorFeeBps      uint16
	TokenSubaccount      *address.Address
}

// Terms are the immutable parameters a unit is created with.
type Terms struct {
	DealID               uint64
	UsesToken            bool
	ConfirmationDuration uint32
	Buyer                *address.Address
	Seller               *address.Address
	Guarantor            *address.Address
	GuarantorFeeBps      uint16
}

// NewDeal returns the initial, not yet deployed state for the given terms.
func NewDeal(t Terms) (*Deal, error) {
	d := &Deal{
		UsesToken:            t.UsesToken,
		DealID:               t.DealID,
		ConfirmationDuration: t.ConfirmationDuration,
		NeededAmount:         big.NewInt(0),
		Buyer:                t.Buyer,
		Seller:               t.Seller,
		Guarantor:            t.Guarantor,
		GuarantorFeeBps:      t.GuarantorFeeBps,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks that the deal fits the storage layout.
func (d *Deal) Validate() error {
	if d.Buyer == nil || d.Seller == nil || d.Guarantor == nil {
		return fmt.Errorf("%w: buyer, seller and guarantor are required", ErrInvalidDeal)
	}
	if d.GuarantorFeeBps > MaxGuarantorFeeBps {
		return fmt.Errorf("%w: guarantor fee %d bps does not fit 10 bits", ErrInvalidDeal, d.GuarantorFeeBps)
	}
	if err := validCoins(d.NeededAmount); err != nil {
		return fmt.Errorf("%w: needed amount: %v", ErrInvalidDeal, err)
	}
	if !d.UsesToken && d.TokenSubaccount != nil {
		return fmt.Errorf("%w: token subaccount set on a native deal", ErrInvalidDeal)
	}
	return nil
}

// Status derives the lifecycle position from the stored fields. It never
// reports a terminal status, see Unit.Status.
func (d *Deal) Status() Status {
	switch {
	case !d.Initialized:
		return StatusUninitialized
	case d.StartTime == 0:
		return StatusAwaitingFunds
	default:
		return StatusFunded
	}
}

// Deadline is the last second at which the guarantor may still decide.
func (d *Deal) Deadline() uint64 {
	return uint64(d.StartTime) + uint64(d.ConfirmationDuration)
}

// DeadlinePassed reports whether now is strictly after the deadline.
func (d *Deal) DeadlinePassed(now uint32) bool {
	return uint64(now) > d.Deadline()
}

func (d *Deal) Clone() *Deal {
	c := *d
	if d.NeededAmount != nil {
		c.NeededAmount = new(big.Int).Set(d.NeededAmount)
	}
	return &c
}

// Unit is a deployed escrow: its address, its deal, the asset capability
// chosen once for it, and the terminal resolution once reached.
type Unit struct {
	Address    *address.Address
	Deal       *Deal
	Asset      Asset
	Resolution Status
}

func NewUnit(addr *address.Address, d *Deal, opts TokenOptions) *Unit {
	return &Unit{
		Address: addr,
		Deal:    d,
		Asset:   AssetFor(d, opts),
	}
}

func (u *Unit) Status() Status {
	if u.Resolution != "" {
		return u.Resolution
	}
	return u.Deal.Status()
}

// Apply commits a successful Handle result.
func (u *Unit) Apply(res *Result) {
	u.Deal = res.Deal
	if res.Status.IsTerminal() {
		u.Resolution = res.Status
	}
}

func validCoins(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("amount is required")
	}
	if v.Sign() < 0 {
		return fmt.Errorf("amount is negative")
	}
	if v.BitLen() > maxCoinsBits {
		return fmt.Errorf("amount does not fit coins")
	}
	return nil
}
