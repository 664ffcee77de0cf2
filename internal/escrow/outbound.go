package escrow

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// TON send modes.
const (
	SendModeOrdinary          uint8 = 0
	SendModePayFeesSeparately uint8 = 1
	SendModeIgnoreErrors      uint8 = 2
	SendModeDestroy           uint8 = 32
	SendModeCarryInbound      uint8 = 64
	SendModeCarryAll          uint8 = 128
)

// OutMessage is one outbound internal message. Value is the fixed amount for
// ordinary modes and is filled in by ResolveValues for carry modes.
type OutMessage struct {
	Dest   *address.Address
	Value  *big.Int
	Mode   uint8
	Bounce bool
	Body   *cell.Cell
}

// Op returns the opcode of the body, 0 for an empty one.
func (m OutMessage) Op() uint32 {
	op, _ := PeekOp(m.Body)
	return op
}

func (m OutMessage) CarriesAll() bool     { return m.Mode&SendModeCarryAll != 0 }
func (m OutMessage) CarriesInbound() bool { return m.Mode&SendModeCarryInbound != 0 }
func (m OutMessage) Destroys() bool       { return m.Mode&SendModeDestroy != 0 }

func excesses(to *address.Address, queryID uint64) OutMessage {
	return OutMessage{
		Dest:  to,
		Value: big.NewInt(0),
		Mode:  SendModeCarryAll | SendModeDestroy,
		Body:  EncodeHeader(OpExcesses, queryID),
	}
}

// settleOutbound pays the seller and the guarantor and sends what is left to
// the seller.
func settleOutbound(a Asset, d *Deal, queryID uint64) ([]OutMessage, error) {
	payout, fee := a.FeeSplit(d.NeededAmount, d.GuarantorFeeBps)

	toSeller, err := a.Disburse(d, d.Seller, payout, EncodeHeader(OpDealSucceededSellerNotification, queryID), queryID)
	if err != nil {
		return nil, fmt.Errorf("seller payout: %w", err)
	}
	toGuarantor, err := a.Disburse(d, d.Guarantor, fee, EncodeHeader(OpDealSucceededGuarantorNotification, queryID), queryID)
	if err != nil {
		return nil, fmt.Errorf("guarantor fee: %w", err)
	}
	return []OutMessage{toSeller, toGuarantor, excesses(d.Seller, queryID)}, nil
}

// rejectOutbound returns the deposit to the buyer and notifies the other
// parties. The seller's notification carries the remaining balance.
func rejectOutbound(a Asset, d *Deal, queryID uint64) ([]OutMessage, error) {
	toBuyer, err := a.Disburse(d, d.Buyer, d.NeededAmount, EncodeHeader(OpDealFailedBuyerNotification, queryID), queryID)
	if err != nil {
		return nil, fmt.Errorf("buyer return: %w", err)
	}
	toGuarantor := a.Notify(d.Guarantor, EncodeHeader(OpDealFailedGuarantorNotification, queryID))
	toSeller := OutMessage{
		Dest:  d.Seller,
		Value: big.NewInt(0),
		Mode:  SendModeCarryAll | SendModeDestroy,
		Body:  EncodeHeader(OpDealFailedSellerNotification, queryID),
	}
	return []OutMessage{toBuyer, toGuarantor, toSeller}, nil
}

func refundOutbound(a Asset, d *Deal, queryID uint64) ([]OutMessage, error) {
	toBuyer, err := a.Disburse(d, d.Buyer, d.NeededAmount, EncodeHeader(OpRefundNotification, queryID), queryID)
	if err != nil {
		return nil, fmt.Errorf("buyer refund: %w", err)
	}
	return []OutMessage{toBuyer, excesses(d.Seller, queryID)}, nil
}

// ResolveValues turns send modes into concrete values against the unit
// balance, in order. balance already includes the inbound value. It returns
// the balance left after all messages; a carry-all message leaves zero.
// Gas and forwarding fees are not modelled.
func ResolveValues(balance, inValue *big.Int, outs []OutMessage) (*big.Int, error) {
	left := new(big.Int).Set(balance)
	for i := range outs {
		m := &outs[i]
		switch {
		case m.CarriesAll():
			m.Value = new(big.Int).Set(left)
		case m.CarriesInbound():
			v := new(big.Int).Set(inValue)
			if m.Value != nil {
				v.Add(v, m.Value)
			}
			m.Value = v
		case m.Value == nil:
			m.Value = big.NewInt(0)
		}
		left.Sub(left, m.Value)
		if left.Sign() < 0 {
			return nil, fmt.Errorf("%w: message %d to %s needs %s", ErrInsufficientBalance, i, m.Dest, m.Value)
		}
	}
	return left, nil
}
