package escrow

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Inbound opcodes.
const (
	OpDeposit              uint32 = 0xf9471134
	OpConfirmDeal          uint32 = 0x1dfc5e8f
	OpRejectDeal           uint32 = 0x7ae0bdec
	OpRefund               uint32 = 0xc135f40c
	OpTransferNotification uint32 = 0x7362d09c
)

// Jetton wallet protocol.
const (
	OpTransfer         uint32 = 0x0f8a7ea5
	OpInternalTransfer uint32 = 0x178d4519
	OpExcesses         uint32 = 0xd53276db
)

// Outbound notifications.
const (
	OpDealSucceededSellerNotification    uint32 = 0xcc4158fb
	OpDealSucceededGuarantorNotification uint32 = 0x28b554f5
	OpDealFailedGuarantorNotification    uint32 = 0x9d2e3bcd
	OpDealFailedSellerNotification       uint32 = 0xc07f109d
	OpDealFailedBuyerNotification        uint32 = 0x6b03123c
	OpRefundNotification                 uint32 = 0xf67efa32
)

// OpBounced prefixes the body of a bounced message.
const OpBounced uint32 = 0xffffffff

var opNames = map[uint32]string{
	OpDeposit:                            "deposit",
	OpConfirmDeal:                        "confirm_deal",
	OpRejectDeal:                         "reject_deal",
	OpRefund:                             "refund",
	OpTransferNotification:               "transfer_notification",
	OpTransfer:                           "transfer",
	OpInternalTransfer:                   "internal_transfer",
	OpExcesses:                           "excesses",
	OpDealSucceededSellerNotification:    "deal_succeeded_seller_notification",
	OpDealSucceededGuarantorNotification: "deal_succeeded_guarantor_notification",
	OpDealFailedGuarantorNotification:    "deal_failed_guarantor_notification",
	OpDealFailedSellerNotification:       "deal_failed_seller_notification",
	OpDealFailedBuyerNotification:        "deal_failed_buyer_notification",
	OpRefundNotification:                 "refund_notification",
	OpBounced:                            "bounced",
}

func OpName(op uint32) string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("0x%08x", op)
}

// Header is the op + query_id prefix every escrow message carries.
type Header struct {
	Op      uint32
	QueryID uint64
}

// EncodeHeader builds a body that consists of the header only. Commands and
// notifications have no payload.
func EncodeHeader(op uint32, queryID uint64) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(uint64(op), 32).
		MustStoreUInt(queryID, 64).
		EndCell()
}

func loadHeader(s *cell.Slice) (Header, error) {
	op, err := s.LoadUInt(32)
	if err != nil {
		return Header{}, fmt.Errorf("%w: op: %v", ErrMalformedMessage, err)
	}
	q, err := s.LoadUInt(64)
	if err != nil {
		return Header{}, fmt.Errorf("%w: query id: %v", ErrMalformedMessage, err)
	}
	return Header{Op: uint32(op), QueryID: q}, nil
}

// DeployBody is what the seller sends to an uninitialized unit. It has no
// header: coins needed_amount, then the escrow jetton wallet in token mode.
type DeployBody struct {
	NeededAmount    *big.Int
	TokenSubaccount *address.Address
}

func EncodeDeploy(b DeployBody) (*cell.Cell, error) {
	bc := cell.BeginCell()
	if err := bc.StoreBigCoins(b.NeededAmount); err != nil {
		return nil, fmt.Errorf("needed amount: %w", err)
	}
	if b.TokenSubaccount != nil {
		if err := bc.StoreAddr(b.TokenSubaccount); err != nil {
			return nil, fmt.Errorf("token subaccount: %w", err)
		}
	}
	return bc.EndCell(), nil
}

func DecodeDeploy(body *cell.Cell) (DeployBody, error) {
	if body == nil {
		return DeployBody{}, fmt.Errorf("%w: empty deploy body", ErrMalformedMessage)
	}
	s := body.BeginParse()
	amount, err := s.LoadBigCoins()
	if err != nil {
		return DeployBody{}, fmt.Errorf("%w: needed amount: %v", ErrMalformedMessage, err)
	}
	b := DeployBody{NeededAmount: amount}
	if s.BitsLeft() >= 2 {
		addr, err := s.LoadAddr()
		if err != nil {
			return DeployBody{}, fmt.Errorf("%w: token subaccount: %v", ErrMalformedMessage, err)
		}
		b.TokenSubaccount = orNil(addr)
	}
	return b, nil
}

// TransferNotification is sent by a jetton wallet to its owner after an
// incoming transfer:
// transfer_notification#7362d09c query_id:uint64 amount:Coins sender:MsgAddress
// forward_payload:(Either Cell ^Cell)
type TransferNotification struct {
	QueryID        uint64
	Amount         *big.Int
	Sender         *address.Address
	ForwardPayload *cell.Cell
}

func EncodeTransferNotification(n TransferNotification) (*cell.Cell, error) {
	b := cell.BeginCell().
		MustStoreUInt(uint64(OpTransferNotification), 32).
		MustStoreUInt(n.QueryID, 64)
	if err := b.StoreBigCoins(n.Amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if err := b.StoreAddr(n.Sender); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if err := storeEither(b, n.ForwardPayload); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func loadTransferNotification(s *cell.Slice, h Header) (*TransferNotification, error) {
	amount, err := s.LoadBigCoins()
	if err != nil {
		return nil, fmt.Errorf("%w: notification amount: %v", ErrMalformedMessage, err)
	}
	sender, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: notification sender: %v", ErrMalformedMessage, err)
	}
	payload, err := loadEither(s)
	if err != nil {
		return nil, err
	}
	return &TransferNotification{
		QueryID:        h.QueryID,
		Amount:         amount,
		Sender:         orNil(sender),
		ForwardPayload: payload,
	}, nil
}

// JettonTransfer is the owner -> own wallet instruction:
// transfer#0f8a7ea5 query_id:uint64 amount:Coins destination:MsgAddress
// response_destination:MsgAddress custom_payload:(Maybe ^Cell)
// forward_ton_amount:Coins forward_payload:(Either Cell ^Cell)
type JettonTransfer struct {
	QueryID             uint64
	Amount              *big.Int
	Destination         *address.Address
	ResponseDestination *address.Address
	CustomPayload       *cell.Cell
	ForwardTONAmount    *big.Int
	ForwardPayload      *cell.Cell
}

func EncodeJettonTransfer(t JettonTransfer) (*cell.Cell, error) {
	b := cell.BeginCell().
		MustStoreUInt(uint64(OpTransfer), 32).
		MustStoreUInt(t.QueryID, 64)
	if err := b.StoreBigCoins(t.Amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if err := b.StoreAddr(t.Destination); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if err := b.StoreAddr(t.ResponseDestination); err != nil {
		return nil, fmt.Errorf("response destination: %w", err)
	}
	if err := b.StoreMaybeRef(t.CustomPayload); err != nil {
		return nil, fmt.Errorf("custom payload: %w", err)
	}
	if err := b.StoreBigCoins(zeroIfNil(t.ForwardTONAmount)); err != nil {
		return nil, fmt.Errorf("forward ton amount: %w", err)
	}
	if err := storeEither(b, t.ForwardPayload); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func loadJettonTransfer(s *cell.Slice, h Header) (*JettonTransfer, error) {
	amount, err := s.LoadBigCoins()
	if err != nil {
		return nil, fmt.Errorf("%w: transfer amount: %v", ErrMalformedMessage, err)
	}
	dst, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: transfer destination: %v", ErrMalformedMessage, err)
	}
	resp, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: transfer response destination: %v", ErrMalformedMessage, err)
	}
	custom, err := s.LoadMaybeRef()
	if err != nil {
		return nil, fmt.Errorf("%w: transfer custom payload: %v", ErrMalformedMessage, err)
	}
	fwd, err := s.LoadBigCoins()
	if err != nil {
		return nil, fmt.Errorf("%w: transfer forward amount: %v", ErrMalformedMessage, err)
	}
	payload, err := loadEither(s)
	if err != nil {
		return nil, err
	}
	t := &JettonTransfer{
		QueryID:             h.QueryID,
		Amount:              amount,
		Destination:         orNil(dst),
		ResponseDestination: orNil(resp),
		ForwardTONAmount:    fwd,
		ForwardPayload:      payload,
	}
	if custom != nil {
		if t.CustomPayload, err = custom.ToCell(); err != nil {
			return nil, fmt.Errorf("%w: transfer custom payload: %v", ErrMalformedMessage, err)
		}
	}
	return t, nil
}

// InternalTransfer is the wallet -> wallet hop of a jetton transfer:
// internal_transfer#178d4519 query_id:uint64 amount:Coins from:MsgAddress
// response_address:MsgAddress forward_ton_amount:Coins
// forward_payload:(Either Cell ^Cell)
type InternalTransfer struct {
	QueryID          uint64
	Amount           *big.Int
	From             *address.Address
	ResponseAddress  *address.Address
	ForwardTONAmount *big.Int
	ForwardPayload   *cell.Cell
}

func EncodeInternalTransfer(t InternalTransfer) (*cell.Cell, error) {
	b := cell.BeginCell().
		MustStoreUInt(uint64(OpInternalTransfer), 32).
		MustStoreUInt(t.QueryID, 64)
	if err := b.StoreBigCoins(t.Amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if err := b.StoreAddr(t.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := b.StoreAddr(t.ResponseAddress); err != nil {
		return nil, fmt.Errorf("response address: %w", err)
	}
	if err := b.StoreBigCoins(zeroIfNil(t.ForwardTONAmount)); err != nil {
		return nil, fmt.Errorf("forward ton amount: %w", err)
	}
	if err := storeEither(b, t.ForwardPayload); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func loadInternalTransfer(s *cell.Slice, h Header) (*InternalTransfer, error) {
	amount, err := s.LoadBigCoins()
	if err != nil {
		return nil, fmt.Errorf("%w: internal transfer amount: %v", ErrMalformedMessage, err)
	}
	from, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: internal transfer from: %v", ErrMalformedMessage, err)
	}
	resp, err := s.LoadAddr()
	if err != nil {
		return nil, fmt.Errorf("%w: internal transfer response address: %v", ErrMalformedMessage, err)
	}
	fwd, err := s.LoadBigCoins()
	if err != nil {
		return nil, fmt.Errorf("%w: internal transfer forward amount: %v", ErrMalformedMessage, err)
	}
	payload, err := loadEither(s)
	if err != nil {
		return nil, err
	}
	return &InternalTransfer{
		QueryID:          h.QueryID,
		Amount:           amount,
		From:             orNil(from),
		ResponseAddress:  orNil(resp),
		ForwardTONAmount: fwd,
		ForwardPayload:   payload,
	}, nil
}

// Message is a decoded body. Exactly one payload pointer is set for ops that
// carry one; unknown ops decode to a bare header.
type Message struct {
	Header
	Notification     *TransferNotification
	Transfer         *JettonTransfer
	InternalTransfer *InternalTransfer
}

// DecodeMessage parses a body with the op + query_id header. Unknown ops are
// not an error here.
func DecodeMessage(body *cell.Cell) (*Message, error) {
	if body == nil {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedMessage)
	}
	s := body.BeginParse()
	h, err := loadHeader(s)
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: h}
	switch h.Op {
	case OpTransferNotification:
		msg.Notification, err = loadTransferNotification(s, h)
	case OpTransfer:
		msg.Transfer, err = loadJettonTransfer(s, h)
	case OpInternalTransfer:
		msg.InternalTransfer, err = loadInternalTransfer(s, h)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// PeekOp returns the op of a body, or false if it is shorter than 32 bits.
func PeekOp(body *cell.Cell) (uint32, bool) {
	if body == nil || body.BitsSize() < 32 {
		return 0, false
	}
	op, err := body.BeginParse().LoadUInt(32)
	if err != nil {
		return 0, false
	}
	return uint32(op), true
}

// BounceBody is what the transport sends back for a failed message with the
// bounce flag: 0xffffffff followed by the first 256 bits of the original body.
func BounceBody(original *cell.Cell) *cell.Cell {
	b := cell.BeginCell().MustStoreUInt(uint64(OpBounced), 32)
	if original == nil {
		return b.EndCell()
	}
	s := original.BeginParse()
	n := s.BitsLeft()
	if n > 256 {
		n = 256
	}
	if n > 0 {
		data, err := s.LoadSlice(n)
		if err == nil {
			b.MustStoreSlice(data, n)
		}
	}
	return b.EndCell()
}

// forward payloads are always written as a reference
func storeEither(b *cell.Builder, payload *cell.Cell) error {
	if payload == nil {
		return b.StoreBoolBit(false)
	}
	if err := b.StoreBoolBit(true); err != nil {
		return err
	}
	if err := b.StoreRef(payload); err != nil {
		return fmt.Errorf("forward payload: %w", err)
	}
	return nil
}

func loadEither(s *cell.Slice) (*cell.Cell, error) {
	if s.BitsLeft() == 0 {
		// some wallets drop the either bit entirely
		return nil, nil
	}
	isRef, err := s.LoadBoolBit()
	if err != nil {
		return nil, fmt.Errorf("%w: forward payload: %v", ErrMalformedMessage, err)
	}
	if isRef {
		c, err := s.LoadRefCell()
		if err != nil {
			return nil, fmt.Errorf("%w: forward payload ref: %v", ErrMalformedMessage, err)
		}
		return c, nil
	}
	if s.BitsLeft() == 0 && s.RefsNum() == 0 {
		return nil, nil
	}
	c, err := s.ToCell()
	if err != nil {
		return nil, fmt.Errorf("%w: forward payload: %v", ErrMalformedMessage, err)
	}
	return c, nil
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
