package escrow

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

type Kind string

const (
	KindNative Kind = "native"
	KindToken  Kind = "token"
)

// Asset is the payment capability of a unit. It is chosen once from
// Deal.UsesToken and the machine dispatches through it.
type Asset interface {
	Kind() Kind
	// AcceptNative reports whether a deposit can be paid with attached TON.
	AcceptNative() error
	// AcceptJettons checks that a transfer_notification came from the unit's
	// own jetton wallet. It returns the wallet to record when it was derived.
	AcceptJettons(unit *address.Address, d *Deal, wallet *address.Address) (*address.Address, error)
	// Disburse pays amount to the recipient with notice as the notification
	// body. For jettons the notice travels as the forward payload.
	Disburse(d *Deal, to *address.Address, amount *big.Int, notice *cell.Cell, queryID uint64) (OutMessage, error)
	// ReturnToSender sends jettons back through the wallet that notified us.
	ReturnToSender(wallet, from *address.Address, amount *big.Int, queryID uint64) (OutMessage, error)
	// Notify sends a notification that moves no funds.
	Notify(to *address.Address, body *cell.Cell) OutMessage
	FeeSplit(amount *big.Int, bps uint16) (payout, fee *big.Int)
}

// WalletDeriver computes the jetton wallet address of an owner.
type WalletDeriver interface {
	WalletAddress(owner *address.Address) (*address.Address, error)
}

// TokenOptions configure jetton disbursement. Zero values fall back to the
// defaults used by the reference wallet tests.
type TokenOptions struct {
	// TON attached to each jetton transfer to pay the wallet's fees.
	TransferValue *big.Int
	// TON forwarded with the transfer_notification to the recipient.
	ForwardValue *big.Int
	// Optional. When set, a unit without a registered subaccount accepts
	// notifications from its derived wallet.
	Wallets WalletDeriver
	// TON attached to notifications that move no funds.
	NotificationValue *big.Int
}

var (
	DefaultJettonTransferValue = tlb.MustFromTON("0.055").Nano()
	DefaultJettonForwardValue  = tlb.MustFromTON("0.01").Nano()
	DefaultNotificationValue   = tlb.MustFromTON("0.01").Nano()
)

func (o TokenOptions) withDefaults() TokenOptions {
	if o.TransferValue == nil {
		o.TransferValue = new(big.Int).Set(DefaultJettonTransferValue)
	}
	if o.ForwardValue == nil {
		o.ForwardValue = new(big.Int).Set(DefaultJettonForwardValue)
	}
	if o.NotificationValue == nil {
		o.NotificationValue = new(big.Int).Set(DefaultNotificationValue)
	}
	return o
}

// AssetFor selects the asset variant for a deal.
func AssetFor(d *Deal, opts TokenOptions) Asset {
	opts = opts.withDefaults()
	r := baseAsset{opts: opts}
	if d.UsesToken {
		return &TokenAsset{baseAsset: r}
	}
	return &NativeAsset{baseAsset: r}
}

// FeeSplit returns payout = amount - fee, fee = floor(amount * bps / 10000).
func FeeSplit(amount *big.Int, bps uint16) (payout, fee *big.Int) {
	fee = new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	fee.Quo(fee, big.NewInt(BpsDenominator))
	payout = new(big.Int).Sub(amount, fee)
	return payout, fee
}

// baseAsset is shared by both variants: a native unit still has to give
// back jettons that were sent to it.
type baseAsset struct {
	opts TokenOptions
}

// Notify is a plain notification carrying only the notification value.
func (r baseAsset) Notify(to *address.Address, body *cell.Cell) OutMessage {
	return OutMessage{
		Dest:  to,
		Value: new(big.Int).Set(r.opts.NotificationValue),
		Mode:  SendModePayFeesSeparately,
		Body:  body,
	}
}

func (r baseAsset) FeeSplit(amount *big.Int, bps uint16) (*big.Int, *big.Int) {
	return FeeSplit(amount, bps)
}

func (r baseAsset) ReturnToSender(wallet, from *address.Address, amount *big.Int, queryID uint64) (OutMessage, error) {
	body, err := EncodeJettonTransfer(JettonTransfer{
		QueryID:             queryID,
		Amount:              amount,
		Destination:         from,
		ResponseDestination: from,
		ForwardTONAmount:    big.NewInt(0),
	})
	if err != nil {
		return OutMessage{}, fmt.Errorf("return jettons: %w", err)
	}
	return OutMessage{
		Dest:   wallet,
		Value:  big.NewInt(0),
		Mode:   SendModeCarryInbound,
		Bounce: true,
		Body:   body,
	}, nil
}

type NativeAsset struct {
	baseAsset
}

func (a *NativeAsset) Kind() Kind { return KindNative }

func (a *NativeAsset) AcceptNative() error { return nil }

func (a *NativeAsset) AcceptJettons(_ *address.Address, _ *Deal, _ *address.Address) (*address.Address, error) {
	return nil, ErrWrongSender
}

func (a *NativeAsset) Disburse(_ *Deal, to *address.Address, amount *big.Int, notice *cell.Cell, _ uint64) (OutMessage, error) {
	return OutMessage{
		Dest:   to,
		Value:  new(big.Int).Set(amount),
		Mode:   SendModePayFeesSeparately,
		Bounce: false,
		Body:   notice,
	}, nil
}

type TokenAsset struct {
	baseAsset
}

func (a *TokenAsset) Kind() Kind { return KindToken }

func (a *TokenAsset) AcceptNative() error { return ErrJettonPaymentRequired }

// ExpectedWallet is the wallet transfer notifications must come from: the
// registered subaccount, or the one derived for the unit address.
func (a *TokenAsset) ExpectedWallet(unit *address.Address, d *Deal) (*address.Address, bool) {
	if d.TokenSubaccount != nil {
		return d.TokenSubaccount, true
	}
	if a.opts.Wallets == nil || unit == nil {
		return nil, false
	}
	w, err := a.opts.Wallets.WalletAddress(unit)
	if err != nil {
		return nil, false
	}
	return w, true
}

func (a *TokenAsset) AcceptJettons(unit *address.Address, d *Deal, wallet *address.Address) (*address.Address, error) {
	expected, ok := a.ExpectedWallet(unit, d)
	if !ok || !SameAddress(expected, wallet) {
		return nil, ErrWrongSender
	}
	if d.TokenSubaccount == nil {
		return expected, nil
	}
	return nil, nil
}

func (a *TokenAsset) Disburse(d *Deal, to *address.Address, amount *big.Int, notice *cell.Cell, queryID uint64) (OutMessage, error) {
	if d.TokenSubaccount == nil {
		return OutMessage{}, fmt.Errorf("%w: token subaccount is not known", ErrWrongState)
	}
	body, err := EncodeJettonTransfer(JettonTransfer{
		QueryID:             queryID,
		Amount:              amount,
		Destination:         to,
		ResponseDestination: to,
		ForwardTONAmount:    a.opts.ForwardValue,
		ForwardPayload:      notice,
	})
	if err != nil {
		return OutMessage{}, fmt.Errorf("disburse jettons: %w", err)
	}
	return OutMessage{
		Dest:   d.TokenSubaccount,
		Value:  new(big.Int).Set(a.opts.TransferValue),
		Mode:   SendModePayFeesSeparately,
		Bounce: true,
		Body:   body,
	}, nil
}
