package escrow

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Inbound is an internal message delivered to a unit. Now is the logical
// time of the transaction in unix seconds.
type Inbound struct {
	Sender  *address.Address
	Value   *big.Int
	Now     uint32
	Body    *cell.Cell
	Bounced bool
}

// Result is the outcome of a handled message. Deal is the state to persist,
// Outbound the messages to send. When Returned is set the operation itself
// failed with Reason but the transaction succeeded by sending the jettons
// back, so the deal is unchanged.
type Result struct {
	Deal     *Deal
	Status   Status
	Outbound []OutMessage
	Op       uint32
	QueryID  uint64
	Returned bool
	Reason   error
}

// Handle validates and executes one inbound message. It never mutates u; a
// returned error means the transaction fails with ExitCode(err) and nothing
// is sent besides the transport bounce.
func Handle(u *Unit, in Inbound) (*Result, error) {
	if u == nil || u.Deal == nil {
		return nil, fmt.Errorf("%w: unit has no deal", ErrMalformedStorage)
	}
	d := u.Deal.Clone()
	status := u.Status()

	if in.Bounced {
		// bounces of our own notifications are dropped
		return &Result{Deal: d, Status: status, Op: OpBounced}, nil
	}

	if status == StatusUninitialized {
		return deploy(u, d, in)
	}

	if isEmptyBody(in.Body) {
		// plain transfer, tops up the operating reserve
		return &Result{Deal: d, Status: status}, nil
	}

	msg, err := DecodeMessage(in.Body)
	if err != nil {
		return nil, err
	}

	switch msg.Op {
	case OpTransferNotification:
		return depositToken(u, d, status, in, msg)
	case OpDeposit, OpConfirmDeal, OpRejectDeal, OpRefund:
	default:
		return nil, ErrUnknownOp
	}
	if status.IsTerminal() {
		return nil, ErrWrongState
	}

	switch msg.Op {
	case OpDeposit:
		return depositNative(u, d, status, in, msg.Header)
	case OpConfirmDeal:
		return resolve(u, d, status, in, msg.Header, StatusSettled)
	case OpRejectDeal:
		return resolve(u, d, status, in, msg.Header, StatusRejected)
	default:
		return refund(u, d, status, in, msg.Header)
	}
}

func deploy(u *Unit, d *Deal, in Inbound) (*Result, error) {
	if !SameAddress(in.Sender, d.Seller) {
		// jettons can land on the unit's wallet before the deploy; they go back
		if msg, err := DecodeMessage(in.Body); err == nil && msg.Op == OpTransferNotification {
			return depositToken(u, d, StatusUninitialized, in, msg)
		}
		return nil, ErrWrongSender
	}
	body, err := DecodeDeploy(in.Body)
	if err != nil {
		return nil, err
	}
	if err := validCoins(body.NeededAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	d.Initialized = true
	d.NeededAmount = body.NeededAmount
	if u.Asset.Kind() == KindToken {
		d.TokenSubaccount = body.TokenSubaccount
	}
	return &Result{Deal: d, Status: d.Status()}, nil
}

func depositNative(u *Unit, d *Deal, status Status, in Inbound, h Header) (*Result, error) {
	if status != StatusAwaitingFunds {
		return nil, ErrWrongState
	}
	if !SameAddress(in.Sender, d.Buyer) {
		return nil, ErrWrongSender
	}
	if in.Value == nil || in.Value.Cmp(d.NeededAmount) < 0 {
		return nil, ErrInsufficientAmount
	}
	if err := u.Asset.AcceptNative(); err != nil {
		return nil, err
	}

	d.StartTime = in.Now
	return &Result{Deal: d, Status: StatusFunded, Op: h.Op, QueryID: h.QueryID}, nil
}

func depositToken(u *Unit, d *Deal, status Status, in Inbound, msg *Message) (*Result, error) {
	n := msg.Notification
	returnTokens := func(reason error) (*Result, error) {
		out, err := u.Asset.ReturnToSender(in.Sender, n.Sender, n.Amount, n.QueryID)
		if err != nil {
			return nil, err
		}
		return &Result{
			Deal:     d,
			Status:   status,
			Outbound: []OutMessage{out},
			Op:       msg.Op,
			QueryID:  msg.QueryID,
			Returned: true,
			Reason:   reason,
		}, nil
	}

	if status != StatusAwaitingFunds {
		return returnTokens(ErrWrongState)
	}
	derived, err := u.Asset.AcceptJettons(u.Address, d, in.Sender)
	if err != nil {
		return returnTokens(err)
	}
	if !SameAddress(n.Sender, d.Buyer) {
		return returnTokens(ErrWrongSender)
	}
	if n.Amount.Cmp(d.NeededAmount) < 0 {
		return returnTokens(ErrInsufficientAmount)
	}

	if derived != nil {
		d.TokenSubaccount = derived
	}
	d.StartTime = in.Now
	return &Result{Deal: d, Status: StatusFunded, Op: msg.Op, QueryID: msg.QueryID}, nil
}

// resolve handles the guarantor's decision, to settle or to reject.
func resolve(u *Unit, d *Deal, status Status, in Inbound, h Header, to Status) (*Result, error) {
	if status != StatusFunded {
		return nil, ErrWrongState
	}
	if !SameAddress(in.Sender, d.Guarantor) {
		return nil, ErrWrongSender
	}
	if d.DeadlinePassed(in.Now) {
		return nil, ErrDeadlineHasOccurred
	}

	var (
		outs []OutMessage
		err  error
	)
	if to == StatusSettled {
		outs, err = settleOutbound(u.Asset, d, h.QueryID)
	} else {
		outs, err = rejectOutbound(u.Asset, d, h.QueryID)
	}
	if err != nil {
		return nil, err
	}
	return &Result{Deal: d, Status: to, Outbound: outs, Op: h.Op, QueryID: h.QueryID}, nil
}

func refund(u *Unit, d *Deal, status Status, in Inbound, h Header) (*Result, error) {
	if status != StatusFunded {
		return nil, ErrWrongState
	}
	if !SameAddress(in.Sender, d.Buyer) {
		return nil, ErrWrongSender
	}
	if !d.DeadlinePassed(in.Now) {
		return nil, ErrDeadlineNotComeYet
	}

	outs, err := refundOutbound(u.Asset, d, h.QueryID)
	if err != nil {
		return nil, err
	}
	return &Result{Deal: d, Status: StatusRefunded, Outbound: outs, Op: h.Op, QueryID: h.QueryID}, nil
}

func isEmptyBody(c *cell.Cell) bool {
	return c == nil || (c.BitsSize() == 0 && c.RefsNum() == 0)
}
