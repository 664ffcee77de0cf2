package escrow

import (
	"errors"
	"fmt"
)

// Exit codes as thrown by the on-chain escrow contract.
const (
	ExitOK                             = 0
	ExitCellUnderflow                  = 9
	ExitWrongSender                    = 111
	ExitInsufficientAmount             = 112
	ExitInsufficientBalance            = 113
	ExitInsufficientValueForPayingFees = 114
	ExitDeadlineNotComeYet             = 115
	ExitJettonPaymentRequired          = 116
	ExitDeadlineHasOccurred            = 117
	ExitWrongState                     = 118
	ExitUnknownOp                      = 0xffff
)

// ExitError is a validation failure of an inbound message. The unit state is
// never mutated when one is returned.
type ExitError struct {
	Code int
	Name string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s (exit code %d)", e.Name, e.Code)
}

var (
	ErrWrongSender           = &ExitError{Code: ExitWrongSender, Name: "wrong_sender"}
	ErrInsufficientAmount    = &ExitError{Code: ExitInsufficientAmount, Name: "insufficient_amount"}
	ErrInsufficientBalance   = &ExitError{Code: ExitInsufficientBalance, Name: "insufficient_balance"}
	ErrDeadlineNotComeYet    = &ExitError{Code: ExitDeadlineNotComeYet, Name: "confirmation_deadline_not_come_yet"}
	ErrJettonPaymentRequired = &ExitError{Code: ExitJettonPaymentRequired, Name: "jetton_payment_required"}
	ErrDeadlineHasOccurred   = &ExitError{Code: ExitDeadlineHasOccurred, Name: "confirmation_deadline_has_occured"}
	ErrWrongState            = &ExitError{Code: ExitWrongState, Name: "wrong_state"}
	ErrUnknownOp             = &ExitError{Code: ExitUnknownOp, Name: "unknown_op"}
)

var (
	ErrMalformedMessage = errors.New("escrow: malformed message body")
	ErrMalformedStorage = errors.New("escrow: malformed storage")
	ErrInvalidDeal      = errors.New("escrow: invalid deal")
)

// ExitCode maps an error returned by Handle to a TVM style exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrMalformedStorage) {
		return ExitCellUnderflow
	}
	return -1
}
