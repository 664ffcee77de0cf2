package models

import (
	"time"

	"github.com/google/uuid"
)

// Unit statuses, same values as escrow.Status
const (
	UnitStatusUninitialized = "uninitialized"
	UnitStatusAwaitingFunds = "awaiting_funds"
	UnitStatusFunded        = "funded"
	UnitStatusSettled       = "settled"
	UnitStatusRejected      = "rejected"
	UnitStatusRefunded      = "refunded"
)

// Valid state transitions: from -> []to
var ValidUnitTransitions = map[string][]string{
	UnitStatusUninitialized: {UnitStatusAwaitingFunds},
	UnitStatusAwaitingFunds: {UnitStatusFunded},
	UnitStatusFunded:        {UnitStatusSettled, UnitStatusRejected, UnitStatusRefunded},
	UnitStatusSettled:       {},
	UnitStatusRejected:      {},
	UnitStatusRefunded:      {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidUnitTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalStatus(s string) bool {
	allowed, ok := ValidUnitTransitions[s]
	return ok && len(allowed) == 0
}

// Unit is the persisted escrow unit. StorageBOC is the contract storage
// cell; after resolution it is kept frozen.
type Unit struct {
	Address     string    `json:"address"` // raw form, wc:hex
	DealID      uint64    `json:"deal_id"`
	Status      string    `json:"status"`
	UsesToken   bool      `json:"uses_token"`
	StorageBOC  []byte    `json:"-"`
	BalanceNano string    `json:"balance_nano"` // numeric as string
	StartTime   int64     `json:"start_time"`
	Deadline    int64     `json:"deadline"`
	LastNow     int64     `json:"last_now"` // now of the last delivered message
	Custody     string    `json:"custody"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Custody says who moves a unit's value. Chain units mirror a deployed
// contract and only the indexer delivers to them; simulated units are
// driven by the API and hold no real funds.
const (
	CustodySimulated = "simulated"
	CustodyChain     = "chain"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// MessageLog is one inbound or outbound message of a unit.
type MessageLog struct {
	ID          uuid.UUID `json:"id"`
	UnitAddress string    `json:"unit_address"`
	Direction   string    `json:"direction"`
	Op          uint32    `json:"op"`
	OpName      string    `json:"op_name"`
	QueryID     uint64    `json:"query_id"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	ValueNano   string    `json:"value_nano"`
	SendMode    uint8     `json:"send_mode"`
	BodyBOC     []byte    `json:"body_boc,omitempty"`
	ExitCode    int       `json:"exit_code"`
	TxHash      *string   `json:"tx_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
