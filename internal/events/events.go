package events

import "context"

// Stream all unit events are published to
const StreamEscrow = "events:escrow"

// Event types
const (
	EventUnitCreated       = "unit_created"
	EventUnitStatusChanged = "unit_status_changed"
	EventMessageRejected   = "message_rejected"
	EventJettonsReturned   = "jettons_returned"
	EventRefundAvailable   = "refund_available"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Parties lists the wallet addresses (raw form) an event concerns. The
// websocket hub routes by them.
func (e Event) Parties() []string {
	raw, ok := e.Payload["parties"].([]any)
	if !ok {
		if s, ok := e.Payload["parties"].([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
