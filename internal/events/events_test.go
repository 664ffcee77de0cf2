package events

import (
	"encoding/json"
	"testing"
)

func TestEventParties(t *testing.T) {
	e := Event{Type: EventUnitStatusChanged, Payload: map[string]any{"parties": []string{"0:aa", "0:bb"}}}
	if got := e.Parties(); len(got) != 2 {
		t.Fatalf("Parties() = %v, want 2 entries", got)
	}

	// после JSON round trip слайс превращается в []any
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	got := decoded.Parties()
	if len(got) != 2 || got[1] != "0:bb" {
		t.Errorf("Parties() after round trip = %v", got)
	}

	if got := (Event{Payload: map[string]any{}}).Parties(); got != nil {
		t.Errorf("Parties() without key = %v, want nil", got)
	}
}
