package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{UnitStatusUninitialized, UnitStatusAwaitingFunds, true},
		{UnitStatusAwaitingFunds, UnitStatusFunded, true},
		{UnitStatusFunded, UnitStatusSettled, true},
		{UnitStatusFunded, UnitStatusRejected, true},
		{UnitStatusFunded, UnitStatusRefunded, true},

		// Skipping states
		{UnitStatusUninitialized, UnitStatusFunded, false},
		{UnitStatusAwaitingFunds, UnitStatusSettled, false},
		{UnitStatusAwaitingFunds, UnitStatusRefunded, false},

		// Terminal states
		{UnitStatusSettled, UnitStatusRefunded, false},
		{UnitStatusRejected, UnitStatusFunded, false},
		{UnitStatusRefunded, UnitStatusSettled, false},

		// Unknown
		{"unknown", UnitStatusFunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsValidTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for status, want := range map[string]bool{
		UnitStatusFunded:   false,
		UnitStatusSettled:  true,
		UnitStatusRejected: true,
		UnitStatusRefunded: true,
		"bogus":            false,
	} {
		if got := IsTerminalStatus(status); got != want {
			t.Errorf("IsTerminalStatus(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		UnitStatusUninitialized, UnitStatusAwaitingFunds, UnitStatusFunded,
		UnitStatusSettled, UnitStatusRejected, UnitStatusRefunded,
	}

	for _, status := range allStatuses {
		if _, ok := ValidUnitTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidUnitTransitions map", status)
		}
	}
}
