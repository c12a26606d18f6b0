package saga

import "testing"

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusFailed, false},
		{Status("bogus"), StatusCompleted, false},
		{StatusPending, Status("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusValidAndTerminal(t *testing.T) {
	if !StatusPending.Valid() || StatusPending.Terminal() {
		t.Fatal("pending should be valid and non-terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("completed and failed should be terminal")
	}
	if Status("done").Valid() {
		t.Fatal("unknown status should be invalid")
	}
}
