package inference

import (
	"testing"

	"folio/internal/queue"
)

func TestMapBatchState(t *testing.T) {
	tests := []struct {
		state  string
		status queue.Status
		known  bool
	}{
		{BatchStatePending, queue.StatusProcessing, true},
		{BatchStateRunning, queue.StatusProcessing, true},
		{BatchStateSucceeded, queue.StatusCompleted, true},
		{BatchStateFailed, queue.StatusFailed, true},
		{BatchStateCancelled, queue.StatusCancelled, true},
		{BatchStateExpired, queue.StatusExpired, true},
		{BatchStateUnspecified, "", false},
		{"", "", false},
		{"BATCH_STATE_SOMETHING_NEW", "", false},
	}

	for _, tt := range tests {
		status, ok := MapBatchState(tt.state)
		if ok != tt.known {
			t.Fatalf("MapBatchState(%q) known = %v, want %v", tt.state, ok, tt.known)
		}
		if status != tt.status {
			t.Fatalf("MapBatchState(%q) = %q, want %q", tt.state, status, tt.status)
		}
	}

	// Every mapped status must be a real job status.
	for state, status := range batchStateStatuses {
		if _, err := queue.ParseStatus(string(status)); err != nil {
			t.Fatalf("state %q maps to unknown status %q", state, status)
		}
	}
}

func TestBatchStateTerminal(t *testing.T) {
	terminal := map[string]bool{
		BatchStatePending:     false,
		BatchStateRunning:     false,
		BatchStateSucceeded:   true,
		BatchStateFailed:      true,
		BatchStateCancelled:   true,
		BatchStateExpired:     true,
		BatchStateUnspecified: false,
	}
	for state, want := range terminal {
		if got := BatchStateTerminal(state); got != want {
			t.Fatalf("BatchStateTerminal(%q) = %v, want %v", state, got, want)
		}
	}
}
