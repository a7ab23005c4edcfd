package inference

import "folio/internal/queue"

// Provider batch lifecycle states as reported on the operation metadata.
const (
	BatchStateUnspecified = "BATCH_STATE_UNSPECIFIED"
	BatchStatePending     = "BATCH_STATE_PENDING"
	BatchStateRunning     = "BATCH_STATE_RUNNING"
	BatchStateSucceeded   = "BATCH_STATE_SUCCEEDED"
	BatchStateFailed      = "BATCH_STATE_FAILED"
	BatchStateCancelled   = "BATCH_STATE_CANCELLED"
	BatchStateExpired     = "BATCH_STATE_EXPIRED"
)

// batchStateStatuses is the single mapping from provider batch states to job
// statuses. Every consumer of provider state goes through MapBatchState so a
// new provider state shows up exactly once, here.
var batchStateStatuses = map[string]queue.Status{
	BatchStatePending:   queue.StatusProcessing,
	BatchStateRunning:   queue.StatusProcessing,
	BatchStateSucceeded: queue.StatusCompleted,
	BatchStateFailed:    queue.StatusFailed,
	BatchStateCancelled: queue.StatusCancelled,
	BatchStateExpired:   queue.StatusExpired,
}

// MapBatchState translates a provider batch state into the local job status.
// Unknown or unspecified states map to false; callers keep the job's current
// status and record the raw state for operators.
func MapBatchState(state string) (queue.Status, bool) {
	status, ok := batchStateStatuses[state]
	return status, ok
}

// BatchStateTerminal reports whether the provider state can no longer change.
func BatchStateTerminal(state string) bool {
	switch state {
	case BatchStateSucceeded, BatchStateFailed, BatchStateCancelled, BatchStateExpired:
		return true
	default:
		return false
	}
}
