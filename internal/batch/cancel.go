package batch

import (
	"context"
	"fmt"

	"folio/internal/logging"
	"folio/internal/queue"
	"folio/internal/services"
)

// Cancel stops a batch job. The provider cancel is best effort; the local job
// always leaves the queue so operators are never blocked on provider
// availability. The boolean reports whether this call changed the job.
func (c *Controller) Cancel(ctx context.Context, jobID int64) (bool, error) {
	job, err := c.reload(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !job.Type.IsBatch() {
		return false, services.Wrap(services.ErrValidation, "batch", "cancel", fmt.Sprintf("job %d is not a batch job", jobID), nil)
	}

	sub, err := c.store.GetSubmission(ctx, jobID)
	if err != nil {
		return false, err
	}
	if sub != nil && sub.ExternalRef != "" {
		if err := c.gateway.CancelBatch(ctx, sub.ExternalRef); err != nil {
			c.logger.WarnContext(ctx, "provider cancel failed",
				logging.Error(err),
				logging.Int64("job_id", jobID),
				logging.String("external_ref", sub.ExternalRef),
			)
		}
	}

	for _, from := range []queue.Status{queue.StatusPending, queue.StatusProcessing, queue.StatusPaused} {
		changed, err := c.store.TransitionStatusWithError(ctx, jobID, from, queue.StatusCancelled, queue.UserStopReason)
		if err != nil {
			return false, err
		}
		if changed {
			c.logger.InfoContext(ctx, "batch job cancelled",
				logging.Int64("job_id", jobID),
			)
			return true, nil
		}
	}
	return false, nil
}
