package batch

import (
	"context"
	"errors"
	"fmt"

	"folio/internal/inference"
	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/queue"
	"folio/internal/services"
)

var batchTypes = []queue.JobType{queue.TypeBatchOCR, queue.TypeBatchTranslate}

// Refresh polls the provider for every submitted batch job and reconciles
// local state. The bookkeeping row is updated only when something changed,
// jobs whose provider state reached an end state take the matching local
// transition, and successful batches run the same completion path the API
// exposes. Completed jobs are scanned too so a crash between writeback and
// promotion heals on the next pass.
func (c *Controller) Refresh(ctx context.Context) error {
	jobs, err := c.store.ListByTypes(ctx, batchTypes, queue.StatusProcessing, queue.StatusCompleted)
	if err != nil {
		return fmt.Errorf("list batch jobs: %w", err)
	}
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if job.LastHeartbeat != nil {
			// A controller holds the claim; the batch is still being built
			// or submitted.
			continue
		}
		if err := c.refreshJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.logger.WarnContext(ctx, "batch refresh failed",
				logging.Error(err),
				logging.Int64("job_id", job.ID),
			)
		}
	}
	return nil
}

// RefreshJob polls the provider for one batch job. Jobs whose claim is held
// or that already reached a terminal state are left alone.
func (c *Controller) RefreshJob(ctx context.Context, jobID int64) error {
	job, err := c.reload(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Type.IsBatch() {
		return services.Wrap(services.ErrValidation, "batch", "refresh", fmt.Sprintf("job %d is not a batch job", jobID), nil)
	}
	if job.LastHeartbeat != nil {
		return nil
	}
	switch job.Status {
	case queue.StatusProcessing, queue.StatusCompleted:
		return c.refreshJob(ctx, job)
	default:
		return nil
	}
}

func (c *Controller) refreshJob(ctx context.Context, job *queue.Job) error {
	sub, err := c.store.GetSubmission(ctx, job.ID)
	if err != nil {
		return err
	}
	if sub == nil || sub.ExternalRef == "" {
		// Never handed to the provider; the sweeper classifies orphans.
		return nil
	}

	if job.Status == queue.StatusCompleted {
		_, err := c.Complete(ctx, job.ID)
		return err
	}

	poll, err := c.gateway.PollBatch(ctx, sub.ExternalRef)
	if err != nil {
		return err
	}

	changed, err := c.store.UpdateExternalState(ctx, job.ID, poll.ExternalState, int(poll.Stats.Succeeded), int(poll.Stats.Failed))
	if err != nil {
		return err
	}
	if changed {
		c.logger.InfoContext(ctx, "batch state advanced",
			logging.Int64("job_id", job.ID),
			logging.String("external_state", poll.ExternalState),
			logging.Int64("succeeded", poll.Stats.Succeeded),
			logging.Int64("failed", poll.Stats.Failed),
		)
	}

	status, known := inference.MapBatchState(poll.ExternalState)
	if !known {
		c.logger.WarnContext(ctx, "unknown provider batch state",
			logging.Int64("job_id", job.ID),
			logging.String("external_state", poll.ExternalState),
		)
		return nil
	}

	switch status {
	case queue.StatusCompleted:
		_, err := c.Complete(ctx, job.ID)
		return err
	case queue.StatusFailed:
		message := poll.Message
		if message == "" {
			message = "provider reported batch failure"
		}
		changed, err := c.store.TransitionStatusWithError(ctx, job.ID, queue.StatusProcessing, queue.StatusFailed, message)
		if err != nil {
			return err
		}
		if changed {
			c.notifyFailed(ctx, job, message)
		}
		return nil
	case queue.StatusCancelled:
		_, err := c.store.TransitionStatusWithError(ctx, job.ID, queue.StatusProcessing, queue.StatusCancelled, "cancelled at provider")
		return err
	case queue.StatusExpired:
		_, err := c.store.TransitionStatusWithError(ctx, job.ID, queue.StatusProcessing, queue.StatusExpired, "provider retention window elapsed")
		return err
	default:
		// Still pending or running at the provider.
		return nil
	}
}

func (c *Controller) notifyFailed(ctx context.Context, job *queue.Job, message string) {
	err := c.notifier.Publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"job":   fmt.Sprintf("%d", job.ID),
		"book":  c.bookTitle(ctx, job.BookID),
		"error": message,
	})
	if err != nil {
		c.logger.DebugContext(ctx, "job notification failed",
			logging.Error(err),
		)
	}
}
