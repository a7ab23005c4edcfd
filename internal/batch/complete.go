package batch

import (
	"context"
	"fmt"
	"strconv"

	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/queue"
	"folio/internal/services"
)

// CompletionReport summarizes a completion pass over a finished batch.
type CompletionReport struct {
	JobID        int64 `json:"job_id"`
	Saved        int   `json:"saved"`
	Failed       int   `json:"failed"`
	AlreadySaved bool  `json:"already_saved"`
}

// Complete writes a succeeded batch's results back to the page records and
// promotes the job to saved. The operation is idempotent: pages with a
// recorded outcome are never written twice and repeat calls report the
// recorded counts without downloading results again.
func (c *Controller) Complete(ctx context.Context, jobID int64) (*CompletionReport, error) {
	job, err := c.reload(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Type.IsBatch() {
		return nil, services.Wrap(services.ErrValidation, "batch", "complete", fmt.Sprintf("job %d is not a batch job", jobID), nil)
	}
	sub, err := c.store.GetSubmission(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.ExternalRef == "" {
		return nil, services.Wrap(services.ErrValidation, "batch", "complete", fmt.Sprintf("job %d has no provider submission", jobID), nil)
	}
	if sub.SavedAt != nil || job.Status == queue.StatusSaved {
		// Finish any promotion step an earlier pass was interrupted in.
		if err := c.promoteSaved(ctx, jobID); err != nil {
			return nil, err
		}
		return &CompletionReport{JobID: jobID, Saved: job.Completed, Failed: job.Failed, AlreadySaved: true}, nil
	}

	if sub.ExternalState != inference.BatchStateSucceeded {
		// The operator may complete before a refresh pass polled; check live.
		poll, err := c.gateway.PollBatch(ctx, sub.ExternalRef)
		if err != nil {
			return nil, err
		}
		if _, err := c.store.UpdateExternalState(ctx, jobID, poll.ExternalState, int(poll.Stats.Succeeded), int(poll.Stats.Failed)); err != nil {
			return nil, err
		}
		if poll.ExternalState != inference.BatchStateSucceeded {
			return nil, services.Wrap(services.ErrValidation, "batch", "complete", fmt.Sprintf("batch has not succeeded (state %s)", poll.ExternalState), nil)
		}
	}

	results, err := c.gateway.FetchBatchResults(ctx, sub.ExternalRef)
	if err != nil {
		return nil, err
	}
	c.writeResults(ctx, job, results)

	final, err := c.reload(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := c.promoteSaved(ctx, jobID); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "batch results saved",
		logging.Int64("job_id", jobID),
		logging.Int("saved", final.Completed),
		logging.Int("failed", final.Failed),
	)
	c.notifySaved(ctx, final)
	return &CompletionReport{JobID: jobID, Saved: final.Completed, Failed: final.Failed}, nil
}

// promoteSaved walks the job to its terminal saved status. Every step is
// guarded and a missed guard means another pass already took it, so the walk
// is safe to repeat.
func (c *Controller) promoteSaved(ctx context.Context, jobID int64) error {
	if _, err := c.store.TransitionStatus(ctx, jobID, queue.StatusProcessing, queue.StatusCompleted); err != nil {
		return err
	}
	if _, err := c.store.TransitionStatus(ctx, jobID, queue.StatusCompleted, queue.StatusSaved); err != nil {
		return err
	}
	return c.store.MarkSaved(ctx, jobID)
}

// writeResults stores each unit outcome on its page and records one result
// per target page. Units the provider did not return are recorded as
// failures so the job's accounting always covers the full target list.
func (c *Controller) writeResults(ctx context.Context, job *queue.Job, results []inference.KeyedResult) {
	stage := stageFor(job.Type)
	byPage := make(map[int64]inference.KeyedResult, len(results))
	for _, result := range results {
		pageID, err := strconv.ParseInt(result.Key, 10, 64)
		if err != nil {
			c.logger.WarnContext(ctx, "discarding batch result with unknown key",
				logging.Int64("job_id", job.ID),
				logging.String("key", result.Key),
			)
			continue
		}
		byPage[pageID] = result
	}

	for _, pageID := range job.PageIDs {
		if job.HasResult(pageID) {
			continue
		}
		result, ok := byPage[pageID]
		if !ok {
			c.recordResult(ctx, job, queue.PageResult{
				PageID: pageID,
				Stage:  stage,
				Error:  "provider returned no result for page",
			})
			continue
		}
		if result.Failed() {
			message := result.Err
			if message == "" {
				message = "empty output"
			}
			c.recordResult(ctx, job, queue.PageResult{PageID: pageID, Stage: stage, Error: message})
			continue
		}
		if err := c.savePageOutput(ctx, job, pageID, result); err != nil {
			c.recordResult(ctx, job, queue.PageResult{PageID: pageID, Stage: stage, Error: err.Error()})
			continue
		}
		c.recordResult(ctx, job, queue.PageResult{PageID: pageID, Success: true})
	}
}

func (c *Controller) savePageOutput(ctx context.Context, job *queue.Job, pageID int64, result inference.KeyedResult) error {
	if job.Type == queue.TypeBatchTranslate {
		return c.library.SaveTranslation(ctx, pageID, &library.TranslationResult{
			Data:           result.Text,
			Model:          c.modelFor(job),
			SourceLanguage: job.Language,
			TargetLanguage: c.targetLanguage(job),
			Usage:          usageFor(result.Usage),
		})
	}
	return c.library.SaveOCR(ctx, pageID, &library.OCRResult{
		Data:     result.Text,
		Model:    c.modelFor(job),
		Language: job.Language,
		Usage:    usageFor(result.Usage),
	})
}

func (c *Controller) notifySaved(ctx context.Context, job *queue.Job) {
	err := c.notifier.Publish(ctx, notifications.EventBatchSaved, notifications.Payload{
		"job":    strconv.FormatInt(job.ID, 10),
		"book":   c.bookTitle(ctx, job.BookID),
		"saved":  strconv.Itoa(job.Completed),
		"failed": strconv.Itoa(job.Failed),
	})
	if err != nil {
		c.logger.DebugContext(ctx, "batch notification failed",
			logging.Error(err),
		)
	}
}
