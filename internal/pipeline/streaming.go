package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"folio/internal/config"
	"folio/internal/imagestore"
	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/queue"
)

// Gateway is the synchronous provider surface the streaming controller needs.
type Gateway interface {
	Transcribe(ctx context.Context, req inference.TranscribeRequest) (*inference.Result, error)
	Translate(ctx context.Context, req inference.TranslateRequest) (*inference.Result, error)
}

// StreamingController processes pipeline jobs page by page against the
// synchronous provider endpoints.
type StreamingController struct {
	cfg      *config.Config
	store    *queue.Store
	library  *library.Store
	images   imagestore.Store
	gateway  Gateway
	notifier notifications.Service
	logger   *slog.Logger

	chunkSize    int
	contextChars int
}

// NewStreamingController wires the streaming controller over its stores.
func NewStreamingController(cfg *config.Config, store *queue.Store, lib *library.Store, images imagestore.Store, gateway Gateway, notifier notifications.Service, logger *slog.Logger) *StreamingController {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	chunkSize := cfg.Pipeline.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 8
	}
	contextChars := cfg.Pipeline.ContextChars
	if contextChars < 0 {
		contextChars = 0
	}
	return &StreamingController{
		cfg:          cfg,
		store:        store,
		library:      lib,
		images:       images,
		gateway:      gateway,
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "streaming"),
		chunkSize:    chunkSize,
		contextChars: contextChars,
	}
}

// Process runs one chunk of the claimed job. When pages remain afterwards the
// claim is handed back to the queue so the scheduler can interleave jobs;
// when none remain the job is finalized. Work already recorded in the job's
// results is never repeated, so re-claiming after a crash or pause resumes
// exactly where processing stopped.
func (c *StreamingController) Process(ctx context.Context, job *queue.Job) error {
	current, err := c.reload(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status != queue.StatusProcessing {
		c.logger.DebugContext(ctx, "job no longer claimed; skipping pass",
			logging.Int64("job_id", current.ID),
			logging.String("status", string(current.Status)),
		)
		return nil
	}

	remaining := current.RemainingPageIDs()
	if len(remaining) == 0 {
		return c.finalize(ctx, current)
	}
	chunk := remaining
	if len(chunk) > c.chunkSize {
		chunk = chunk[:c.chunkSize]
	}

	if err := c.processChunk(ctx, current, chunk); err != nil {
		return err
	}

	// The chunk may have been interrupted by a cancel or pause; the refreshed
	// status decides whether the job finishes, waits, or goes back on the queue.
	refreshed, err := c.reload(ctx, job.ID)
	if err != nil {
		return err
	}
	if refreshed.Status != queue.StatusProcessing {
		c.logger.InfoContext(ctx, "job left processing mid-chunk",
			logging.Int64("job_id", refreshed.ID),
			logging.String("status", string(refreshed.Status)),
		)
		return nil
	}
	if len(refreshed.RemainingPageIDs()) == 0 {
		return c.finalize(ctx, refreshed)
	}

	if _, err := c.store.TransitionStatus(ctx, job.ID, queue.StatusProcessing, queue.StatusPending); err != nil {
		return fmt.Errorf("requeue job %d: %w", job.ID, err)
	}
	return nil
}

func (c *StreamingController) reload(ctx context.Context, jobID int64) (*queue.Job, error) {
	job, err := c.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("reload job %d: %w", jobID, err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %d disappeared", jobID)
	}
	return job, nil
}

// processChunk runs the chunk's pages in ascending page order through a
// bounded worker pool. The job status is re-read before each page so a
// cancel or pause stops the remaining pages without failing them.
func (c *StreamingController) processChunk(ctx context.Context, job *queue.Job, pageIDs []int64) error {
	pages, err := c.library.PagesByIDs(ctx, pageIDs)
	if err != nil {
		return fmt.Errorf("load chunk pages: %w", err)
	}

	ordered := make([]*library.Page, 0, len(pageIDs))
	for _, id := range pageIDs {
		page, ok := pages[id]
		if !ok || page == nil {
			// Target deleted after the job was created.
			c.recordResult(ctx, job, queue.PageResult{
				PageID: id,
				Error:  "page no longer exists",
			})
			continue
		}
		ordered = append(ordered, page)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].PageNumber != ordered[j].PageNumber {
			return ordered[i].PageNumber < ordered[j].PageNumber
		}
		return ordered[i].ID < ordered[j].ID
	})
	if len(ordered) == 0 {
		return nil
	}

	cont, err := c.loadContinuity(ctx, job)
	if err != nil {
		return err
	}

	parallelism := queue.ClampParallelism(job.Parallelism)
	if parallelism > len(ordered) {
		parallelism = len(ordered)
	}

	tasks := make(chan *library.Page)
	var wg sync.WaitGroup
	wg.Add(parallelism)
	for i := 0; i < parallelism; i++ {
		go func() {
			defer wg.Done()
			for page := range tasks {
				c.processPage(ctx, job, page, cont)
			}
		}()
	}

	var dispatchErr error
dispatch:
	for _, page := range ordered {
		fresh, err := c.reload(ctx, job.ID)
		if err != nil {
			dispatchErr = err
			break dispatch
		}
		if fresh.Status != queue.StatusProcessing {
			break dispatch
		}
		select {
		case <-ctx.Done():
			dispatchErr = ctx.Err()
			break dispatch
		case tasks <- page:
		}
	}
	close(tasks)
	wg.Wait()
	return dispatchErr
}

func (c *StreamingController) processPage(ctx context.Context, job *queue.Job, page *library.Page, cont *continuity) {
	// The claim may have been released between dispatch and execution. A page
	// starts only while the job still holds processing; skipped pages stay
	// unrecorded so the next claim picks them up.
	fresh, err := c.reload(ctx, job.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to re-check job before page",
			logging.Error(err),
			logging.Int64("job_id", job.ID),
			logging.Int64("page_id", page.ID),
		)
		return
	}
	if fresh.Status != queue.StatusProcessing {
		return
	}

	if err := c.store.SetCurrentItem(ctx, job.ID, fmt.Sprintf("page %d", page.PageNumber)); err != nil {
		c.logger.DebugContext(ctx, "failed to update progress label",
			logging.Error(err),
		)
	}

	start := time.Now()
	stage, err := c.runStages(ctx, job, page, cont)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-call: leave the page unrecorded so the next claim
			// retries it.
			return
		}
		c.logger.WarnContext(ctx, "page processing failed",
			logging.Error(err),
			logging.Int64("job_id", job.ID),
			logging.Int64("page_id", page.ID),
			logging.Int("page_number", page.PageNumber),
			logging.String("stage", stage),
		)
		c.recordResult(ctx, job, queue.PageResult{
			PageID:     page.ID,
			Stage:      stage,
			Error:      err.Error(),
			DurationMS: duration,
		})
		return
	}

	c.recordResult(ctx, job, queue.PageResult{
		PageID:     page.ID,
		Success:    true,
		DurationMS: duration,
	})
}

func (c *StreamingController) recordResult(ctx context.Context, job *queue.Job, result queue.PageResult) {
	added, err := c.store.AppendPageResult(ctx, job.ID, result)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to record page result",
			logging.Error(err),
			logging.Int64("job_id", job.ID),
			logging.Int64("page_id", result.PageID),
		)
		return
	}
	if !added {
		c.logger.DebugContext(ctx, "page result already recorded",
			logging.Int64("job_id", job.ID),
			logging.Int64("page_id", result.PageID),
		)
	}
}

func (c *StreamingController) finalize(ctx context.Context, job *queue.Job) error {
	to := queue.StatusCompleted
	var changed bool
	var err error
	if job.Completed == 0 && job.Failed > 0 {
		to = queue.StatusFailed
		changed, err = c.store.TransitionStatusWithError(ctx, job.ID, queue.StatusProcessing, to, "all pages failed")
	} else {
		changed, err = c.store.TransitionStatus(ctx, job.ID, queue.StatusProcessing, to)
	}
	if err != nil {
		return fmt.Errorf("finalize job %d: %w", job.ID, err)
	}
	if !changed {
		return nil
	}
	if err := c.store.SetCurrentItem(ctx, job.ID, ""); err != nil {
		c.logger.DebugContext(ctx, "failed to clear progress label",
			logging.Error(err),
		)
	}

	c.logger.InfoContext(ctx, "job finished",
		logging.Int64("job_id", job.ID),
		logging.String("status", string(to)),
		logging.Int("completed", job.Completed),
		logging.Int("failed", job.Failed),
	)
	c.notifyFinished(ctx, job, to)
	return nil
}

func (c *StreamingController) notifyFinished(ctx context.Context, job *queue.Job, status queue.Status) {
	payload := notifications.Payload{
		"job":       strconv.FormatInt(job.ID, 10),
		"book":      c.bookTitle(ctx, job.BookID),
		"completed": strconv.Itoa(job.Completed),
		"failed":    strconv.Itoa(job.Failed),
	}
	event := notifications.EventJobCompleted
	if status == queue.StatusFailed {
		event = notifications.EventJobFailed
		payload["error"] = "all pages failed"
	}
	if err := c.notifier.Publish(ctx, event, payload); err != nil {
		c.logger.DebugContext(ctx, "job notification failed",
			logging.Error(err),
		)
	}
}

func (c *StreamingController) bookTitle(ctx context.Context, bookID int64) string {
	book, err := c.library.GetBook(ctx, bookID)
	if err != nil || book == nil {
		return fmt.Sprintf("book %d", bookID)
	}
	return book.Title
}
