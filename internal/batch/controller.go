package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"folio/internal/config"
	"folio/internal/imagestore"
	"folio/internal/imaging"
	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/queue"
	"folio/internal/services"
)

// Gateway is the asynchronous provider surface the batch controller needs.
type Gateway interface {
	SubmitBatch(ctx context.Context, model string, requests []inference.KeyedRequest) (*inference.BatchSubmission, error)
	PollBatch(ctx context.Context, externalRef string) (*inference.BatchPoll, error)
	FetchBatchResults(ctx context.Context, externalRef string) ([]inference.KeyedResult, error)
	CancelBatch(ctx context.Context, externalRef string) error
	BatchModelName() string
}

// Controller builds, submits, polls, and completes provider batches for
// batch_ocr and batch_translate jobs.
type Controller struct {
	cfg      *config.Config
	store    *queue.Store
	library  *library.Store
	images   imagestore.Store
	gateway  Gateway
	notifier notifications.Service
	logger   *slog.Logger

	maxImageEdge int
	jpegQuality  int
	contextChars int
}

// NewController wires the batch controller over its stores.
func NewController(cfg *config.Config, store *queue.Store, lib *library.Store, images imagestore.Store, gateway Gateway, notifier notifications.Service, logger *slog.Logger) *Controller {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	quality := cfg.Batch.JPEGQuality
	if quality <= 0 {
		quality = imaging.DefaultJPEGQuality
	}
	contextChars := cfg.Pipeline.ContextChars
	if contextChars < 0 {
		contextChars = 0
	}
	return &Controller{
		cfg:          cfg,
		store:        store,
		library:      lib,
		images:       images,
		gateway:      gateway,
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "batch"),
		maxImageEdge: cfg.Batch.MaxImageEdge,
		jpegQuality:  quality,
		contextChars: contextChars,
	}
}

func (c *Controller) reload(ctx context.Context, jobID int64) (*queue.Job, error) {
	job, err := c.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "batch", "load", fmt.Sprintf("job %d", jobID), nil)
	}
	return job, nil
}

func (c *Controller) modelFor(job *queue.Job) string {
	if strings.TrimSpace(job.Model) != "" {
		return job.Model
	}
	return c.gateway.BatchModelName()
}

func (c *Controller) targetLanguage(job *queue.Job) string {
	if strings.TrimSpace(job.TargetLanguage) != "" {
		return job.TargetLanguage
	}
	return c.cfg.Inference.TargetLanguage
}

// stageFor names the provider stage a batch job type runs, used on failure
// results.
func stageFor(t queue.JobType) string {
	if t == queue.TypeBatchTranslate {
		return "translate"
	}
	return "ocr"
}

func (c *Controller) recordResult(ctx context.Context, job *queue.Job, result queue.PageResult) {
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

func (c *Controller) bookTitle(ctx context.Context, bookID int64) string {
	book, err := c.library.GetBook(ctx, bookID)
	if err != nil || book == nil {
		return fmt.Sprintf("book %d", bookID)
	}
	return book.Title
}

func usageFor(usage inference.Usage) *library.Usage {
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		return nil
	}
	return &library.Usage{
		InputTokens:  int(usage.InputTokens),
		OutputTokens: int(usage.OutputTokens),
	}
}
