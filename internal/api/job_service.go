package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"folio/internal/batch"
	"folio/internal/language"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/queue"
	"folio/internal/services"
)

// BatchDriver is the batch-lane surface job lifecycle actions need.
type BatchDriver interface {
	Complete(ctx context.Context, jobID int64) (*batch.CompletionReport, error)
	Cancel(ctx context.Context, jobID int64) (bool, error)
	RefreshJob(ctx context.Context, jobID int64) error
}

// JobService creates jobs and drives their lifecycle.
type JobService struct {
	store   *queue.Store
	library *library.Store
	batch   BatchDriver
	logger  *slog.Logger
}

// NewJobService wires a job service over the queue and library stores. A nil
// driver disables batch-specific actions.
func NewJobService(store *queue.Store, lib *library.Store, driver BatchDriver, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &JobService{
		store:   store,
		library: lib,
		batch:   driver,
		logger:  logging.NewComponentLogger(logger, "api"),
	}
}

// jobTypeFor maps the exposed type names onto queue job types. The stored
// names are accepted too so round-tripped values keep working.
func jobTypeFor(value string) (queue.JobType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ocr":
		return queue.TypeBatchOCR, true
	case "translate":
		return queue.TypeBatchTranslate, true
	case "pipeline":
		return queue.TypePipeline, true
	}
	return queue.ParseJobType(strings.TrimSpace(value))
}

// normalizeLanguage resolves a language reference to its code, keeping
// unrecognized input verbatim so the prompt builder can still name it.
func normalizeLanguage(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if code := language.Normalize(trimmed); code != "" {
		return code
	}
	return trimmed
}

// Create validates the request and enqueues a pending job. An empty page
// selection targets every page of the book in reading order.
func (s *JobService) Create(ctx context.Context, req CreateJobRequest) (*CreateJobResponse, error) {
	jobType, ok := jobTypeFor(req.Type)
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "api", "create job", fmt.Sprintf("unknown job type %q", req.Type), nil)
	}
	book, err := s.library.GetBook(ctx, req.BookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "create job", fmt.Sprintf("book %d", req.BookID), nil)
	}

	pageIDs, err := s.resolvePages(ctx, book.ID, req.PageIDs)
	if err != nil {
		return nil, err
	}

	lang := normalizeLanguage(req.Language)
	if lang == "" {
		lang = normalizeLanguage(book.Language)
	}

	job, err := s.store.NewJob(ctx, queue.NewJobParams{
		Type:           jobType,
		BookID:         book.ID,
		PageIDs:        pageIDs,
		Model:          strings.TrimSpace(req.Model),
		Language:       lang,
		TargetLanguage: normalizeLanguage(req.TargetLanguage),
		Parallelism:    req.Parallelism,
		Overwrite:      req.Overwrite,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.InfoContext(ctx, "job queued",
		logging.Int64("job_id", job.ID),
		logging.String("type", string(job.Type)),
		logging.Int64("book_id", book.ID),
		logging.Int("pages", job.Total),
	)
	return &CreateJobResponse{JobID: job.ID, PagesQueued: job.Total, Status: string(job.Status)}, nil
}

// resolvePages checks an explicit selection against the book, or falls back
// to the whole book when no pages were named.
func (s *JobService) resolvePages(ctx context.Context, bookID int64, requested []int64) ([]int64, error) {
	if len(requested) == 0 {
		ids, err := s.library.PageIDsForBook(ctx, bookID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, services.Wrap(services.ErrValidation, "api", "create job", fmt.Sprintf("book %d has no pages", bookID), nil)
		}
		return ids, nil
	}

	seen := make(map[int64]struct{}, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			return nil, services.Wrap(services.ErrValidation, "api", "create job", fmt.Sprintf("page %d listed twice", id), nil)
		}
		seen[id] = struct{}{}
	}

	pages, err := s.library.PagesByIDs(ctx, requested)
	if err != nil {
		return nil, err
	}
	for _, id := range requested {
		page, ok := pages[id]
		if !ok {
			return nil, services.Wrap(services.ErrNotFound, "api", "create job", fmt.Sprintf("page %d", id), nil)
		}
		if page.BookID != bookID {
			return nil, services.Wrap(services.ErrValidation, "api", "create job", fmt.Sprintf("page %d belongs to book %d", id, page.BookID), nil)
		}
	}
	return requested, nil
}

// List returns jobs filtered by status and optionally by book.
func (s *JobService) List(ctx context.Context, statuses []queue.Status, bookID int64) ([]Job, error) {
	if bookID > 0 {
		jobs, err := s.store.ListByBook(ctx, bookID)
		if err != nil {
			return nil, err
		}
		if len(statuses) > 0 {
			wanted := make(map[queue.Status]struct{}, len(statuses))
			for _, status := range statuses {
				wanted[status] = struct{}{}
			}
			kept := make([]*queue.Job, 0, len(jobs))
			for _, job := range jobs {
				if _, ok := wanted[job.Status]; ok {
					kept = append(kept, job)
				}
			}
			jobs = kept
		}
		return FromJobs(jobs), nil
	}

	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Describe fetches one job, or nil when it does not exist. Batch jobs are
// re-polled first so status queries reflect the provider's latest reported
// state; a poll failure still returns the best-known local state.
func (s *JobService) Describe(ctx context.Context, id int64) (*Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	if job.Type.IsBatch() && s.batch != nil {
		if err := s.batch.RefreshJob(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WarnContext(ctx, "status re-poll failed",
				logging.Error(err),
				logging.Int64("job_id", id),
			)
		}
	}
	return s.describeLocal(ctx, id)
}

// describeLocal assembles the DTO from stored state without touching the
// provider.
func (s *JobService) describeLocal(ctx context.Context, id int64) (*Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	dto := FromJob(job)
	if job.Type.IsBatch() {
		sub, err := s.store.GetSubmission(ctx, id)
		if err != nil {
			return nil, err
		}
		dto.Batch = FromSubmission(sub)
	}
	return &dto, nil
}

// Complete writes a finished batch's results back to the library. Repeat
// calls report the recorded counts.
func (s *JobService) Complete(ctx context.Context, id int64) (*batch.CompletionReport, error) {
	if s.batch == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "complete", "batch lane is not available", nil)
	}
	return s.batch.Complete(ctx, id)
}

// Cancel stops a job. Batch jobs attempt a provider cancel first; the local
// job leaves the queue regardless.
func (s *JobService) Cancel(ctx context.Context, id int64) (*JobActionResponse, error) {
	job, err := s.require(ctx, id)
	if err != nil {
		return nil, err
	}

	var changed bool
	if job.Type.IsBatch() && s.batch != nil {
		changed, err = s.batch.Cancel(ctx, id)
		if err != nil {
			return nil, err
		}
	} else {
		for _, from := range []queue.Status{queue.StatusPending, queue.StatusProcessing, queue.StatusPaused} {
			ok, err := s.store.TransitionStatusWithError(ctx, id, from, queue.StatusCancelled, queue.UserStopReason)
			if err != nil {
				return nil, err
			}
			if ok {
				changed = true
				break
			}
		}
	}
	if changed {
		s.logger.InfoContext(ctx, "job cancelled", logging.Int64("job_id", id))
	}
	return s.actionResponse(ctx, id, changed)
}

// Pause asks a running job to stop after the page it is working on.
func (s *JobService) Pause(ctx context.Context, id int64) (*JobActionResponse, error) {
	if _, err := s.require(ctx, id); err != nil {
		return nil, err
	}
	changed, err := s.store.TransitionStatus(ctx, id, queue.StatusProcessing, queue.StatusPaused)
	if err != nil {
		return nil, err
	}
	return s.actionResponse(ctx, id, changed)
}

// Resume hands a paused job back to the scheduler. The next poll claims it
// and recorded results keep it from repeating finished pages.
func (s *JobService) Resume(ctx context.Context, id int64) (*JobActionResponse, error) {
	if _, err := s.require(ctx, id); err != nil {
		return nil, err
	}
	changed, err := s.store.TransitionStatus(ctx, id, queue.StatusPaused, queue.StatusPending)
	if err != nil {
		return nil, err
	}
	return s.actionResponse(ctx, id, changed)
}

// Retry moves a failed job back to pending.
func (s *JobService) Retry(ctx context.Context, id int64) (*JobActionResponse, error) {
	if _, err := s.require(ctx, id); err != nil {
		return nil, err
	}
	count, err := s.store.RetryFailed(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.actionResponse(ctx, id, count > 0)
}

// Refresh forces a provider re-poll for one batch job and returns the
// reconciled record.
func (s *JobService) Refresh(ctx context.Context, id int64) (*Job, error) {
	job, err := s.require(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Type.IsBatch() {
		return nil, services.Wrap(services.ErrValidation, "api", "refresh", fmt.Sprintf("job %d is not a batch job", id), nil)
	}
	if s.batch == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "refresh", "batch lane is not available", nil)
	}
	if err := s.batch.RefreshJob(ctx, id); err != nil {
		return nil, err
	}
	dto, err := s.describeLocal(ctx, id)
	if err != nil {
		return nil, err
	}
	if dto == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "refresh", fmt.Sprintf("job %d", id), nil)
	}
	return dto, nil
}

func (s *JobService) require(ctx context.Context, id int64) (*queue.Job, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "job", fmt.Sprintf("job %d", id), nil)
	}
	return job, nil
}

func (s *JobService) actionResponse(ctx context.Context, id int64, changed bool) (*JobActionResponse, error) {
	dto, err := s.describeLocal(ctx, id)
	if err != nil {
		return nil, err
	}
	if dto == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "job", fmt.Sprintf("job %d", id), nil)
	}
	return &JobActionResponse{Job: *dto, Changed: changed}, nil
}
