// Package sweeper audits batch bookkeeping that can no longer make progress
// and moves it into the job archive. Submissions that were never handed to
// the provider are orphans; submissions whose results lapsed at the provider
// before collection are expired. Both are archived verbatim with a deletion
// reason and removed from the live queue, one transaction per job.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"folio/internal/config"
	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/queue"
)

// BookImpact aggregates swept work for one book so operators can judge the
// re-processing cost of a sweep.
type BookImpact struct {
	BookID   int64  `json:"book_id"`
	Title    string `json:"title,omitempty"`
	Jobs     int    `json:"jobs"`
	Pages    int    `json:"pages"`
	Orphaned int    `json:"orphaned"`
	Expired  int    `json:"expired"`
}

// Report summarizes one sweep pass.
type Report struct {
	SweptAt  time.Time    `json:"swept_at"`
	Archived int          `json:"archived"`
	Orphaned int          `json:"orphaned"`
	Expired  int          `json:"expired"`
	Pages    int          `json:"pages"`
	Books    []BookImpact `json:"books,omitempty"`
}

// Sweeper periodically classifies stale batch submissions and archives their
// jobs. It runs independently of the controllers and only touches jobs that
// no controller holds a claim on.
type Sweeper struct {
	cfg      *config.Config
	store    *queue.Store
	library  *library.Store
	notifier notifications.Service
	logger   *slog.Logger
}

// NewSweeper builds a sweeper. A nil notifier falls back to the configured
// notification service and a nil logger discards output.
func NewSweeper(cfg *config.Config, store *queue.Store, lib *library.Store, notifier notifications.Service, logger *slog.Logger) *Sweeper {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sweeper{
		cfg:      cfg,
		store:    store,
		library:  lib,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "sweeper"),
	}
}

// Run executes sweep passes on the configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.Retention.SweepInterval) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.WarnContext(ctx, "sweep pass failed",
					logging.Error(err),
				)
			}
		}
	}
}

// Sweep runs one audit pass over every batch submission. Classified jobs are
// archived with their deletion reason; everything else is left untouched.
// Archive failures on individual jobs are logged and skipped so one bad row
// cannot stall the pass.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	return s.run(ctx, false)
}

// Audit classifies without archiving, so operators can preview what the next
// sweep would remove. No notification is sent.
func (s *Sweeper) Audit(ctx context.Context) (*Report, error) {
	return s.run(ctx, true)
}

func (s *Sweeper) run(ctx context.Context, dryRun bool) (*Report, error) {
	subs, err := s.store.ListSubmissions(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(s.cfg.Retention.RetentionDays) * 24 * time.Hour)
	report := &Report{SweptAt: now}
	impacts := make(map[int64]*BookImpact)

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		job, err := s.store.GetByID(ctx, sub.JobID)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to load job for submission",
				logging.Int64("job_id", sub.JobID),
				logging.Error(err),
			)
			continue
		}
		if job == nil {
			continue
		}

		reason, ok := classify(job, sub, cutoff)
		if !ok {
			continue
		}

		if !dryRun {
			if err := s.store.ArchiveJob(ctx, job.ID, reason); err != nil {
				if errors.Is(err, context.Canceled) {
					return report, err
				}
				s.logger.WarnContext(ctx, "failed to archive job",
					logging.Int64("job_id", job.ID),
					logging.String("reason", reason),
					logging.Error(err),
				)
				continue
			}
		}

		report.Archived++
		report.Pages += len(job.PageIDs)
		impact := impacts[job.BookID]
		if impact == nil {
			impact = &BookImpact{BookID: job.BookID}
			impacts[job.BookID] = impact
		}
		impact.Jobs++
		impact.Pages += len(job.PageIDs)
		switch reason {
		case queue.ReasonOrphan:
			report.Orphaned++
			impact.Orphaned++
		case queue.ReasonExpired:
			report.Expired++
			impact.Expired++
		}

		if !dryRun {
			s.logger.InfoContext(ctx, "archived batch job",
				logging.Int64("job_id", job.ID),
				logging.Int64("book_id", job.BookID),
				logging.String("reason", reason),
				logging.Int("pages", len(job.PageIDs)),
			)
		}
	}

	report.Books = s.collectImpacts(ctx, impacts)

	if dryRun || report.Archived == 0 {
		if report.Archived == 0 {
			s.logger.DebugContext(ctx, "sweep found nothing to archive",
				logging.Int("submissions", len(subs)),
			)
		}
		return report, nil
	}

	s.logger.InfoContext(ctx, "sweep completed",
		logging.Int("archived", report.Archived),
		logging.Int("orphaned", report.Orphaned),
		logging.Int("expired", report.Expired),
		logging.Int("pages", report.Pages),
	)
	if err := s.notifier.Publish(ctx, notifications.EventSweepCompleted, notifications.Payload{
		"archived": strconv.Itoa(report.Archived),
		"orphaned": strconv.Itoa(report.Orphaned),
		"expired":  strconv.Itoa(report.Expired),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to send sweep notification",
			logging.Error(err),
		)
	}
	return report, nil
}

// classify decides whether a submission's job should be archived and why.
// Jobs with a live claim are always left alone; the owning controller is
// still working on them. Saved jobs are the success path and are never swept.
func classify(job *queue.Job, sub *queue.BatchSubmission, cutoff time.Time) (string, bool) {
	if job.LastHeartbeat != nil {
		return "", false
	}
	if job.Status == queue.StatusSaved || sub.SavedAt != nil {
		return "", false
	}

	if sub.IsOrphan() {
		// Never-submitted bookkeeping stays around for the retention window
		// so pending retries and paused jobs are not destroyed.
		if job.UpdatedAt.After(cutoff) {
			return "", false
		}
		return queue.ReasonOrphan, true
	}

	if sub.ExternalState == inference.BatchStateExpired || job.Status == queue.StatusExpired {
		return queue.ReasonExpired, true
	}
	// The provider finished but nobody collected the results before the
	// retention window closed; the provider has discarded them by now.
	if sub.ExternalState == inference.BatchStateSucceeded && !sub.UpdatedAt.After(cutoff) {
		return queue.ReasonExpired, true
	}
	return "", false
}

// collectImpacts resolves book titles best-effort and orders the per-book
// rollup by book id.
func (s *Sweeper) collectImpacts(ctx context.Context, impacts map[int64]*BookImpact) []BookImpact {
	if len(impacts) == 0 {
		return nil
	}
	books := make([]BookImpact, 0, len(impacts))
	for _, impact := range impacts {
		if s.library != nil {
			if book, err := s.library.GetBook(ctx, impact.BookID); err == nil && book != nil {
				impact.Title = book.Title
			}
		}
		books = append(books, *impact)
	}
	sort.Slice(books, func(i, j int) bool { return books[i].BookID < books[j].BookID })
	return books
}
