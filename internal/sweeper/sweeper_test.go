package sweeper_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"folio/internal/config"
	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/queue"
	"folio/internal/sweeper"
	"folio/internal/testsupport"
)

type recordingNotifier struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingNotifier) published() ([]notifications.Event, []notifications.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifications.Event(nil), r.events...), append([]notifications.Payload(nil), r.payloads...)
}

type sweepFixture struct {
	cfg      *config.Config
	store    *queue.Store
	library  *library.Store
	notifier *recordingNotifier
	sweeper  *sweeper.Sweeper
	book     *library.Book
}

func newSweepFixture(t *testing.T, retentionDays int) *sweepFixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Retention.RetentionDays = retentionDays
	store := testsupport.MustOpenStore(t, cfg)
	lib := testsupport.MustOpenLibrary(t, cfg)
	notifier := &recordingNotifier{}
	book := testsupport.NewBook(t, lib, "Archive Manuscript")

	return &sweepFixture{
		cfg:      cfg,
		store:    store,
		library:  lib,
		notifier: notifier,
		sweeper:  sweeper.NewSweeper(cfg, store, lib, notifier, logging.NewNop()),
		book:     book,
	}
}

func (f *sweepFixture) newBatchJob(t *testing.T, bookID int64, pageIDs ...int64) *queue.Job {
	t.Helper()

	job, err := f.store.NewJob(context.Background(), queue.NewJobParams{
		Type:    queue.TypeBatchOCR,
		BookID:  bookID,
		PageIDs: pageIDs,
	})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func (f *sweepFixture) claim(t *testing.T, job *queue.Job) {
	t.Helper()

	claimed, err := f.store.TransitionStatus(context.Background(), job.ID, queue.StatusPending, queue.StatusProcessing)
	if err != nil || !claimed {
		t.Fatalf("claim job %d: claimed=%v err=%v", job.ID, claimed, err)
	}
}

// orphaned leaves a job in pending with a bookkeeping row and no external ref,
// the state a job holds while it waits for submission or a retry.
func (f *sweepFixture) orphaned(t *testing.T, job *queue.Job) {
	t.Helper()

	if err := f.store.CreateSubmission(context.Background(), job.ID); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
}

// submitted drives a job through claim, submission bookkeeping, and claim
// release, leaving it parked in processing with the given provider state.
func (f *sweepFixture) submitted(t *testing.T, job *queue.Job, ref, state string) {
	t.Helper()

	ctx := context.Background()
	f.claim(t, job)
	if err := f.store.CreateSubmission(ctx, job.ID); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if err := f.store.SetExternalRef(ctx, job.ID, ref); err != nil {
		t.Fatalf("SetExternalRef: %v", err)
	}
	if _, err := f.store.UpdateExternalState(ctx, job.ID, state, 0, 0); err != nil {
		t.Fatalf("UpdateExternalState: %v", err)
	}
	if err := f.store.ClearHeartbeat(ctx, job.ID); err != nil {
		t.Fatalf("ClearHeartbeat: %v", err)
	}
}

func (f *sweepFixture) sweep(t *testing.T) *sweeper.Report {
	t.Helper()

	report, err := f.sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	return report
}

func (f *sweepFixture) jobExists(t *testing.T, id int64) bool {
	t.Helper()

	job, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return job != nil
}

func TestSweepArchivesOrphanedSubmissions(t *testing.T) {
	f := newSweepFixture(t, 0)
	orphan := f.newBatchJob(t, f.book.ID, 11, 12, 13)
	f.orphaned(t, orphan)
	unbuilt := f.newBatchJob(t, f.book.ID, 21)

	report := f.sweep(t)

	if report.Archived != 1 || report.Orphaned != 1 || report.Expired != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Pages != 3 {
		t.Fatalf("expected 3 affected pages, got %d", report.Pages)
	}
	if f.jobExists(t, orphan.ID) {
		t.Fatal("expected orphaned job removed from the live queue")
	}
	if !f.jobExists(t, unbuilt.ID) {
		t.Fatal("expected job without bookkeeping row untouched")
	}

	records, err := f.store.ListArchive(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one archive record, got %d", len(records))
	}
	rec := records[0]
	if rec.JobID != orphan.ID || rec.BookID != f.book.ID {
		t.Fatalf("unexpected archive identity %+v", rec)
	}
	if rec.DeletionReason != queue.ReasonOrphan {
		t.Fatalf("unexpected deletion reason %q", rec.DeletionReason)
	}
	if rec.DeletedAt.IsZero() {
		t.Fatal("expected deleted_at stamped")
	}

	var snapshot queue.Job
	if err := json.Unmarshal([]byte(rec.JobJSON), &snapshot); err != nil {
		t.Fatalf("unmarshal job snapshot: %v", err)
	}
	if snapshot.ID != orphan.ID || len(snapshot.PageIDs) != 3 {
		t.Fatalf("snapshot lost fields: %+v", snapshot)
	}
	if rec.SubmissionJSON == "" {
		t.Fatal("expected submission snapshot preserved")
	}
}

func TestSweepRespectsRetentionGrace(t *testing.T) {
	f := newSweepFixture(t, 1)
	fresh := f.newBatchJob(t, f.book.ID, 11)
	f.orphaned(t, fresh)

	report := f.sweep(t)

	if report.Archived != 0 {
		t.Fatalf("expected fresh bookkeeping kept, got %+v", report)
	}
	if !f.jobExists(t, fresh.ID) {
		t.Fatal("expected job untouched inside the retention window")
	}
	if events, _ := f.notifier.published(); len(events) != 0 {
		t.Fatalf("expected no notification for an empty sweep, got %v", events)
	}
}

func TestSweepSkipsClaimedJobs(t *testing.T) {
	f := newSweepFixture(t, 0)
	job := f.newBatchJob(t, f.book.ID, 11)
	f.claim(t, job)
	f.orphaned(t, job)

	report := f.sweep(t)

	if report.Archived != 0 {
		t.Fatalf("expected claimed job left alone, got %+v", report)
	}
	if !f.jobExists(t, job.ID) {
		t.Fatal("expected claimed job untouched")
	}
}

func TestSweepArchivesProviderExpiredJobs(t *testing.T) {
	// A one-day retention proves expiry is archived immediately, not aged out.
	f := newSweepFixture(t, 1)
	job := f.newBatchJob(t, f.book.ID, 11, 12)
	f.submitted(t, job, "operations/batch-9", inference.BatchStateExpired)
	if _, err := f.store.TransitionStatus(context.Background(), job.ID, queue.StatusProcessing, queue.StatusExpired); err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}

	report := f.sweep(t)

	if report.Archived != 1 || report.Expired != 1 || report.Orphaned != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if f.jobExists(t, job.ID) {
		t.Fatal("expected expired job archived")
	}

	records, err := f.store.ListArchive(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}
	if len(records) != 1 || records[0].DeletionReason != queue.ReasonExpired {
		t.Fatalf("unexpected archive records %+v", records)
	}
}

func TestSweepArchivesUncollectedResults(t *testing.T) {
	f := newSweepFixture(t, 0)
	job := f.newBatchJob(t, f.book.ID, 11)
	f.submitted(t, job, "operations/batch-4", inference.BatchStateSucceeded)

	report := f.sweep(t)

	if report.Archived != 1 || report.Expired != 1 {
		t.Fatalf("expected uncollected success archived as expired, got %+v", report)
	}
	if f.jobExists(t, job.ID) {
		t.Fatal("expected job archived")
	}
}

func TestSweepKeepsAwaitedBatches(t *testing.T) {
	f := newSweepFixture(t, 1)
	running := f.newBatchJob(t, f.book.ID, 11)
	f.submitted(t, running, "operations/batch-1", inference.BatchStateRunning)
	succeededRecently := f.newBatchJob(t, f.book.ID, 12)
	f.submitted(t, succeededRecently, "operations/batch-2", inference.BatchStateSucceeded)

	report := f.sweep(t)

	if report.Archived != 0 {
		t.Fatalf("expected in-flight batches kept, got %+v", report)
	}
	if !f.jobExists(t, running.ID) || !f.jobExists(t, succeededRecently.ID) {
		t.Fatal("expected both submitted jobs untouched")
	}
}

func TestSweepKeepsSavedJobs(t *testing.T) {
	f := newSweepFixture(t, 0)
	job := f.newBatchJob(t, f.book.ID, 11)
	f.submitted(t, job, "operations/batch-7", inference.BatchStateSucceeded)

	ctx := context.Background()
	if _, err := f.store.TransitionStatus(ctx, job.ID, queue.StatusProcessing, queue.StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.store.TransitionStatus(ctx, job.ID, queue.StatusCompleted, queue.StatusSaved); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := f.store.MarkSaved(ctx, job.ID); err != nil {
		t.Fatalf("MarkSaved: %v", err)
	}

	report := f.sweep(t)

	if report.Archived != 0 {
		t.Fatalf("expected saved job kept, got %+v", report)
	}
	if !f.jobExists(t, job.ID) {
		t.Fatal("expected saved job untouched")
	}
}

func TestAuditClassifiesWithoutArchiving(t *testing.T) {
	f := newSweepFixture(t, 0)
	orphan := f.newBatchJob(t, f.book.ID, 11, 12)
	f.orphaned(t, orphan)

	report, err := f.sweeper.Audit(context.Background())
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if report.Archived != 1 || report.Orphaned != 1 || report.Pages != 2 {
		t.Fatalf("unexpected audit report %+v", report)
	}
	if !f.jobExists(t, orphan.ID) {
		t.Fatal("expected audit to leave the job in place")
	}
	if events, _ := f.notifier.published(); len(events) != 0 {
		t.Fatalf("expected no notification from an audit, got %v", events)
	}

	records, err := f.store.ListArchive(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListArchive: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no archive rows from an audit, got %d", len(records))
	}
}

func TestSweepReportsByBook(t *testing.T) {
	f := newSweepFixture(t, 0)
	second, err := f.library.CreateBook(context.Background(), library.NewBookParams{Title: "Second Manuscript"})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}

	orphanA := f.newBatchJob(t, f.book.ID, 11, 12)
	f.orphaned(t, orphanA)
	orphanB := f.newBatchJob(t, f.book.ID, 13, 14, 15)
	f.orphaned(t, orphanB)
	expired := f.newBatchJob(t, second.ID, 21, 22, 23, 24)
	f.submitted(t, expired, "operations/batch-3", inference.BatchStateExpired)

	report := f.sweep(t)

	if report.Archived != 3 || report.Orphaned != 2 || report.Expired != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Pages != 9 {
		t.Fatalf("expected 9 affected pages, got %d", report.Pages)
	}
	if len(report.Books) != 2 {
		t.Fatalf("expected two book rollups, got %+v", report.Books)
	}

	first := report.Books[0]
	if first.BookID != f.book.ID || first.Jobs != 2 || first.Pages != 5 || first.Orphaned != 2 || first.Expired != 0 {
		t.Fatalf("unexpected first book rollup %+v", first)
	}
	if first.Title != "Archive Manuscript" {
		t.Fatalf("expected title resolved, got %q", first.Title)
	}
	other := report.Books[1]
	if other.BookID != second.ID || other.Jobs != 1 || other.Pages != 4 || other.Expired != 1 {
		t.Fatalf("unexpected second book rollup %+v", other)
	}

	events, payloads := f.notifier.published()
	if len(events) != 1 || events[0] != notifications.EventSweepCompleted {
		t.Fatalf("expected one sweep notification, got %v", events)
	}
	payload := payloads[0]
	if payload["archived"] != "3" || payload["orphaned"] != "2" || payload["expired"] != "1" {
		t.Fatalf("unexpected notification payload %v", payload)
	}
}
