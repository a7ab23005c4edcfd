package batch_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"folio/internal/batch"
	"folio/internal/config"
	"folio/internal/imagestore"
	"folio/internal/imaging"
	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/queue"
	"folio/internal/services"
	"folio/internal/testsupport"
)

type fakeGateway struct {
	mu      sync.Mutex
	submits [][]inference.KeyedRequest
	polls   []string
	fetches []string
	cancels []string

	submitHook func(model string, requests []inference.KeyedRequest) (*inference.BatchSubmission, error)
	pollHook   func(ref string) (*inference.BatchPoll, error)
	fetchHook  func(ref string) ([]inference.KeyedResult, error)
	cancelHook func(ref string) error
}

func (g *fakeGateway) SubmitBatch(_ context.Context, model string, requests []inference.KeyedRequest) (*inference.BatchSubmission, error) {
	g.mu.Lock()
	g.submits = append(g.submits, requests)
	call := len(g.submits)
	hook := g.submitHook
	g.mu.Unlock()
	if hook != nil {
		return hook(model, requests)
	}
	return &inference.BatchSubmission{
		ExternalRef:   fmt.Sprintf("operations/batch-%d", call),
		ExternalState: inference.BatchStatePending,
	}, nil
}

func (g *fakeGateway) PollBatch(_ context.Context, ref string) (*inference.BatchPoll, error) {
	g.mu.Lock()
	g.polls = append(g.polls, ref)
	hook := g.pollHook
	g.mu.Unlock()
	if hook != nil {
		return hook(ref)
	}
	return &inference.BatchPoll{ExternalState: inference.BatchStateRunning}, nil
}

func (g *fakeGateway) FetchBatchResults(_ context.Context, ref string) ([]inference.KeyedResult, error) {
	g.mu.Lock()
	g.fetches = append(g.fetches, ref)
	hook := g.fetchHook
	g.mu.Unlock()
	if hook != nil {
		return hook(ref)
	}
	return nil, nil
}

func (g *fakeGateway) CancelBatch(_ context.Context, ref string) error {
	g.mu.Lock()
	g.cancels = append(g.cancels, ref)
	hook := g.cancelHook
	g.mu.Unlock()
	if hook != nil {
		return hook(ref)
	}
	return nil
}

func (g *fakeGateway) BatchModelName() string { return "fake-batch-model" }

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

func (g *fakeGateway) submittedUnits(i int) []inference.KeyedRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits[i]
}

func (g *fakeGateway) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.polls)
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.fetches)
}

func (g *fakeGateway) cancelCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancels)
}

type batchFixture struct {
	cfg        *config.Config
	store      *queue.Store
	library    *library.Store
	images     imagestore.Store
	gateway    *fakeGateway
	controller *batch.Controller
	book       *library.Book
}

func newBatchFixture(t *testing.T, mutate ...func(*config.Config)) *batchFixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)
	lib := testsupport.MustOpenLibrary(t, cfg)
	images := imagestore.NewLocal(cfg.Paths.ImagesDir)
	gateway := &fakeGateway{}
	controller := batch.NewController(cfg, store, lib, images, gateway, nil, logging.NewNop())
	book := testsupport.NewBook(t, lib, "Batch Manuscript")

	return &batchFixture{
		cfg:        cfg,
		store:      store,
		library:    lib,
		images:     images,
		gateway:    gateway,
		controller: controller,
		book:       book,
	}
}

func (f *batchFixture) addPage(t *testing.T, name string) *library.Page {
	t.Helper()

	path := filepath.Join(f.cfg.Paths.ImagesDir, name)
	testsupport.WritePageImage(t, path, 400, 300, 180)
	page, err := f.library.AddPage(context.Background(), library.NewPageParams{
		BookID: f.book.ID,
		Photo:  path,
	})
	if err != nil {
		t.Fatalf("AddPage: %v", err)
	}
	return page
}

func (f *batchFixture) saveOCR(t *testing.T, pageID int64, text string) {
	t.Helper()
	if err := f.library.SaveOCR(context.Background(), pageID, &library.OCRResult{Data: text}); err != nil {
		t.Fatalf("SaveOCR: %v", err)
	}
}

func (f *batchFixture) newJob(t *testing.T, jobType queue.JobType, params queue.NewJobParams, pages ...*library.Page) *queue.Job {
	t.Helper()

	params.Type = jobType
	params.BookID = f.book.ID
	for _, page := range pages {
		params.PageIDs = append(params.PageIDs, page.ID)
	}
	job, err := f.store.NewJob(context.Background(), params)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func (f *batchFixture) claim(t *testing.T, job *queue.Job) {
	t.Helper()

	claimed, err := f.store.TransitionStatus(context.Background(), job.ID, queue.StatusPending, queue.StatusProcessing)
	if err != nil {
		t.Fatalf("claim job %d: %v", job.ID, err)
	}
	if !claimed {
		t.Fatalf("job %d was not claimable", job.ID)
	}
}

func (f *batchFixture) submit(t *testing.T, job *queue.Job) {
	t.Helper()

	f.claim(t, job)
	if err := f.controller.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
}

func (f *batchFixture) reloadJob(t *testing.T, id int64) *queue.Job {
	t.Helper()

	job, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job == nil {
		t.Fatalf("job %d disappeared", id)
	}
	return job
}

func (f *batchFixture) submission(t *testing.T, jobID int64) *queue.BatchSubmission {
	t.Helper()

	sub, err := f.store.GetSubmission(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	return sub
}

func TestBatchSubmitBuildsAndReleasesClaim(t *testing.T) {
	f := newBatchFixture(t)
	pages := []*library.Page{
		f.addPage(t, "page-001.png"),
		f.addPage(t, "page-002.png"),
		f.addPage(t, "page-003.png"),
	}
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{Language: "la"}, pages...)

	f.submit(t, job)

	if f.gateway.submitCount() != 1 {
		t.Fatalf("expected one submission, got %d", f.gateway.submitCount())
	}
	units := f.gateway.submittedUnits(0)
	if len(units) != len(pages) {
		t.Fatalf("expected %d units, got %d", len(pages), len(units))
	}
	for i, page := range pages {
		unit := units[i]
		if unit.Key != strconv.FormatInt(page.ID, 10) {
			t.Fatalf("unit %d key = %q, want page %d", i, unit.Key, page.ID)
		}
		if len(unit.Parts) != 2 {
			t.Fatalf("unit %d has %d parts", i, len(unit.Parts))
		}
		raw, err := os.ReadFile(page.Photo)
		if err != nil {
			t.Fatalf("read page image: %v", err)
		}
		if !bytes.Equal(unit.Parts[0].Image, raw) {
			t.Fatalf("unit %d image does not match page %d photo", i, page.ID)
		}
		if unit.Parts[0].MIME != "image/png" {
			t.Fatalf("unit %d MIME = %q", i, unit.Parts[0].MIME)
		}
	}
	if want := inference.TranscriptionPrompt("la", ""); units[0].Parts[1].Text != want {
		t.Fatalf("unexpected first unit prompt:\n%s", units[0].Parts[1].Text)
	}

	sub := f.submission(t, job.ID)
	if sub == nil {
		t.Fatal("expected a submission row")
	}
	if sub.ExternalRef != "operations/batch-1" {
		t.Fatalf("unexpected external ref %q", sub.ExternalRef)
	}
	if sub.ExternalState != inference.BatchStatePending {
		t.Fatalf("unexpected external state %q", sub.ExternalState)
	}
	if sub.SubmittedAt == nil {
		t.Fatal("expected submitted_at to be stamped")
	}

	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Status != queue.StatusProcessing {
		t.Fatalf("expected job parked in processing, got %s", reloaded.Status)
	}
	if reloaded.LastHeartbeat != nil {
		t.Fatal("expected claim released after submission")
	}
}

func TestBatchSubmitCarriesForwardExistingText(t *testing.T) {
	f := newBatchFixture(t)
	first := f.addPage(t, "page-001.png")
	second := f.addPage(t, "page-002.png")
	f.saveOCR(t, first.ID, "the first page ends mid-sentence")

	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{Language: "la"}, first, second)
	f.submit(t, job)

	units := f.gateway.submittedUnits(0)
	if len(units) != 1 {
		t.Fatalf("expected only the untranscribed page submitted, got %d units", len(units))
	}
	if units[0].Key != strconv.FormatInt(second.ID, 10) {
		t.Fatalf("unexpected unit key %q", units[0].Key)
	}
	if want := inference.TranscriptionPrompt("la", "the first page ends mid-sentence"); units[0].Parts[1].Text != want {
		t.Fatalf("expected continuity from the first page, got:\n%s", units[0].Parts[1].Text)
	}

	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Completed != 1 {
		t.Fatalf("expected the transcribed page recorded as success, got completed=%d", reloaded.Completed)
	}
}

func TestBatchTranslateRecordsStructuralFailures(t *testing.T) {
	f := newBatchFixture(t)
	first := f.addPage(t, "page-001.png")
	second := f.addPage(t, "page-002.png")
	third := f.addPage(t, "page-003.png")
	f.saveOCR(t, first.ID, "first page text")
	f.saveOCR(t, third.ID, "third page text")

	job := f.newJob(t, queue.TypeBatchTranslate, queue.NewJobParams{Language: "la", TargetLanguage: "en"}, first, second, third)
	f.submit(t, job)

	units := f.gateway.submittedUnits(0)
	if len(units) != 2 {
		t.Fatalf("expected two units, got %d", len(units))
	}
	if want := inference.TranslationPrompt("third page text", "la", "en", "first page text"); units[1].Parts[0].Text != want {
		t.Fatalf("expected context from the first page's transcription, got:\n%s", units[1].Parts[0].Text)
	}

	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Failed != 1 {
		t.Fatalf("expected one structural failure, got %d", reloaded.Failed)
	}
	var failure *queue.PageResult
	for i := range reloaded.Results {
		if reloaded.Results[i].PageID == second.ID {
			failure = &reloaded.Results[i]
		}
	}
	if failure == nil || failure.Success {
		t.Fatalf("expected failed result for page without transcription, got %+v", failure)
	}
	if failure.Stage != "translate" || failure.Error != "page has no transcription to translate" {
		t.Fatalf("unexpected structural failure %+v", failure)
	}
}

func TestBatchSubmitAllPagesResolvedLocally(t *testing.T) {
	f := newBatchFixture(t)
	first := f.addPage(t, "page-001.png")
	second := f.addPage(t, "page-002.png")
	f.saveOCR(t, first.ID, "already transcribed")
	f.saveOCR(t, second.ID, "also transcribed")

	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, first, second)
	f.submit(t, job)

	if f.gateway.submitCount() != 0 {
		t.Fatalf("expected no provider submission, got %d", f.gateway.submitCount())
	}
	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", reloaded.Status)
	}
	if reloaded.Completed != 2 {
		t.Fatalf("expected both pages recorded, got %d", reloaded.Completed)
	}
	sub := f.submission(t, job.ID)
	if sub == nil || sub.ExternalRef != "" {
		t.Fatalf("expected an unsubmitted bookkeeping row, got %+v", sub)
	}
}

func TestBatchSubmitAllPagesFailLocally(t *testing.T) {
	f := newBatchFixture(t)
	first := f.addPage(t, "page-001.png")
	second := f.addPage(t, "page-002.png")

	job := f.newJob(t, queue.TypeBatchTranslate, queue.NewJobParams{}, first, second)
	f.submit(t, job)

	if f.gateway.submitCount() != 0 {
		t.Fatalf("expected no provider submission, got %d", f.gateway.submitCount())
	}
	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", reloaded.Status)
	}
	if reloaded.ErrorMessage != "all pages failed" {
		t.Fatalf("unexpected error message %q", reloaded.ErrorMessage)
	}
}

func TestBatchSubmitTransientFailureRequeues(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	f.gateway.submitHook = func(string, []inference.KeyedRequest) (*inference.BatchSubmission, error) {
		return nil, services.Wrap(services.ErrTransient, "inference", "batch submit", "provider unavailable", nil)
	}

	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)

	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Status != queue.StatusPending {
		t.Fatalf("expected job requeued, got %s", reloaded.Status)
	}
	if !strings.Contains(reloaded.ErrorMessage, "provider unavailable") {
		t.Fatalf("expected failure recorded on the job, got %q", reloaded.ErrorMessage)
	}
	if sub := f.submission(t, job.ID); sub == nil || sub.ExternalRef != "" {
		t.Fatalf("expected no external ref, got %+v", sub)
	}
}

func TestBatchSubmitValidationFailureSurfaces(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	f.gateway.submitHook = func(string, []inference.KeyedRequest) (*inference.BatchSubmission, error) {
		return nil, services.Wrap(services.ErrValidation, "inference", "batch submit", "payload too large", nil)
	}

	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.claim(t, job)
	err := f.controller.Process(context.Background(), job)
	if err == nil {
		t.Fatal("expected Process to surface the structural failure")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation class, got %v", err)
	}
}

func TestBatchReprocessAfterSubmitDoesNotResubmit(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)

	// A crash between persisting the external ref and releasing the claim
	// leads to the job being processed again; the recorded ref must win.
	if err := f.controller.Process(context.Background(), job); err != nil {
		t.Fatalf("Process after submit: %v", err)
	}
	if f.gateway.submitCount() != 1 {
		t.Fatalf("expected a single submission, got %d", f.gateway.submitCount())
	}
	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Status != queue.StatusProcessing || reloaded.LastHeartbeat != nil {
		t.Fatalf("expected released processing job, got status=%s heartbeat=%v", reloaded.Status, reloaded.LastHeartbeat)
	}
}

func TestBatchRefreshRecordsProviderProgress(t *testing.T) {
	f := newBatchFixture(t)
	pages := []*library.Page{
		f.addPage(t, "page-001.png"),
		f.addPage(t, "page-002.png"),
		f.addPage(t, "page-003.png"),
	}
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, pages...)
	f.submit(t, job)

	f.gateway.pollHook = func(string) (*inference.BatchPoll, error) {
		return &inference.BatchPoll{
			ExternalState: inference.BatchStateRunning,
			Stats:         inference.BatchStats{Total: 3, Pending: 1, Succeeded: 2},
		}, nil
	}
	if err := f.controller.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	sub := f.submission(t, job.ID)
	if sub.ExternalState != inference.BatchStateRunning {
		t.Fatalf("expected running state recorded, got %q", sub.ExternalState)
	}
	if sub.CompletedPages != 2 || sub.FailedPages != 0 {
		t.Fatalf("unexpected progress counts %d/%d", sub.CompletedPages, sub.FailedPages)
	}
	if got := f.reloadJob(t, job.ID); got.Status != queue.StatusProcessing {
		t.Fatalf("expected job still processing, got %s", got.Status)
	}
}

func TestBatchRefreshSkipsClaimedJobs(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.claim(t, job)

	if err := f.controller.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.gateway.pollCount() != 0 {
		t.Fatalf("expected claimed job left to its controller, got %d polls", f.gateway.pollCount())
	}
}

func TestBatchRefreshFailsJobWhenProviderFails(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)

	f.gateway.pollHook = func(string) (*inference.BatchPoll, error) {
		return &inference.BatchPoll{
			ExternalState: inference.BatchStateFailed,
			Done:          true,
			Message:       "quota exhausted",
		}, nil
	}
	if err := f.controller.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", reloaded.Status)
	}
	if reloaded.ErrorMessage != "quota exhausted" {
		t.Fatalf("unexpected error message %q", reloaded.ErrorMessage)
	}
}

func TestBatchRefreshExpiresJob(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)

	f.gateway.pollHook = func(string) (*inference.BatchPoll, error) {
		return &inference.BatchPoll{ExternalState: inference.BatchStateExpired, Done: true}, nil
	}
	if err := f.controller.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := f.reloadJob(t, job.ID); got.Status != queue.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestBatchRefreshLeavesUnknownStatesAlone(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)

	f.gateway.pollHook = func(string) (*inference.BatchPoll, error) {
		return &inference.BatchPoll{ExternalState: "BATCH_STATE_MIGRATING"}, nil
	}
	if err := f.controller.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := f.reloadJob(t, job.ID); got.Status != queue.StatusProcessing {
		t.Fatalf("expected job untouched, got %s", got.Status)
	}
	if sub := f.submission(t, job.ID); sub.ExternalState != "BATCH_STATE_MIGRATING" {
		t.Fatalf("expected raw state recorded for operators, got %q", sub.ExternalState)
	}
}

func TestBatchRefreshCompletesAndSavesResults(t *testing.T) {
	f := newBatchFixture(t)
	first := f.addPage(t, "page-001.png")
	second := f.addPage(t, "page-002.png")
	third := f.addPage(t, "page-003.png")
	doomed := f.addPage(t, "page-004.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{Language: "la"}, first, second, third, doomed)

	if _, err := f.library.DeletePage(context.Background(), doomed.ID); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	f.submit(t, job)
	if len(f.gateway.submittedUnits(0)) != 3 {
		t.Fatalf("expected three units after structural failure, got %d", len(f.gateway.submittedUnits(0)))
	}

	f.gateway.pollHook = func(string) (*inference.BatchPoll, error) {
		return &inference.BatchPoll{
			ExternalState: inference.BatchStateSucceeded,
			Done:          true,
			Stats:         inference.BatchStats{Total: 3, Succeeded: 2, Failed: 1},
		}, nil
	}
	f.gateway.fetchHook = func(string) ([]inference.KeyedResult, error) {
		return []inference.KeyedResult{
			{Key: strconv.FormatInt(first.ID, 10), Text: "first transcription", Usage: inference.Usage{InputTokens: 10, OutputTokens: 5}},
			{Key: strconv.FormatInt(second.ID, 10), Err: "blocked by safety filter"},
			{Key: strconv.FormatInt(third.ID, 10), Text: "third transcription"},
		}, nil
	}

	if err := f.controller.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Status != queue.StatusSaved {
		t.Fatalf("expected saved, got %s", reloaded.Status)
	}
	if reloaded.Completed != 2 || reloaded.Failed != 2 {
		t.Fatalf("unexpected counters completed=%d failed=%d", reloaded.Completed, reloaded.Failed)
	}

	page, err := f.library.GetPage(context.Background(), first.ID)
	if err != nil || page == nil {
		t.Fatalf("GetPage: %v", err)
	}
	if page.OCRText() != "first transcription" {
		t.Fatalf("unexpected transcription %q", page.OCRText())
	}
	if page.OCR == nil || page.OCR.Model != "fake-batch-model" {
		t.Fatalf("expected batch model recorded, got %+v", page.OCR)
	}

	sub := f.submission(t, job.ID)
	if sub.SavedAt == nil {
		t.Fatal("expected saved_at stamped")
	}
	if f.gateway.fetchCount() != 1 {
		t.Fatalf("expected one result download, got %d", f.gateway.fetchCount())
	}
}

func TestBatchCompleteIsIdempotent(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)

	f.gateway.pollHook = func(string) (*inference.BatchPoll, error) {
		return &inference.BatchPoll{
			ExternalState: inference.BatchStateSucceeded,
			Done:          true,
			Stats:         inference.BatchStats{Total: 1, Succeeded: 1},
		}, nil
	}
	f.gateway.fetchHook = func(string) ([]inference.KeyedResult, error) {
		return []inference.KeyedResult{{Key: strconv.FormatInt(page.ID, 10), Text: "transcribed"}}, nil
	}

	report, err := f.controller.Complete(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if report.AlreadySaved || report.Saved != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	again, err := f.controller.Complete(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if !again.AlreadySaved {
		t.Fatal("expected repeat completion to report already saved")
	}
	if again.Saved != 1 {
		t.Fatalf("expected recorded count reported, got %d", again.Saved)
	}
	if f.gateway.fetchCount() != 1 {
		t.Fatalf("expected results downloaded once, got %d", f.gateway.fetchCount())
	}
}

func TestBatchCompleteRejectsUnfinishedBatch(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)

	f.gateway.pollHook = func(string) (*inference.BatchPoll, error) {
		return &inference.BatchPoll{ExternalState: inference.BatchStateRunning}, nil
	}

	_, err := f.controller.Complete(context.Background(), job.ID)
	if err == nil {
		t.Fatal("expected completion of a running batch to fail")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation class, got %v", err)
	}
	if got := f.reloadJob(t, job.ID); got.Status != queue.StatusProcessing {
		t.Fatalf("expected job untouched, got %s", got.Status)
	}
}

func TestBatchCompleteRecordsMissingUnits(t *testing.T) {
	f := newBatchFixture(t)
	first := f.addPage(t, "page-001.png")
	second := f.addPage(t, "page-002.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, first, second)
	f.submit(t, job)

	f.gateway.pollHook = func(string) (*inference.BatchPoll, error) {
		return &inference.BatchPoll{ExternalState: inference.BatchStateSucceeded, Done: true}, nil
	}
	f.gateway.fetchHook = func(string) ([]inference.KeyedResult, error) {
		return []inference.KeyedResult{{Key: strconv.FormatInt(first.ID, 10), Text: "only result"}}, nil
	}

	report, err := f.controller.Complete(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if report.Saved != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	reloaded := f.reloadJob(t, job.ID)
	for _, result := range reloaded.Results {
		if result.PageID == second.ID {
			if result.Success || result.Error != "provider returned no result for page" {
				t.Fatalf("unexpected result for dropped page %+v", result)
			}
		}
	}
}

func TestBatchCancelStopsProviderAndJob(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)
	f.gateway.cancelHook = func(string) error {
		return errors.New("provider unreachable")
	}

	changed, err := f.controller.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !changed {
		t.Fatal("expected cancel to change the job")
	}
	if f.gateway.cancelCount() != 1 {
		t.Fatalf("expected provider cancel attempted, got %d", f.gateway.cancelCount())
	}

	reloaded := f.reloadJob(t, job.ID)
	if reloaded.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled despite provider failure, got %s", reloaded.Status)
	}
	if reloaded.ErrorMessage != queue.UserStopReason {
		t.Fatalf("unexpected stop reason %q", reloaded.ErrorMessage)
	}
}

func TestBatchCancelPendingSkipsProvider(t *testing.T) {
	f := newBatchFixture(t)
	page := f.addPage(t, "page-001.png")
	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)

	changed, err := f.controller.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !changed {
		t.Fatal("expected cancel to change the job")
	}
	if f.gateway.cancelCount() != 0 {
		t.Fatalf("expected no provider call for an unsubmitted job, got %d", f.gateway.cancelCount())
	}
	if got := f.reloadJob(t, job.ID); got.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestBatchSubmitScalesOversizedImages(t *testing.T) {
	f := newBatchFixture(t, func(cfg *config.Config) {
		cfg.Batch.MaxImageEdge = 256
	})

	path := filepath.Join(f.cfg.Paths.ImagesDir, "spread-001.png")
	testsupport.WritePageImage(t, path, 1000, 400, 500)
	page, err := f.library.AddPage(context.Background(), library.NewPageParams{
		BookID: f.book.ID,
		Photo:  path,
	})
	if err != nil {
		t.Fatalf("AddPage: %v", err)
	}

	job := f.newJob(t, queue.TypeBatchOCR, queue.NewJobParams{}, page)
	f.submit(t, job)

	units := f.gateway.submittedUnits(0)
	if len(units) != 1 {
		t.Fatalf("expected one unit, got %d", len(units))
	}
	if units[0].Parts[0].MIME != "image/jpeg" {
		t.Fatalf("expected re-encoded JPEG, got %q", units[0].Parts[0].MIME)
	}
	img, _, err := imaging.Decode(bytes.NewReader(units[0].Parts[0].Image))
	if err != nil {
		t.Fatalf("decode submitted image: %v", err)
	}
	if got := img.Bounds().Dx(); got != 256 {
		t.Fatalf("expected 256px longest edge, got %dpx", got)
	}
}
