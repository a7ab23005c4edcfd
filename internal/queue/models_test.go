package queue_test

import (
	"testing"

	"folio/internal/queue"
)

func TestCanTransitionTable(t *testing.T) {
	allowed := map[queue.Status][]queue.Status{
		queue.StatusPending:    {queue.StatusProcessing, queue.StatusCancelled, queue.StatusFailed},
		queue.StatusProcessing: {queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled, queue.StatusPaused, queue.StatusPending, queue.StatusExpired},
		queue.StatusPaused:     {queue.StatusProcessing, queue.StatusPending, queue.StatusCancelled},
		queue.StatusCompleted:  {queue.StatusSaved},
		queue.StatusFailed:     {queue.StatusPending},
		queue.StatusCancelled:  {},
		queue.StatusSaved:      {},
		queue.StatusExpired:    {},
	}

	for _, from := range queue.AllStatuses() {
		allowedSet := make(map[queue.Status]struct{})
		for _, to := range allowed[from] {
			allowedSet[to] = struct{}{}
		}
		for _, to := range queue.AllStatuses() {
			_, want := allowedSet[to]
			if got := queue.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[queue.Status]bool{
		queue.StatusPending:    false,
		queue.StatusProcessing: false,
		queue.StatusPaused:     false,
		queue.StatusCompleted:  false,
		queue.StatusFailed:     false,
		queue.StatusCancelled:  true,
		queue.StatusSaved:      true,
		queue.StatusExpired:    true,
	}
	for status, want := range terminal {
		if got := queue.IsTerminal(status); got != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := queue.ParseStatus(" Processing "); !ok || status != queue.StatusProcessing {
		t.Fatalf("expected processing, got %q ok=%v", status, ok)
	}
	if _, ok := queue.ParseStatus("unknown"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
	if _, ok := queue.ParseStatus(""); ok {
		t.Fatal("expected empty status to be rejected")
	}
}

func TestParseJobType(t *testing.T) {
	cases := map[string]queue.JobType{
		"pipeline":        queue.TypePipeline,
		"BATCH_OCR":       queue.TypeBatchOCR,
		"batch_translate": queue.TypeBatchTranslate,
	}
	for input, want := range cases {
		got, ok := queue.ParseJobType(input)
		if !ok || got != want {
			t.Errorf("ParseJobType(%q) = %q ok=%v, want %q", input, got, ok, want)
		}
	}
	if _, ok := queue.ParseJobType("batch"); ok {
		t.Fatal("expected bare batch to be rejected")
	}
}

func TestRemainingPageIDsPreservesOrder(t *testing.T) {
	job := &queue.Job{
		PageIDs: []int64{11, 12, 13, 14, 15},
		Results: []queue.PageResult{
			{PageID: 13, Success: true},
			{PageID: 11, Success: false, Error: "ocr: malformed output"},
		},
	}

	remaining := job.RemainingPageIDs()
	want := []int64{12, 14, 15}
	if len(remaining) != len(want) {
		t.Fatalf("expected %d remaining pages, got %d", len(want), len(remaining))
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Fatalf("expected remaining %v, got %v", want, remaining)
		}
	}

	if !job.HasResult(13) {
		t.Fatal("expected result for page 13")
	}
	if job.HasResult(14) {
		t.Fatal("did not expect result for page 14")
	}
}

func TestRemainingPageIDsEmptyWhenAllResulted(t *testing.T) {
	job := &queue.Job{
		PageIDs: []int64{1, 2},
		Results: []queue.PageResult{
			{PageID: 1, Success: true},
			{PageID: 2, Success: false, Error: "translate: timeout"},
		},
	}
	if remaining := job.RemainingPageIDs(); len(remaining) != 0 {
		t.Fatalf("expected no remaining pages, got %v", remaining)
	}
}

func TestLaneForJob(t *testing.T) {
	if lane := queue.LaneForJob(&queue.Job{Type: queue.TypePipeline}); lane != queue.LaneStreaming {
		t.Fatalf("expected streaming lane, got %s", lane)
	}
	if lane := queue.LaneForJob(&queue.Job{Type: queue.TypeBatchOCR}); lane != queue.LaneBatch {
		t.Fatalf("expected batch lane for batch_ocr, got %s", lane)
	}
	if lane := queue.LaneForJob(&queue.Job{Type: queue.TypeBatchTranslate}); lane != queue.LaneBatch {
		t.Fatalf("expected batch lane for batch_translate, got %s", lane)
	}
	if lane := queue.LaneForJob(nil); lane != queue.LaneStreaming {
		t.Fatalf("expected streaming lane for nil job, got %s", lane)
	}
}

func TestSubmissionIsOrphan(t *testing.T) {
	sub := &queue.BatchSubmission{JobID: 1}
	if !sub.IsOrphan() {
		t.Fatal("expected submission without external ref to be orphaned")
	}
	sub.ExternalRef = "batches/abc123"
	if sub.IsOrphan() {
		t.Fatal("expected submission with external ref not to be orphaned")
	}
}
