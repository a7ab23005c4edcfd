package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusPaused     Status = "paused"
	// StatusSaved marks a batch job whose provider results have been written
	// back to the page records. Terminal.
	StatusSaved Status = "saved"
	// StatusExpired marks a batch job whose provider results lapsed before
	// collection. Terminal.
	StatusExpired Status = "expired"
)

// UserStopReason is the error message set when a user explicitly cancels a job.
const UserStopReason = "Cancelled by user"

// DaemonStopReason is the error message set when jobs are interrupted by daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusPaused,
	StatusSaved,
	StatusExpired,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// validTransitions is the single authority on job status changes. Every
// transition the controllers, API handlers, and provider-state mapping may
// perform appears here; Store.TransitionStatus enforces it.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled, StatusPaused, StatusPending, StatusExpired},
	StatusPaused:     {StatusProcessing, StatusPending, StatusCancelled},
	StatusCompleted:  {StatusSaved},
	StatusFailed:     {StatusPending},
	StatusCancelled:  {},
	StatusSaved:      {},
	StatusExpired:    {},
}

// CanTransition reports whether moving a job from one status to another is
// allowed by the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status Status) bool {
	return len(validTransitions[status]) == 0
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// JobType distinguishes the execution strategy of a job.
type JobType string

const (
	// TypePipeline runs crop, OCR, and translation page by page against the
	// synchronous provider endpoints.
	TypePipeline JobType = "pipeline"
	// TypeBatchOCR submits all target pages as one asynchronous OCR batch.
	TypeBatchOCR JobType = "batch_ocr"
	// TypeBatchTranslate submits all target pages as one asynchronous
	// translation batch.
	TypeBatchTranslate JobType = "batch_translate"
)

var allTypes = []JobType{TypePipeline, TypeBatchOCR, TypeBatchTranslate}

// ParseJobType converts a string into a known JobType.
func ParseJobType(value string) (JobType, bool) {
	normalized := JobType(strings.ToLower(strings.TrimSpace(value)))
	for _, t := range allTypes {
		if t == normalized {
			return t, true
		}
	}
	return "", false
}

// IsBatch reports whether the job runs through the asynchronous batch
// controller rather than the streaming controller.
func (t JobType) IsBatch() bool {
	return t == TypeBatchOCR || t == TypeBatchTranslate
}

// PageResult records the outcome of one page attempt within a job.
type PageResult struct {
	PageID     int64  `json:"page_id"`
	Success    bool   `json:"success"`
	Stage      string `json:"stage,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Job represents a digitization job persisted in SQLite.
type Job struct {
	ID             int64
	Type           JobType
	Status         Status
	BookID         int64
	PageIDs        []int64
	Model          string
	Language       string
	TargetLanguage string
	Parallelism    int
	Overwrite      bool
	Total          int
	Completed      int
	Failed         int
	CurrentItem    string
	Results        []PageResult
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastHeartbeat  *time.Time
}

// ResultPageIDs returns the set of page identifiers that already have a result.
func (j *Job) ResultPageIDs() map[int64]struct{} {
	set := make(map[int64]struct{}, len(j.Results))
	for _, r := range j.Results {
		set[r.PageID] = struct{}{}
	}
	return set
}

// RemainingPageIDs returns target pages without a recorded result, preserving
// the target order. This is the resume computation: after a crash or partial
// chunk, remaining work is always derived from results rather than counters.
func (j *Job) RemainingPageIDs() []int64 {
	done := j.ResultPageIDs()
	remaining := make([]int64, 0, len(j.PageIDs))
	for _, id := range j.PageIDs {
		if _, ok := done[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

// HasResult reports whether the job already recorded an outcome for a page.
func (j *Job) HasResult(pageID int64) bool {
	for _, r := range j.Results {
		if r.PageID == pageID {
			return true
		}
	}
	return false
}

// IsProcessing returns true when the job is claimed by a controller.
func (j *Job) IsProcessing() bool {
	return j.Status == StatusProcessing
}

// SetFailed marks the job as failed with the given error message and clears
// the heartbeat.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.LastHeartbeat = nil
}

// BatchSubmission tracks provider-side bookkeeping for a batch job. Exactly one
// submission row exists per batch job once it has been built.
type BatchSubmission struct {
	JobID          int64
	ExternalRef    string
	ExternalState  string
	CompletedPages int
	FailedPages    int
	SubmittedAt    *time.Time
	SavedAt        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOrphan reports whether the submission was never handed to the provider.
func (b *BatchSubmission) IsOrphan() bool {
	return b.ExternalRef == ""
}

// Deletion reasons recorded on archive rows.
const (
	ReasonOrphan  = "orphan"
	ReasonExpired = "expired"
)

// ArchiveRecord preserves a swept job verbatim alongside the reason and time
// of its removal from the live store.
type ArchiveRecord struct {
	ID             int64
	JobID          int64
	BookID         int64
	JobJSON        string
	SubmissionJSON string
	DeletionReason string
	DeletedAt      time.Time
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Paused     int
	Completed  int
	Failed     int
	Cancelled  int
	Saved      int
	Expired    int
}

// ProcessingLane partitions scheduler work between the streaming and batch
// controllers.
type ProcessingLane string

const (
	LaneStreaming ProcessingLane = "streaming"
	LaneBatch     ProcessingLane = "batch"
)

// LaneForJob maps a job to the scheduler lane that owns it.
func LaneForJob(job *Job) ProcessingLane {
	if job != nil && job.Type.IsBatch() {
		return LaneBatch
	}
	return LaneStreaming
}
