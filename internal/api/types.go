package api

import (
	"folio/internal/library"
	"folio/internal/queue"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobProgress carries the counters a job exposes while it runs.
type JobProgress struct {
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	CurrentItem string `json:"current_item,omitempty"`
}

// BatchInfo surfaces provider-side bookkeeping for a batch job.
type BatchInfo struct {
	ExternalRef    string `json:"external_ref,omitempty"`
	ExternalState  string `json:"external_state,omitempty"`
	CompletedPages int    `json:"completed_pages"`
	FailedPages    int    `json:"failed_pages"`
	Saved          bool   `json:"saved"`
	SubmittedAt    string `json:"submitted_at,omitempty"`
}

// Job describes a queue entry in a transport-friendly format.
type Job struct {
	ID             int64              `json:"id"`
	Type           string             `json:"type"`
	Status         string             `json:"status"`
	Lane           string             `json:"lane"`
	BookID         int64              `json:"book_id"`
	Model          string             `json:"model,omitempty"`
	Language       string             `json:"language,omitempty"`
	TargetLanguage string             `json:"target_language,omitempty"`
	Parallelism    int                `json:"parallelism,omitempty"`
	Overwrite      bool               `json:"overwrite,omitempty"`
	Progress       JobProgress        `json:"progress"`
	Results        []queue.PageResult `json:"results,omitempty"`
	Batch          *BatchInfo         `json:"batch,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	CreatedAt      string             `json:"created_at,omitempty"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
}

// Book describes a library book.
type Book struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	Language  string `json:"language,omitempty"`
	PageCount int    `json:"page_count"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Crop is a page's crop window on the normalized horizontal scale.
type Crop struct {
	XStart int `json:"x_start"`
	XEnd   int `json:"x_end"`
}

// Page describes a manuscript page. Crop and the derived photo appear only
// once a split or manual crop has been applied.
type Page struct {
	ID            int64                      `json:"id"`
	BookID        int64                      `json:"book_id"`
	PageNumber    int                        `json:"page_number"`
	Photo         string                     `json:"photo"`
	PhotoOriginal string                     `json:"photo_original,omitempty"`
	Crop          *Crop                      `json:"crop,omitempty"`
	CroppedPhoto  string                     `json:"cropped_photo,omitempty"`
	SplitFrom     *int64                     `json:"split_from,omitempty"`
	OCR           *library.OCRResult         `json:"ocr,omitempty"`
	Translation   *library.TranslationResult `json:"translation,omitempty"`
	CreatedAt     string                     `json:"created_at,omitempty"`
	UpdatedAt     string                     `json:"updated_at,omitempty"`
}

// WindowSpan is one crop window on the normalized scale.
type WindowSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// GutterPreview reports a detection run plus the windows a split would use.
type GutterPreview struct {
	PageID     int64      `json:"page_id"`
	PageNumber int        `json:"page_number"`
	Position   int        `json:"position"`
	Confidence string     `json:"confidence"`
	IsSpread   bool       `json:"is_spread"`
	DepthRatio float64    `json:"depth_ratio"`
	EdgeColumn int        `json:"edge_column"`
	Left       WindowSpan `json:"left"`
	Right      WindowSpan `json:"right"`
}

// CreateJobRequest enqueues a digitization job. Type accepts the exposed
// names ocr, translate, and pipeline. An empty page list targets every page
// of the book.
type CreateJobRequest struct {
	Type           string  `json:"type"`
	BookID         int64   `json:"book_id"`
	PageIDs        []int64 `json:"page_ids,omitempty"`
	Model          string  `json:"model,omitempty"`
	Language       string  `json:"language,omitempty"`
	TargetLanguage string  `json:"target_language,omitempty"`
	Parallelism    int     `json:"parallelism,omitempty"`
	Overwrite      bool    `json:"overwrite,omitempty"`
}

// CreateJobResponse reports the enqueued job.
type CreateJobResponse struct {
	JobID       int64  `json:"job_id"`
	PagesQueued int    `json:"pages_queued"`
	Status      string `json:"status"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobActionResponse reports a lifecycle action. Changed is false when the job
// was already in the requested state.
type JobActionResponse struct {
	Job     Job  `json:"job"`
	Changed bool `json:"changed"`
}

// SplitRequest names the pages to split and where. Positions are on the
// normalized 0-1000 scale.
type SplitRequest struct {
	Splits []SplitSpec `json:"splits"`
}

// SplitSpec is one page split.
type SplitSpec struct {
	PageID   int64 `json:"page_id"`
	Position int   `json:"split_position"`
}

// SplitResponse reports what a batch of splits changed.
type SplitResponse struct {
	PagesCreated    int `json:"pages_created"`
	PagesRenumbered int `json:"pages_renumbered"`
}

// RevertRequest names source pages whose splits should be undone.
type RevertRequest struct {
	PageIDs []int64 `json:"page_ids"`
}

// RevertResponse reports what reverting splits changed.
type RevertResponse struct {
	PagesDeleted    int `json:"pages_deleted"`
	PagesRenumbered int `json:"pages_renumbered"`
}

// BookListResponse wraps the library's books.
type BookListResponse struct {
	Books []Book `json:"books"`
}

// PageListResponse wraps one book's pages in reading order.
type PageListResponse struct {
	BookID int64  `json:"book_id"`
	Pages  []Page `json:"pages"`
}

// QueueCounts reports job totals per lifecycle state.
type QueueCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Paused     int `json:"paused"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Saved      int `json:"saved"`
	Expired    int `json:"expired"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool        `json:"running"`
	PID           int         `json:"pid"`
	QueueDBPath   string      `json:"queue_db_path"`
	LibraryDBPath string      `json:"library_db_path"`
	LockFilePath  string      `json:"lock_file_path"`
	Queue         QueueCounts `json:"queue"`
	LastError     string      `json:"last_error,omitempty"`
}
