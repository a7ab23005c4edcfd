package api

import (
	"folio/internal/library"
	"folio/internal/queue"
	"folio/internal/split"
)

// FromJob converts a queue record to its API representation. Batch
// bookkeeping is attached separately because it lives in its own row.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:             job.ID,
		Type:           string(job.Type),
		Status:         string(job.Status),
		Lane:           string(queue.LaneForJob(job)),
		BookID:         job.BookID,
		Model:          job.Model,
		Language:       job.Language,
		TargetLanguage: job.TargetLanguage,
		Parallelism:    job.Parallelism,
		Overwrite:      job.Overwrite,
		Progress: JobProgress{
			Total:       job.Total,
			Completed:   job.Completed,
			Failed:      job.Failed,
			CurrentItem: job.CurrentItem,
		},
		Results:      job.Results,
		ErrorMessage: job.ErrorMessage,
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromJobs converts a slice of queue records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// FromSubmission converts batch bookkeeping for embedding in a job DTO.
func FromSubmission(sub *queue.BatchSubmission) *BatchInfo {
	if sub == nil {
		return nil
	}
	info := &BatchInfo{
		ExternalRef:    sub.ExternalRef,
		ExternalState:  sub.ExternalState,
		CompletedPages: sub.CompletedPages,
		FailedPages:    sub.FailedPages,
		Saved:          sub.SavedAt != nil,
	}
	if sub.SubmittedAt != nil {
		info.SubmittedAt = sub.SubmittedAt.UTC().Format(dateTimeFormat)
	}
	return info
}

// FromBook converts a library book.
func FromBook(book *library.Book) Book {
	if book == nil {
		return Book{}
	}
	dto := Book{
		ID:        book.ID,
		Title:     book.Title,
		Author:    book.Author,
		Language:  book.Language,
		PageCount: book.PageCount,
	}
	if !book.CreatedAt.IsZero() {
		dto.CreatedAt = book.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !book.UpdatedAt.IsZero() {
		dto.UpdatedAt = book.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromBooks converts a slice of library books.
func FromBooks(books []*library.Book) []Book {
	if len(books) == 0 {
		return nil
	}
	out := make([]Book, 0, len(books))
	for _, book := range books {
		out = append(out, FromBook(book))
	}
	return out
}

// FromPage converts a library page into its exposed shape.
func FromPage(page *library.Page) Page {
	if page == nil {
		return Page{}
	}
	dto := Page{
		ID:            page.ID,
		BookID:        page.BookID,
		PageNumber:    page.PageNumber,
		Photo:         page.Photo,
		PhotoOriginal: page.PhotoOriginal,
		CroppedPhoto:  page.CroppedPhoto,
		SplitFrom:     page.SplitFrom,
		OCR:           page.OCR,
		Translation:   page.Translation,
	}
	if page.HasCrop() {
		dto.Crop = &Crop{XStart: *page.CropXStart, XEnd: *page.CropXEnd}
	}
	if !page.CreatedAt.IsZero() {
		dto.CreatedAt = page.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !page.UpdatedAt.IsZero() {
		dto.UpdatedAt = page.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromPages converts a slice of library pages.
func FromPages(pages []*library.Page) []Page {
	if len(pages) == 0 {
		return nil
	}
	out := make([]Page, 0, len(pages))
	for _, page := range pages {
		out = append(out, FromPage(page))
	}
	return out
}

// FromAnalysis converts a detection preview.
func FromAnalysis(a *split.Analysis) GutterPreview {
	if a == nil || a.Detection == nil {
		return GutterPreview{}
	}
	return GutterPreview{
		PageID:     a.PageID,
		PageNumber: a.PageNumber,
		Position:   a.Detection.Position,
		Confidence: string(a.Detection.Confidence),
		IsSpread:   a.Detection.IsSpread(),
		DepthRatio: a.Detection.DepthRatio,
		EdgeColumn: a.Detection.EdgeColumn,
		Left:       WindowSpan{Start: a.Left.Start, End: a.Left.End},
		Right:      WindowSpan{Start: a.Right.Start, End: a.Right.End},
	}
}

// FromHealth converts the queue's aggregate counters.
func FromHealth(h queue.HealthSummary) QueueCounts {
	return QueueCounts{
		Total:      h.Total,
		Pending:    h.Pending,
		Processing: h.Processing,
		Paused:     h.Paused,
		Completed:  h.Completed,
		Failed:     h.Failed,
		Cancelled:  h.Cancelled,
		Saved:      h.Saved,
		Expired:    h.Expired,
	}
}
