package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"folio/internal/imagestore"
	"folio/internal/imaging"
	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/queue"
	"folio/internal/services"
	"folio/internal/split"
)

// Process builds and submits the provider batch for a claimed job. The
// external reference is persisted before the claim is released, so a crash
// between submit and release never re-submits; re-claiming an already
// submitted job just hands the claim back to the provider's side.
func (c *Controller) Process(ctx context.Context, job *queue.Job) error {
	current, err := c.reload(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status != queue.StatusProcessing {
		c.logger.DebugContext(ctx, "job no longer claimed; skipping submission",
			logging.Int64("job_id", current.ID),
			logging.String("status", string(current.Status)),
		)
		return nil
	}
	if !current.Type.IsBatch() {
		return services.Wrap(services.ErrValidation, "batch", "process", fmt.Sprintf("job %d is not a batch job", current.ID), nil)
	}

	sub, err := c.store.GetSubmission(ctx, current.ID)
	if err != nil {
		return err
	}
	if sub != nil && sub.ExternalRef != "" {
		c.logger.InfoContext(ctx, "batch already submitted; releasing claim",
			logging.Int64("job_id", current.ID),
			logging.String("external_ref", sub.ExternalRef),
		)
		return c.store.ClearHeartbeat(ctx, current.ID)
	}
	if err := c.store.CreateSubmission(ctx, current.ID); err != nil {
		return err
	}

	requests, err := c.buildRequests(ctx, current)
	if err != nil {
		return err
	}

	// Build-time results changed the counters; a cancel may also have landed
	// while pages were being prepared.
	current, err = c.reload(ctx, current.ID)
	if err != nil {
		return err
	}
	if current.Status != queue.StatusProcessing {
		return nil
	}
	if len(requests) == 0 {
		return c.finalizeBuilt(ctx, current)
	}

	submitted, err := c.gateway.SubmitBatch(ctx, c.modelFor(current), requests)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return c.submitFailed(ctx, current, err)
	}

	if err := c.store.SetExternalRef(ctx, current.ID, submitted.ExternalRef); err != nil {
		return err
	}
	state := submitted.ExternalState
	if state == "" {
		state = inference.BatchStatePending
	}
	if _, err := c.store.UpdateExternalState(ctx, current.ID, state, 0, 0); err != nil {
		c.logger.WarnContext(ctx, "failed to record initial batch state",
			logging.Error(err),
			logging.Int64("job_id", current.ID),
		)
	}
	c.logger.InfoContext(ctx, "batch submitted",
		logging.Int64("job_id", current.ID),
		logging.String("external_ref", submitted.ExternalRef),
		logging.Int("units", len(requests)),
	)

	// The provider holds the work now. Releasing the heartbeat takes the job
	// out of stale-claim recovery while it waits in processing.
	return c.store.ClearHeartbeat(ctx, current.ID)
}

// submitFailed routes a submission error: transient classes put the job back
// on the queue for a later attempt, structural classes surface to the
// scheduler, which fails the job.
func (c *Controller) submitFailed(ctx context.Context, job *queue.Job, cause error) error {
	if services.FailureStatus(cause) != queue.StatusPending {
		return cause
	}
	if _, err := c.store.TransitionStatusWithError(ctx, job.ID, queue.StatusProcessing, queue.StatusPending, cause.Error()); err != nil {
		return err
	}
	c.logger.WarnContext(ctx, "batch submit failed; job requeued",
		logging.Error(cause),
		logging.Int64("job_id", job.ID),
	)
	return nil
}

// finalizeBuilt closes out a batch job whose build left nothing to submit:
// every target page was either already processed or structurally
// unprocessable.
func (c *Controller) finalizeBuilt(ctx context.Context, job *queue.Job) error {
	to := queue.StatusCompleted
	var err error
	if job.Completed == 0 && job.Failed > 0 {
		to = queue.StatusFailed
		_, err = c.store.TransitionStatusWithError(ctx, job.ID, queue.StatusProcessing, to, "all pages failed")
	} else {
		_, err = c.store.TransitionStatus(ctx, job.ID, queue.StatusProcessing, to)
	}
	if err != nil {
		return fmt.Errorf("finalize job %d: %w", job.ID, err)
	}
	c.logger.InfoContext(ctx, "batch finished without submission",
		logging.Int64("job_id", job.ID),
		logging.String("status", string(to)),
		logging.Int("completed", job.Completed),
		logging.Int("failed", job.Failed),
	)
	return nil
}

// buildRequests assembles one keyed request per page that still needs
// provider work, walking targets in page order so each unit carries the
// nearest preceding page's transcription tail as context. Pages that cannot
// be prepared are recorded as failed results up front; pages whose outputs
// already exist are recorded as successes. Neither kind is submitted.
func (c *Controller) buildRequests(ctx context.Context, job *queue.Job) ([]inference.KeyedRequest, error) {
	pages, err := c.library.PagesByIDs(ctx, job.PageIDs)
	if err != nil {
		return nil, fmt.Errorf("load job pages: %w", err)
	}

	recorded := job.ResultPageIDs()
	ordered := make([]*library.Page, 0, len(job.PageIDs))
	for _, id := range job.PageIDs {
		page, ok := pages[id]
		if !ok || page == nil {
			if _, seen := recorded[id]; !seen {
				c.recordResult(ctx, job, queue.PageResult{
					PageID: id,
					Error:  "page no longer exists",
				})
			}
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

	var requests []inference.KeyedRequest
	var carried string
	for _, page := range ordered {
		if _, seen := recorded[page.ID]; !seen {
			req, result := c.buildUnit(ctx, job, page, carried)
			if result != nil {
				c.recordResult(ctx, job, *result)
			} else if req != nil {
				requests = append(requests, *req)
			}
		}
		if tail := inference.TailText(page.OCRText(), c.contextChars); tail != "" {
			carried = tail
		}
	}
	return requests, nil
}

// buildUnit prepares one page for submission. A nil request with a non-nil
// result means the page was resolved at build time and needs no provider
// work.
func (c *Controller) buildUnit(ctx context.Context, job *queue.Job, page *library.Page, previous string) (*inference.KeyedRequest, *queue.PageResult) {
	key := strconv.FormatInt(page.ID, 10)
	if job.Type == queue.TypeBatchTranslate {
		if !page.NeedsTranslation(job.Overwrite) {
			return nil, &queue.PageResult{PageID: page.ID, Success: true}
		}
		text := strings.TrimSpace(page.OCRText())
		if text == "" {
			return nil, &queue.PageResult{
				PageID: page.ID,
				Stage:  "translate",
				Error:  "page has no transcription to translate",
			}
		}
		req := inference.TranslationBatchRequest(key, text, job.Language, c.targetLanguage(job), previous)
		return &req, nil
	}

	if !page.NeedsOCR(job.Overwrite) {
		return nil, &queue.PageResult{PageID: page.ID, Success: true}
	}
	if page.NeedsCropMaterialized() {
		if err := split.MaterializeCrop(ctx, c.images, c.library, page); err != nil {
			return nil, &queue.PageResult{PageID: page.ID, Stage: "crop", Error: err.Error()}
		}
	}
	image, mime, err := c.embedImage(ctx, page)
	if err != nil {
		return nil, &queue.PageResult{PageID: page.ID, Stage: "ocr", Error: err.Error()}
	}
	req := inference.OCRBatchRequest(key, image, mime, job.Language, previous)
	return &req, nil
}

// embedImage loads the page's source image and bounds it for inline batch
// transport. Oversized images are downscaled and re-encoded as JPEG; images
// already within bounds travel as stored.
func (c *Controller) embedImage(ctx context.Context, page *library.Page) ([]byte, string, error) {
	source := strings.TrimSpace(page.SourceImage())
	if source == "" {
		return nil, "", errors.New("page has no source image")
	}
	data, err := imagestore.ReadAll(ctx, c.images, source)
	if err != nil {
		return nil, "", fmt.Errorf("load page image: %w", err)
	}
	if c.maxImageEdge <= 0 {
		return data, imagestore.MIMEType(source), nil
	}

	img, _, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode page image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= c.maxImageEdge && bounds.Dy() <= c.maxImageEdge {
		return data, imagestore.MIMEType(source), nil
	}

	scaled := imaging.ScaleToMaxEdge(img, c.maxImageEdge)
	var buf bytes.Buffer
	if err := imaging.EncodeJPEG(&buf, scaled, c.jpegQuality); err != nil {
		return nil, "", fmt.Errorf("encode scaled image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
