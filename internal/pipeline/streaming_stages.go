package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"folio/internal/imagestore"
	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/queue"
	"folio/internal/services"
	"folio/internal/split"
)

// runStages executes the crop, transcription, and translation stages a page
// still needs. Each stage persists its output immediately so a later failure
// never loses earlier work. The returned name identifies the stage where a
// failure happened.
func (c *StreamingController) runStages(ctx context.Context, job *queue.Job, page *library.Page, cont *continuity) (string, error) {
	ocrContext, translationContext := cont.snapshot()

	ocrText := page.OCRText()
	if page.NeedsOCR(job.Overwrite) {
		if page.NeedsCropMaterialized() {
			if err := c.materializeCrop(services.WithStage(ctx, "crop"), page); err != nil {
				return "crop", err
			}
		}
		source := strings.TrimSpace(page.SourceImage())
		if source == "" {
			return "crop", errors.New("page has no source image")
		}
		ocrCtx := services.WithStage(ctx, "ocr")
		data, err := imagestore.ReadAll(ocrCtx, c.images, source)
		if err != nil {
			return "ocr", fmt.Errorf("load page image: %w", err)
		}
		result, err := c.gateway.Transcribe(ocrCtx, inference.TranscribeRequest{
			Image:        data,
			MIME:         imagestore.MIMEType(source),
			Language:     job.Language,
			PreviousText: ocrContext,
			Model:        job.Model,
		})
		if err != nil {
			return "ocr", err
		}
		saved := &library.OCRResult{
			Data:     result.Text,
			Model:    result.Model,
			Language: job.Language,
			Usage:    usageFor(result),
		}
		if err := c.library.SaveOCR(ocrCtx, page.ID, saved); err != nil {
			return "ocr", fmt.Errorf("save transcription: %w", err)
		}
		ocrText = result.Text
	}

	translationText := page.TranslationText()
	if page.NeedsTranslation(job.Overwrite) {
		if strings.TrimSpace(ocrText) == "" {
			return "translate", errors.New("page has no transcription to translate")
		}
		translateCtx := services.WithStage(ctx, "translate")
		result, err := c.gateway.Translate(translateCtx, inference.TranslateRequest{
			Text:           ocrText,
			SourceLanguage: job.Language,
			TargetLanguage: job.TargetLanguage,
			PreviousText:   translationContext,
			Model:          job.Model,
		})
		if err != nil {
			return "translate", err
		}
		saved := &library.TranslationResult{
			Data:           result.Text,
			Model:          result.Model,
			SourceLanguage: job.Language,
			TargetLanguage: c.targetLanguage(job),
			Usage:          usageFor(result),
		}
		if err := c.library.SaveTranslation(translateCtx, page.ID, saved); err != nil {
			return "translate", fmt.Errorf("save translation: %w", err)
		}
		translationText = result.Text
	}

	if strings.TrimSpace(translationText) == "" {
		translationText = ocrText
	}
	cont.advance(ocrText, translationText)
	return "", nil
}

func (c *StreamingController) materializeCrop(ctx context.Context, page *library.Page) error {
	if err := split.MaterializeCrop(ctx, c.images, c.library, page); err != nil {
		return err
	}
	logging.WithContext(ctx, c.logger).DebugContext(ctx, "materialized crop",
		logging.Int64("page_id", page.ID),
		logging.String("ref", page.CroppedPhoto),
	)
	return nil
}

func (c *StreamingController) targetLanguage(job *queue.Job) string {
	if strings.TrimSpace(job.TargetLanguage) != "" {
		return job.TargetLanguage
	}
	return c.cfg.Inference.TargetLanguage
}

// loadContinuity seeds the continuity state from the most recently successful
// page recorded on the job, so resumed jobs keep their sentence flow.
func (c *StreamingController) loadContinuity(ctx context.Context, job *queue.Job) (*continuity, error) {
	cont := &continuity{limit: c.contextChars}
	var lastSuccess int64
	for _, result := range job.Results {
		if result.Success {
			lastSuccess = result.PageID
		}
	}
	if lastSuccess == 0 {
		return cont, nil
	}
	page, err := c.library.GetPage(ctx, lastSuccess)
	if err != nil {
		return nil, fmt.Errorf("load continuity page %d: %w", lastSuccess, err)
	}
	if page == nil {
		return cont, nil
	}
	translation := page.TranslationText()
	if strings.TrimSpace(translation) == "" {
		translation = page.OCRText()
	}
	cont.advance(page.OCRText(), translation)
	return cont, nil
}

// continuity carries trailing text from the most recently successful page so
// provider calls preserve sentence flow across page boundaries. Workers read
// a snapshot at dispatch and only completed pages advance the state, so text
// from in-flight pages never leaks into a sibling's context.
type continuity struct {
	mu          sync.Mutex
	limit       int
	ocr         string
	translation string
}

func (s *continuity) snapshot() (ocr, translation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ocr, s.translation
}

func (s *continuity) advance(ocrText, translationText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text := inference.TailText(ocrText, s.limit); text != "" {
		s.ocr = text
	}
	if text := inference.TailText(translationText, s.limit); text != "" {
		s.translation = text
	}
}

func usageFor(result *inference.Result) *library.Usage {
	if result == nil || (result.Usage.InputTokens == 0 && result.Usage.OutputTokens == 0) {
		return nil
	}
	return &library.Usage{
		InputTokens:  int(result.Usage.InputTokens),
		OutputTokens: int(result.Usage.OutputTokens),
	}
}
