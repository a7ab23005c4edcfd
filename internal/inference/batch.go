package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"folio/internal/logging"
	"folio/internal/services"
)

// Wire shapes for the provider's batch surface. Stats counts arrive as
// quoted strings, hence the ",string" tags.

type batchPart struct {
	Text       string     `json:"text,omitempty"`
	InlineData *batchBlob `json:"inlineData,omitempty"`
}

type batchBlob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type batchContent struct {
	Parts []batchPart `json:"parts"`
}

type batchGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type batchGenerateRequest struct {
	Contents         []batchContent         `json:"contents"`
	GenerationConfig *batchGenerationConfig `json:"generationConfig,omitempty"`
}

type batchUnitRequest struct {
	Request  batchGenerateRequest `json:"request"`
	Metadata map[string]string    `json:"metadata,omitempty"`
}

type createBatchPayload struct {
	Batch batchSpec `json:"batch"`
}

type batchSpec struct {
	DisplayName string           `json:"displayName"`
	InputConfig batchInputConfig `json:"inputConfig"`
}

type batchInputConfig struct {
	Requests batchRequestList `json:"requests"`
}

type batchRequestList struct {
	Requests []batchUnitRequest `json:"requests"`
}

type operationStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type batchStatsPayload struct {
	RequestCount           int64 `json:"requestCount,string"`
	PendingRequestCount    int64 `json:"pendingRequestCount,string"`
	SuccessfulRequestCount int64 `json:"successfulRequestCount,string"`
	FailedRequestCount     int64 `json:"failedRequestCount,string"`
}

type generateContentPayload struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type inlinedResponsePayload struct {
	Metadata map[string]string       `json:"metadata"`
	Response *generateContentPayload `json:"response"`
	Error    *operationStatus        `json:"error"`
}

type batchOperationPayload struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Metadata struct {
		State      string            `json:"state"`
		BatchStats batchStatsPayload `json:"batchStats"`
	} `json:"metadata"`
	Response *struct {
		InlinedResponses struct {
			InlinedResponses []inlinedResponsePayload `json:"inlinedResponses"`
		} `json:"inlinedResponses"`
	} `json:"response"`
	Error *operationStatus `json:"error"`
}

// OCRBatchRequest builds the batch unit for transcribing one page image.
func OCRBatchRequest(key string, image []byte, mime, language, previousText string) KeyedRequest {
	return KeyedRequest{
		Key: key,
		Parts: []Part{
			{Image: image, MIME: mime},
			{Text: TranscriptionPrompt(language, previousText)},
		},
	}
}

// TranslationBatchRequest builds the batch unit for translating page text.
func TranslationBatchRequest(key, text, sourceLanguage, targetLanguage, previousText string) KeyedRequest {
	return KeyedRequest{
		Key: key,
		Parts: []Part{
			{Text: TranslationPrompt(text, sourceLanguage, targetLanguage, previousText)},
		},
	}
}

// SubmitBatch uploads keyed requests as one provider batch and returns the
// external reference to poll.
func (g *Gateway) SubmitBatch(ctx context.Context, model string, requests []KeyedRequest) (*BatchSubmission, error) {
	if len(requests) == 0 {
		return nil, services.Wrap(services.ErrValidation, "inference", "batch submit", "no requests", nil)
	}
	if strings.TrimSpace(model) == "" {
		model = g.BatchModelName()
	}

	units := make([]batchUnitRequest, 0, len(requests))
	for _, req := range requests {
		unit, err := buildBatchUnit(req, g.cfg.Temperature)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "inference", "batch submit", fmt.Sprintf("request %q", req.Key), err)
		}
		units = append(units, unit)
	}

	payload := createBatchPayload{}
	payload.Batch.DisplayName = "folio-" + uuid.NewString()
	payload.Batch.InputConfig.Requests.Requests = units

	endpoint := fmt.Sprintf("%s/models/%s:batchGenerateContent", g.restBase(), model)
	op, err := g.doBatch(ctx, "batch submit", http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	if op.Name == "" {
		return nil, classify("batch submit", errors.New("operation name missing from response"))
	}

	state := op.Metadata.State
	if state == "" {
		state = BatchStatePending
	}
	g.log.InfoContext(ctx, "batch submitted",
		logging.String("external_ref", op.Name),
		logging.String("external_state", state),
		logging.Int("requests", len(units)),
	)
	return &BatchSubmission{ExternalRef: op.Name, ExternalState: state}, nil
}

// PollBatch reads the current provider view of a submitted batch.
func (g *Gateway) PollBatch(ctx context.Context, externalRef string) (*BatchPoll, error) {
	op, err := g.getOperation(ctx, "batch poll", externalRef)
	if err != nil {
		return nil, err
	}

	poll := &BatchPoll{
		ExternalState: op.Metadata.State,
		Done:          op.Done,
		Stats: BatchStats{
			Total:     op.Metadata.BatchStats.RequestCount,
			Pending:   op.Metadata.BatchStats.PendingRequestCount,
			Succeeded: op.Metadata.BatchStats.SuccessfulRequestCount,
			Failed:    op.Metadata.BatchStats.FailedRequestCount,
		},
	}
	if op.Error != nil {
		poll.Message = strings.TrimSpace(op.Error.Message)
		if poll.ExternalState == "" {
			poll.ExternalState = BatchStateFailed
		}
	}
	return poll, nil
}

// FetchBatchResults downloads the per-unit outcomes of a finished batch.
func (g *Gateway) FetchBatchResults(ctx context.Context, externalRef string) ([]KeyedResult, error) {
	op, err := g.getOperation(ctx, "batch fetch", externalRef)
	if err != nil {
		return nil, err
	}
	if !op.Done {
		return nil, services.Wrap(services.ErrTransient, "inference", "batch fetch", "batch is not finished", nil)
	}
	if op.Response == nil {
		message := "no results recorded"
		if op.Error != nil && strings.TrimSpace(op.Error.Message) != "" {
			message = strings.TrimSpace(op.Error.Message)
		}
		return nil, services.Wrap(services.ErrValidation, "inference", "batch fetch", "batch did not succeed", errors.New(message))
	}

	items := op.Response.InlinedResponses.InlinedResponses
	results := make([]KeyedResult, 0, len(items))
	for _, item := range items {
		result := KeyedResult{Key: item.Metadata["key"]}
		switch {
		case item.Error != nil:
			result.Err = strings.TrimSpace(item.Error.Message)
			if result.Err == "" {
				result.Err = fmt.Sprintf("provider error %d", item.Error.Code)
			}
		case item.Response != nil:
			text, usage, finish := item.Response.extract()
			result.Text = text
			result.Usage = usage
			if text == "" {
				if finish != "" {
					result.Err = fmt.Sprintf("empty output (finish_reason=%q)", finish)
				} else {
					result.Err = "empty output"
				}
			}
		default:
			result.Err = "no response recorded"
		}
		results = append(results, result)
	}
	return results, nil
}

// CancelBatch asks the provider to stop a running batch. Best effort; the
// provider may already have finished it.
func (g *Gateway) CancelBatch(ctx context.Context, externalRef string) error {
	ref := strings.TrimSpace(externalRef)
	if ref == "" {
		return services.Wrap(services.ErrValidation, "inference", "batch cancel", "external ref required", nil)
	}
	endpoint := fmt.Sprintf("%s/%s:cancel", g.restBase(), strings.TrimLeft(ref, "/"))
	_, err := g.doBatch(ctx, "batch cancel", http.MethodPost, endpoint, struct{}{})
	return err
}

func (g *Gateway) getOperation(ctx context.Context, op, externalRef string) (*batchOperationPayload, error) {
	ref := strings.TrimSpace(externalRef)
	if ref == "" {
		return nil, services.Wrap(services.ErrValidation, "inference", op, "external ref required", nil)
	}
	endpoint := fmt.Sprintf("%s/%s", g.restBase(), strings.TrimLeft(ref, "/"))
	return g.doBatch(ctx, op, http.MethodGet, endpoint, nil)
}

func buildBatchUnit(req KeyedRequest, temperature float64) (batchUnitRequest, error) {
	var unit batchUnitRequest
	if strings.TrimSpace(req.Key) == "" {
		return unit, errors.New("request key required")
	}

	parts := make([]batchPart, 0, len(req.Parts))
	for _, part := range req.Parts {
		switch {
		case len(part.Image) > 0:
			parts = append(parts, batchPart{InlineData: &batchBlob{MIMEType: fullMIME(part.MIME), Data: part.Image}})
		case strings.TrimSpace(part.Text) != "":
			parts = append(parts, batchPart{Text: part.Text})
		}
	}
	if len(parts) == 0 {
		return unit, errors.New("request has no content")
	}

	unit.Request = batchGenerateRequest{
		Contents:         []batchContent{{Parts: parts}},
		GenerationConfig: &batchGenerationConfig{Temperature: temperature},
	}
	unit.Metadata = map[string]string{"key": req.Key}
	return unit, nil
}

func (g *Gateway) doBatch(ctx context.Context, op, method, endpoint string, payload any) (*batchOperationPayload, error) {
	attempts := g.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := g.sendBatchOnce(ctx, method, endpoint, payload)
		if err == nil {
			return result, nil
		}

		delay, retry := g.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return nil, classify(op, err)
		}
		logging.WithContext(ctx, g.log).WarnContext(ctx, "retrying provider call",
			logging.String("op", op),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if sleepErr := g.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
		lastErr = err
	}
	return nil, classify(op, fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr))
}

func (g *Gateway) sendBatchOnce(ctx context.Context, method, endpoint string, payload any) (*batchOperationPayload, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode batch payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read batch response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
			RetryAfter: retryAfter,
		}
	}

	var op batchOperationPayload
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return &op, nil
}

func (p *generateContentPayload) extract() (string, Usage, string) {
	var usage Usage
	if p.UsageMetadata != nil {
		usage = Usage{
			InputTokens:  p.UsageMetadata.PromptTokenCount,
			OutputTokens: p.UsageMetadata.CandidatesTokenCount,
		}
	}

	var finish string
	var text strings.Builder
	for _, candidate := range p.Candidates {
		if finish == "" {
			finish = strings.TrimSpace(candidate.FinishReason)
		}
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(text.String()), usage, finish
}

// fullMIME normalizes an image MIME type for the wire, accepting bare format
// labels like "jpeg".
func fullMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		return "image/jpeg"
	}
	if !strings.Contains(mime, "/") {
		return "image/" + mime
	}
	return mime
}
