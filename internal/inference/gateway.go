package inference

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"folio/internal/config"
	"folio/internal/logging"
	"folio/internal/services"
)

const defaultHTTPTimeout = 120 * time.Second

// Gateway bundles the synchronous SDK client and the asynchronous batch REST
// client behind one provider boundary.
type Gateway struct {
	cfg    config.Inference
	log    *slog.Logger
	client *genai.Client
	http   *http.Client

	timeout time.Duration

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the HTTP client used for batch and health calls.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		if client != nil {
			g.http = client
		}
	}
}

// WithRetryMaxAttempts overrides how many times provider calls are attempted.
func WithRetryMaxAttempts(attempts int) Option {
	return func(g *Gateway) {
		g.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(g *Gateway) {
		g.retryBaseDelay = baseDelay
		g.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(g *Gateway) {
		g.sleeper = sleeper
	}
}

// New constructs a gateway from the inference configuration section.
func New(ctx context.Context, cfg config.Inference, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "inference", "new", "api key required", nil)
	}

	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	g := &Gateway{
		cfg: config.Inference{
			APIKey:         apiKey,
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			BatchModel:     strings.TrimSpace(cfg.BatchModel),
			TargetLanguage: strings.TrimSpace(cfg.TargetLanguage),
			TimeoutSeconds: cfg.TimeoutSeconds,
			MaxRetries:     cfg.MaxRetries,
			Temperature:    cfg.Temperature,
		},
		log:              logging.NewComponentLogger(logger, "inference"),
		http:             &http.Client{Timeout: timeout},
		timeout:          timeout,
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	if cfg.MaxRetries > 0 {
		g.retryMaxAttempts = cfg.MaxRetries
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cfg.BaseURL == "" {
		g.cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}
	g.client = client
	return g, nil
}

// Close releases the SDK client.
func (g *Gateway) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Transcribe performs synchronous OCR on one page image.
func (g *Gateway) Transcribe(ctx context.Context, req TranscribeRequest) (*Result, error) {
	if len(req.Image) == 0 {
		return nil, services.Wrap(services.ErrValidation, "inference", "transcribe", "image required", nil)
	}
	model := g.modelName(req.Model)
	parts := []genai.Part{
		genai.ImageData(imageFormat(req.MIME), req.Image),
		genai.Text(TranscriptionPrompt(req.Language, req.PreviousText)),
	}
	return g.generate(ctx, "transcribe", model, parts...)
}

// Translate performs a synchronous translation of transcribed page text.
func (g *Gateway) Translate(ctx context.Context, req TranslateRequest) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, services.Wrap(services.ErrValidation, "inference", "translate", "text required", nil)
	}
	target := strings.TrimSpace(req.TargetLanguage)
	if target == "" {
		target = g.cfg.TargetLanguage
	}
	model := g.modelName(req.Model)
	prompt := TranslationPrompt(req.Text, req.SourceLanguage, target, req.PreviousText)
	return g.generate(ctx, "translate", model, genai.Text(prompt))
}

// HealthCheck verifies the API key and configured model are usable.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/models/%s", g.restBase(), g.modelName(""))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return classify("health", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return classify("health", &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		})
	}
	return nil
}

func (g *Gateway) generate(ctx context.Context, op, modelName string, parts ...genai.Part) (*Result, error) {
	model := g.client.GenerativeModel(modelName)
	model.SetTemperature(float32(g.cfg.Temperature))

	attempts := g.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := g.generateOnce(ctx, model, modelName, op, parts...)
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

func (g *Gateway) generateOnce(ctx context.Context, model *genai.GenerativeModel, modelName, op string, parts ...genai.Part) (*Result, error) {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := model.GenerateContent(callCtx, parts...)
	if err != nil {
		return nil, err
	}
	return extractResult(resp, modelName, op)
}

// extractResult pulls the first non-empty text answer out of a response.
func extractResult(resp *genai.GenerateContentResponse, model, op string) (*Result, error) {
	result := &Result{Model: model}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	var finish string
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if finish == "" && candidate.FinishReason != genai.FinishReasonUnspecified {
			finish = candidate.FinishReason.String()
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		if text.Len() > 0 {
			break
		}
	}

	trimmed := strings.TrimSpace(text.String())
	if trimmed == "" {
		return nil, &EmptyOutputError{Op: op, FinishReason: finish}
	}
	result.Text = trimmed
	return result, nil
}

func (g *Gateway) modelName(override string) string {
	if name := strings.TrimSpace(override); name != "" {
		return name
	}
	return g.cfg.Model
}

// BatchModelName resolves the model used for batch submissions.
func (g *Gateway) BatchModelName() string {
	if g.cfg.BatchModel != "" {
		return g.cfg.BatchModel
	}
	return g.cfg.Model
}

// TargetLanguage reports the configured default translation target.
func (g *Gateway) TargetLanguage() string {
	return g.cfg.TargetLanguage
}

func (g *Gateway) restBase() string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + "/v1beta"
}

// imageFormat maps a MIME type to the provider's image format label.
func imageFormat(mime string) string {
	format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(mime)), "image/")
	if format == "" {
		return "jpeg"
	}
	return format
}
