package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"folio/internal/services"
)

// StatusError is returned when the provider rejects an HTTP request.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// EmptyOutputError is returned when the provider answered but produced no
// usable text.
type EmptyOutputError struct {
	Op           string
	FinishReason string
}

func (e *EmptyOutputError) Error() string {
	if e.FinishReason != "" {
		return fmt.Sprintf("%s: empty output (finish_reason=%q)", e.Op, e.FinishReason)
	}
	return fmt.Sprintf("%s: empty output", e.Op)
}

// classify tags a raw provider error with the shared taxonomy so callers can
// route on errors.Is without knowing transport details. Context cancellation
// passes through untagged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "inference", op, "provider call timed out", err)
	}

	var emptyErr *EmptyOutputError
	if errors.As(err, &emptyErr) {
		return services.Wrap(services.ErrMalformedOutput, "inference", op, "provider returned no usable text", err)
	}

	if code, ok := statusCode(err); ok {
		switch {
		case code == http.StatusTooManyRequests:
			return services.Wrap(services.ErrRateLimited, "inference", op, "provider throttled request", err)
		case code == http.StatusRequestTimeout || code >= http.StatusInternalServerError:
			return services.Wrap(services.ErrTransient, "inference", op, "provider unavailable", err)
		case code == http.StatusNotFound:
			return services.Wrap(services.ErrNotFound, "inference", op, "provider resource missing", err)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return services.Wrap(services.ErrConfiguration, "inference", op, "provider rejected credentials", err)
		default:
			return services.Wrap(services.ErrValidation, "inference", op, "provider rejected request", err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "inference", op, "provider call timed out", err)
	}

	return services.Wrap(services.ErrTransient, "inference", op, "provider call failed", err)
}

// statusCode extracts an HTTP status from either error shape the two gateway
// halves produce.
func statusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	return 0, false
}
