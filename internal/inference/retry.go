package inference

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

func (g *Gateway) retryAttempts() int {
	if g == nil || g.retryMaxAttempts <= 0 {
		return 1
	}
	return g.retryMaxAttempts
}

// retryDelay decides whether err is worth another attempt and how long to
// wait first. Retry-After from the provider wins over computed backoff.
func (g *Gateway) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts {
		return 0, false
	}
	if err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// The caller's context is still live, so the deadline that fired was
		// the per-attempt timeout.
		return g.backoffDelay(attempt), true
	}

	var emptyErr *EmptyOutputError
	if errors.As(err, &emptyErr) {
		return g.backoffDelay(attempt), true
	}

	if code, ok := statusCode(err); ok {
		switch {
		case code == http.StatusRequestTimeout,
			code == http.StatusTooManyRequests,
			code >= http.StatusInternalServerError:
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
				return g.capDelay(statusErr.RetryAfter), true
			}
			return g.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return g.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return g.backoffDelay(attempt), true
	}

	return 0, false
}

// backoffDelay doubles from the base delay per retry, capped at the max.
// attempt is 1-based and the delay applies before the next attempt.
func (g *Gateway) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if g != nil {
		if g.retryBaseDelay >= 0 {
			base = g.retryBaseDelay
		}
		if g.retryMaxDelay > 0 {
			maxDelay = g.retryMaxDelay
		}
	}
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return g.capDelay(delay)
}

func (g *Gateway) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if g != nil && g.retryMaxDelay > 0 {
		maxDelay = g.retryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (g *Gateway) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if g != nil && g.sleeper != nil {
		g.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
