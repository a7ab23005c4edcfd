package services_test

import (
	"errors"
	"strings"
	"testing"

	"folio/internal/queue"
	"folio/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrMalformedOutput, "ocr", "transcribe", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrMalformedOutput) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"ocr", "transcribe", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "translate", "request", "provider unreachable", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
}

func TestFailureStatusMapping(t *testing.T) {
	validationErr := services.Wrap(services.ErrValidation, "split", "apply", "invalid position", nil)
	if status := services.FailureStatus(validationErr); status != queue.StatusFailed {
		t.Fatalf("expected failed for validation error, got %s", status)
	}

	transientErr := services.Wrap(services.ErrTransient, "ocr", "request", "provider outage", errors.New("io"))
	if status := services.FailureStatus(transientErr); status != queue.StatusPending {
		t.Fatalf("expected pending for transient error, got %s", status)
	}

	rateErr := services.Wrap(services.ErrRateLimited, "translate", "request", "quota", nil)
	if status := services.FailureStatus(rateErr); status != queue.StatusPending {
		t.Fatalf("expected pending for rate limited error, got %s", status)
	}

	if status := services.FailureStatus(nil); status != queue.StatusFailed {
		t.Fatalf("expected failed for nil error, got %s", status)
	}
}

func TestIsRetryable(t *testing.T) {
	if !services.IsRetryable(services.Wrap(services.ErrTimeout, "ocr", "request", "deadline", nil)) {
		t.Fatal("expected timeout to be retryable")
	}
	if services.IsRetryable(services.Wrap(services.ErrValidation, "split", "apply", "bad window", nil)) {
		t.Fatal("expected validation to be terminal")
	}
}
