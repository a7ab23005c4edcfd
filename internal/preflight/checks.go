package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"folio/internal/config"
	"folio/internal/inference"
)

// CheckDirectoryAccess verifies that the directory exists and is writable.
// Writability is probed with an actual temp file so read-only mounts fail
// the check even when permission bits look fine.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	probe, err := os.CreateTemp(path, ".preflight-*")
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not writable: %v)", path, err)}
	}
	probe.Close()
	os.Remove(probe.Name())
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckProviderKey reports whether inference credentials are configured.
// It makes no network calls, so it is safe at daemon startup.
func CheckProviderKey(cfg config.Inference) Result {
	const name = "Inference provider"
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing (processing lanes disabled)"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("key set, model %s", cfg.Model)}
}

// CheckProvider verifies the provider is reachable and the key actually works.
// It builds the real gateway with retries clamped to a single attempt and a
// 10-second deadline, so the probe exercises the same endpoint and headers
// production calls use.
func CheckProvider(ctx context.Context, cfg config.Inference) Result {
	const name = "Inference provider"

	if strings.TrimSpace(cfg.APIKey) == "" {
		return Result{Name: name, Detail: "API key missing"}
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Result{Name: name, Detail: "base URL missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gateway, err := inference.New(checkCtx, cfg, nil, inference.WithRetryMaxAttempts(1))
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("probe failed (%v)", err)}
	}
	defer gateway.Close()

	if err := gateway.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeProbeError(err, cfg.Model)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("model %s reachable", cfg.Model)}
}

// summarizeProbeError produces a human-readable summary for probe failures.
func summarizeProbeError(err error, model string) string {
	var statusErr *inference.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "auth failed (invalid api key)"
		case http.StatusNotFound:
			return fmt.Sprintf("model %s not found", model)
		default:
			return fmt.Sprintf("probe failed (%d)", statusErr.StatusCode)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "probe timed out (provider unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "probe timed out (provider unreachable)"
	}
	return fmt.Sprintf("probe failed (%v)", err)
}
