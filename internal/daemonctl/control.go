package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"folio/internal/api"
	"folio/internal/config"
)

// LaunchOptions controls daemon process launch behavior. Command holds the
// subcommand arguments placed before the flags, for example {"daemon", "run"}
// when the CLI launches itself.
type LaunchOptions struct {
	Command    []string
	ConfigPath string
	LogLevel   string
}

// StartState reports how EnsureStarted left the daemon.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// StopResult captures daemon stop outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached foliod process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := append([]string{}, opts.Command...)
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForAPI polls the daemon status endpoint until it answers or the timeout
// elapses.
func WaitForAPI(ctx context.Context, client *Client, timeout time.Duration) (*api.DaemonStatus, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status, err := client.Status(ctx)
		if err == nil {
			return status, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon when its API is unreachable and waits for
// it to come up. A reachable daemon is left alone.
func EnsureStarted(ctx context.Context, client *Client, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	status, err := client.Status(ctx)
	if err == nil {
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// The listener answered, so a daemon is there even if the call failed.
		return StartResult{}, fmt.Errorf("daemon is reachable but returned an error: %w", err)
	}

	if launchErr := Launch(executablePath, opts); launchErr != nil {
		return StartResult{}, launchErr
	}
	status, err = WaitForAPI(ctx, client, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, Launched: true, PID: status.PID}, nil
}

// StopAndTerminate asks the daemon to shut down via SIGTERM and force-kills
// the process if it is still alive after gracePeriod.
func StopAndTerminate(ctx context.Context, client *Client, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	status, err := client.Status(ctx)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return StopResult{}, err
		}
		return StopResult{}, ErrDaemonNotRunning
	}

	pid := status.PID
	if pid <= 0 && cfg != nil {
		pid = readPIDFile(pidFilePath(cfg))
	}
	if pid <= 0 {
		return StopResult{}, fmt.Errorf("unable to determine daemon pid")
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to stop current process (pid %d)", pid)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return StopResult{}, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	result := StopResult{PID: pid}
	if waitForShutdown(ctx, client, gracePeriod) {
		return result, nil
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	if cfg != nil {
		_ = os.Remove(pidFilePath(cfg))
	}
	if lock := strings.TrimSpace(status.LockFilePath); lock != "" {
		_ = os.Remove(lock)
	}
	return result, nil
}

// RestartResult captures a stop followed by a fresh start.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Restart stops any running daemon and launches a fresh one. A daemon that was
// not running is simply started.
func Restart(ctx context.Context, client *Client, cfg *config.Config, executablePath string, opts LaunchOptions, gracePeriod, waitTimeout time.Duration) (RestartResult, error) {
	result := RestartResult{}
	stop, err := StopAndTerminate(ctx, client, cfg, gracePeriod)
	switch {
	case err == nil:
		result.WasRunning = true
		result.Stop = stop
	case !errors.Is(err, ErrDaemonNotRunning):
		return result, err
	}

	start, err := EnsureStarted(ctx, client, executablePath, opts, waitTimeout)
	if err != nil {
		return result, err
	}
	result.Start = start
	return result, nil
}

func waitForShutdown(ctx context.Context, client *Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		if _, err := client.Status(ctx); err != nil {
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				return true
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false
}

func pidFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "foliod.pid")
}

func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
