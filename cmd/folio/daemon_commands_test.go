package main

import (
	"strings"
	"testing"
)

func TestDaemonStartWithRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"daemon", "start"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	requireContains(t, out, "Daemon already running")
}

func TestDaemonStopRefusesOwnProcess(t *testing.T) {
	env := setupCLITestEnv(t)

	// The test daemon runs in this process, so stop must refuse to signal it.
	_, _, err := runCLI(t, []string{"daemon", "stop"}, env.addr, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "refusing to stop current process") {
		t.Fatalf("expected own-process refusal, got %v", err)
	}
}

func TestDaemonStopWhenNotRunning(t *testing.T) {
	env := setupCLITestEnv(t)
	env.daemon.Stop()

	out, _, err := runCLI(t, []string{"daemon", "stop"}, env.addr, env.configPath)
	if err != nil {
		t.Fatalf("daemon stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}
