package daemon_test

import (
	"context"
	"strings"
	"testing"

	"folio/internal/api"
	"folio/internal/config"
	"folio/internal/daemon"
	"folio/internal/daemonctl"
	"folio/internal/imagestore"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/pipeline"
	"folio/internal/queue"
	"folio/internal/split"
	"folio/internal/sweeper"
	"folio/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	lib, err := library.Open(cfg)
	if err != nil {
		store.Close()
		t.Fatalf("library.Open: %v", err)
	}
	logger := logging.NewNop()
	manager := pipeline.NewManager(cfg, store, logger, nil, nil, nil)
	sw := sweeper.NewSweeper(cfg, store, lib, nil, logger)
	splitter := split.NewExecutor(lib, imagestore.NewLocal(cfg.Paths.ImagesDir), cfg.Split, logger)

	d, err := daemon.New(cfg, daemon.Components{
		Store:   store,
		Library: lib,
		Manager: manager,
		Sweeper: sw,
		Jobs:    api.NewJobService(store, lib, nil, logger),
		Pages:   api.NewPageService(lib, splitter, logger),
		Sweeps:  api.NewSweepService(sw),
	}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Running() {
		t.Fatal("expected daemon to report running")
	}
	if d.Addr() == "" {
		t.Fatal("expected api listener address after start")
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.PID <= 0 {
		t.Fatalf("unexpected pid %d", status.PID)
	}
	if status.Queue.Total != 0 {
		t.Fatalf("expected empty queue, got %d jobs", status.Queue.Total)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("expected daemon to stop")
	}

	// Stop is idempotent.
	d.Stop()
}

func TestDaemonLockExcludesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""

	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if first.Addr() != "" {
		t.Fatal("expected no api listener with empty bind")
	}

	err := second.Start(ctx)
	if err == nil {
		t.Fatal("expected second instance to be rejected")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}

	first.Stop()

	if err := second.Start(ctx); err != nil {
		t.Fatalf("start after lock release: %v", err)
	}
	second.Stop()
}

func TestDaemonServesClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	client := daemonctl.NewClient(d.Addr(), "")
	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("client status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running daemon over the wire")
	}

	books, err := client.Books(ctx)
	if err != nil {
		t.Fatalf("client books: %v", err)
	}
	if len(books.Books) != 0 {
		t.Fatalf("expected empty library, got %d books", len(books.Books))
	}
}

func TestDaemonNewValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	logger := logging.NewNop()

	if _, err := daemon.New(nil, daemon.Components{}, logger); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := daemon.New(cfg, daemon.Components{}, logger); err == nil {
		t.Fatal("expected error for missing components")
	}
}
