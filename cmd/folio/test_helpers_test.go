package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"folio/internal/api"
	"folio/internal/config"
	"folio/internal/daemon"
	"folio/internal/imagestore"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/pipeline"
	"folio/internal/queue"
	"folio/internal/split"
	"folio/internal/sweeper"
	"folio/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	library    *library.Store
	daemon     *daemon.Daemon
	addr       string
	configPath string
}

// setupCLITestEnv writes a config file, opens the stores, and starts a daemon
// on an ephemeral loopback port so commands can exercise both the HTTP path
// and direct store access.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

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

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		library:    lib,
		daemon:     d,
		addr:       d.Addr(),
		configPath: configPath,
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, addr, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := make([]string, 0, 4)
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	if addr != "" {
		flags = append(flags, "--addr", addr)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func seedBook(t *testing.T, env *cliTestEnv, title string) *library.Book {
	t.Helper()
	book, err := env.library.CreateBook(context.Background(), library.NewBookParams{
		Title:    title,
		Author:   "Anonymous",
		Language: "la",
	})
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	return book
}

func seedPage(t *testing.T, env *cliTestEnv, bookID int64, photo string) *library.Page {
	t.Helper()
	page, err := env.library.AddPage(context.Background(), library.NewPageParams{
		BookID: bookID,
		Photo:  photo,
	})
	if err != nil {
		t.Fatalf("AddPage: %v", err)
	}
	return page
}

func seedSpread(t *testing.T, env *cliTestEnv, bookID int64, gutterX int) *library.Page {
	t.Helper()
	photo := filepath.Join(env.cfg.Paths.ImagesDir, fmt.Sprintf("spread-%d.png", gutterX))
	testsupport.WritePageImage(t, photo, 400, 300, gutterX)
	return seedPage(t, env, bookID, photo)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected output to contain %q, got:\n%s", substr, output)
	}
}
