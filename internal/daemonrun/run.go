// Package daemonrun assembles and runs the folio daemon process: logging,
// PID file, stores, controllers, and the daemon lifecycle wrapped around a
// signal-aware context.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"folio/internal/api"
	"folio/internal/batch"
	"folio/internal/config"
	"folio/internal/daemon"
	"folio/internal/imagestore"
	"folio/internal/inference"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/pipeline"
	"folio/internal/preflight"
	"folio/internal/queue"
	"folio/internal/split"
	"folio/internal/sweeper"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the folio daemon runtime loop and blocks until the context is
// cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("folio-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update folio.log link: %v\n", err)
	}

	for _, check := range preflight.RunAll(cfg) {
		if check.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail),
			)
			continue
		}
		logger.Warn("preflight check failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
		)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "foliod.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	lib, err := library.Open(cfg)
	if err != nil {
		logger.Error("open library store", logging.Error(err))
		return err
	}
	defer lib.Close()

	images := imagestore.NewLocal(cfg.Paths.ImagesDir)
	notifier := notifications.NewService(cfg)

	// The daemon still serves library and queue reads without a provider key;
	// the processing lanes just stay disabled until one is configured.
	var streaming pipeline.JobHandler
	var batchRunner pipeline.BatchRunner
	var driver api.BatchDriver
	gateway, err := inference.New(signalCtx, cfg.Inference, logger)
	if err != nil {
		logger.Warn("inference provider unavailable, processing lanes disabled", logging.Error(err))
	} else {
		streaming = pipeline.NewStreamingController(cfg, store, lib, images, gateway, notifier, logger)
		controller := batch.NewController(cfg, store, lib, images, gateway, notifier, logger)
		batchRunner = controller
		driver = controller
	}

	manager := pipeline.NewManager(cfg, store, logger, streaming, batchRunner, notifier)
	sw := sweeper.NewSweeper(cfg, store, lib, notifier, logger)
	splitter := split.NewExecutor(lib, images, cfg.Split, logger)

	d, err := daemon.New(cfg, daemon.Components{
		Store:   store,
		Library: lib,
		Manager: manager,
		Sweeper: sw,
		Jobs:    api.NewJobService(store, lib, driver, logger),
		Pages:   api.NewPageService(lib, splitter, logger),
		Sweeps:  api.NewSweepService(sw),
	}, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String("hint", "check configuration and database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("folio daemon shutting down")
	return nil
}

// ensureCurrentLogPointer keeps LogDir/folio.log pointing at the active run's
// log file. Falls back to a hard link on filesystems without symlinks.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "folio.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
