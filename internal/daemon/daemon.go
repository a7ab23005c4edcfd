package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"folio/internal/api"
	"folio/internal/config"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/pipeline"
	"folio/internal/queue"
	"folio/internal/sweeper"
)

// Components carries the wired services the daemon coordinates.
type Components struct {
	Store   *queue.Store
	Library *library.Store
	Manager *pipeline.Manager
	Sweeper *sweeper.Sweeper
	Jobs    *api.JobService
	Pages   *api.PageService
	Sweeps  *api.SweepService
}

// Daemon runs the scheduler, sweeper, and API server and enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	library *library.Store
	manager *pipeline.Manager
	sweeper *sweeper.Sweeper

	jobs   *api.JobService
	pages  *api.PageService
	sweeps *api.SweepService

	server *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, comps Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comps.Store == nil || comps.Library == nil || comps.Manager == nil || logger == nil {
		return nil, errors.New("daemon requires config, stores, manager, and logger")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "foliod.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    comps.Store,
		library:  comps.Library,
		manager:  comps.Manager,
		sweeper:  comps.Sweeper,
		jobs:     comps.Jobs,
		pages:    comps.Pages,
		sweeps:   comps.Sweeps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	server, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.server = server
	return d, nil
}

// Start acquires the daemon lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another folio daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		d.cancel = nil
		return fmt.Errorf("start scheduler: %w", err)
	}

	if d.sweeper != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.sweeper.Run(runCtx)
		}()
	}

	if d.server != nil {
		if err := d.server.start(runCtx); err != nil {
			d.manager.Stop()
			cancel()
			d.cancel = nil
			d.wg.Wait()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("folio daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock. In-flight
// claims are handed back to the queue by the scheduler's own shutdown.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if d.server != nil {
		d.server.stop()
	}
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("folio daemon stopped")
}

// Close stops the daemon and releases the stores.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.library != nil {
		if err := d.library.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether the daemon's services are active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the API listener address, or empty before Start.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return ""
	}
	return d.server.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (api.DaemonStatus, error) {
	health, err := d.store.Health(ctx)
	if err != nil {
		return api.DaemonStatus{}, err
	}
	status := api.DaemonStatus{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		QueueDBPath:   d.cfg.QueueDatabasePath(),
		LibraryDBPath: d.cfg.LibraryDatabasePath(),
		LockFilePath:  d.lockPath,
		Queue:         api.FromHealth(health),
	}
	if err := d.manager.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status, nil
}
