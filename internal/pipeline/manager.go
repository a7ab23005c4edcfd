package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"folio/internal/config"
	"folio/internal/notifications"
	"folio/internal/queue"
)

// JobHandler executes one claimed job until it finishes the current pass.
// Handlers own the job's final status: they transition it to completed,
// failed, paused, or back to pending themselves and return nil. A non-nil
// return means the handler hit an error it could not record, and the manager
// marks the job failed.
type JobHandler interface {
	Process(ctx context.Context, job *queue.Job) error
}

// BatchRunner extends JobHandler with the provider-side refresh pass for
// submitted batch jobs. Process submits a claimed batch job; Refresh polls the
// provider for every job still awaiting results and writes state changes back.
type BatchRunner interface {
	JobHandler
	Refresh(ctx context.Context) error
}

// Manager coordinates queue processing across the scheduler lanes.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	logger   *slog.Logger
	notifier notifications.Service

	streaming JobHandler
	batch     BatchRunner

	pollInterval    time.Duration
	refreshInterval time.Duration
	heartbeat       *HeartbeatMonitor

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

type laneState struct {
	kind    queue.ProcessingLane
	handler JobHandler
	logger  *slog.Logger
}

// NewManager constructs a scheduler over the queue with one handler per lane.
// A nil handler disables its lane; a nil notifier falls back to the configured
// notification service.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, streaming JobHandler, batch BatchRunner, notifier notifications.Service) *Manager {
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	pollInterval := time.Duration(cfg.Pipeline.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	refreshInterval := time.Duration(cfg.Batch.PollInterval) * time.Second
	if refreshInterval <= 0 {
		refreshInterval = time.Minute
	}
	return &Manager{
		cfg:             cfg,
		store:           store,
		logger:          logger,
		notifier:        notifier,
		streaming:       streaming,
		batch:           batch,
		pollInterval:    pollInterval,
		refreshInterval: refreshInterval,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Pipeline.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Pipeline.HeartbeatTimeout)*time.Second,
		),
	}
}

// Running reports whether the scheduler loops are active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastError returns the most recent scheduler-level error, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
