package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"folio/internal/logging"
	"folio/internal/queue"
)

// HeartbeatMonitor manages job heartbeats and stale claim reclamation.
type HeartbeatMonitor struct {
	store             *queue.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *queue.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// ReclaimStale returns claimed jobs whose heartbeats have expired to pending.
// Submitted batch jobs carry no heartbeat and are never touched.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context, logger *slog.Logger) error {
	if h.heartbeatTimeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStaleProcessing(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		logger.InfoContext(ctx, "reclaimed stale jobs",
			logging.Int64("count", reclaimed),
		)
	}
	return nil
}

// StartLoop runs a heartbeat updater for a specific job until context cancellation.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()
	interval := h.heartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := logging.NewComponentLogger(h.logger, "pipeline-heartbeat")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.DebugContext(ctx, "heartbeat update cancelled by shutdown")
				} else {
					logger.WarnContext(ctx, "heartbeat update failed",
						logging.Error(err),
						logging.Int64("job_id", jobID),
					)
				}
			}
		}
	}
}
