package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"folio/internal/logging"
	"folio/internal/notifications"
	"folio/internal/queue"
	"folio/internal/services"
)

// Start begins background processing. Claims abandoned by a previous run are
// released before any lane starts polling.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}

	lanes := make([]*laneState, 0, 2)
	if m.streaming != nil {
		lanes = append(lanes, &laneState{
			kind:    queue.LaneStreaming,
			handler: m.streaming,
			logger:  logging.NewComponentLogger(m.logger, "streaming-lane"),
		})
	}
	if m.batch != nil {
		lanes = append(lanes, &laneState{
			kind:    queue.LaneBatch,
			handler: m.batch,
			logger:  logging.NewComponentLogger(m.logger, "batch-lane"),
		})
	}
	if len(lanes) == 0 {
		m.mu.Unlock()
		return errors.New("no job handlers configured")
	}

	if reset, err := m.store.ResetStuckProcessing(ctx); err != nil {
		m.mu.Unlock()
		return err
	} else if reset > 0 {
		m.logger.InfoContext(ctx, "released stale claims from previous run",
			logging.Int64("count", reset),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(len(lanes))
	m.mu.Unlock()

	for _, lane := range lanes {
		go m.runLane(runCtx, lane)
	}
	if m.batch != nil {
		m.wg.Add(1)
		go m.runBatchRefresh(runCtx)
	}

	return nil
}

// Stop terminates background processing, waits for in-flight work, and hands
// interrupted claims back to the queue.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	ctx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelRelease()
	if released, err := m.store.ResetStuckProcessing(ctx); err != nil {
		m.logger.Warn("failed to release claims on shutdown",
			logging.Error(err),
		)
	} else if released > 0 {
		m.logger.Info("released claims on shutdown",
			logging.Int64("count", released),
		)
	}
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()

	logger := lane.logger
	if logger == nil {
		logger = logging.NewNop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.heartbeat.ReclaimStale(ctx, logger); err != nil {
			logger.WarnContext(ctx, "reclaim stale processing failed; stuck jobs may remain",
				logging.Error(err),
			)
		}

		job, err := m.store.NextForLane(ctx, lane.kind, queue.StatusPending)
		if err != nil {
			m.setLastError(err)
			logger.ErrorContext(ctx, "failed to fetch next job",
				logging.Error(err),
			)
			m.waitForJobOrShutdown(ctx)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.processJob(ctx, lane, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) processJob(ctx context.Context, lane *laneState, logger *slog.Logger, job *queue.Job) error {
	claimed, err := m.store.TransitionStatus(ctx, job.ID, queue.StatusPending, queue.StatusProcessing)
	if err != nil {
		m.setLastError(err)
		logger.ErrorContext(ctx, "failed to claim job",
			logging.Error(err),
			logging.Int64("job_id", job.ID),
		)
		return err
	}
	if !claimed {
		return nil
	}
	job.Status = queue.StatusProcessing

	start := time.Now()
	logger.InfoContext(ctx, "job claimed",
		logging.Int64("job_id", job.ID),
		logging.String("job_type", string(job.Type)),
		logging.Int("total_pages", job.Total),
		logging.Int("recorded_pages", len(job.Results)),
	)

	execCtx := services.WithJobID(ctx, job.ID)
	execCtx = services.WithLane(execCtx, string(lane.kind))
	execCtx = services.WithRequestID(execCtx, uuid.NewString())
	execErr := m.executeWithHeartbeat(execCtx, lane.handler, job)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			logger.DebugContext(ctx, "job interrupted by shutdown",
				logging.Int64("job_id", job.ID),
			)
			return execErr
		}
		m.failJob(ctx, logger, job, execErr)
		m.setLastError(execErr)
		return execErr
	}

	logger.InfoContext(ctx, "job pass finished",
		logging.Int64("job_id", job.ID),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler JobHandler, job *queue.Job) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := handler.Process(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error) {
	changed, err := m.store.TransitionStatusWithError(ctx, job.ID, queue.StatusProcessing, queue.StatusFailed, cause.Error())
	if err != nil {
		logger.ErrorContext(ctx, "failed to record job failure",
			logging.Error(err),
			logging.Int64("job_id", job.ID),
		)
		return
	}
	if !changed {
		return
	}
	logger.WarnContext(ctx, "job failed",
		logging.Error(cause),
		logging.Int64("job_id", job.ID),
		logging.String("job_type", string(job.Type)),
	)
	if err := m.notifier.Publish(ctx, notifications.EventJobFailed, notifications.Payload{
		"job":   strconv.FormatInt(job.ID, 10),
		"error": cause.Error(),
	}); err != nil {
		logger.DebugContext(ctx, "job failure notification failed",
			logging.Error(err),
		)
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) runBatchRefresh(ctx context.Context) {
	defer m.wg.Done()

	logger := logging.NewComponentLogger(m.logger, "batch-refresh")
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.batch.Refresh(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.setLastError(err)
				logger.WarnContext(ctx, "batch refresh failed",
					logging.Error(err),
				)
			}
		}
	}
}
