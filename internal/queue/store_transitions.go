package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition indicates a status change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrPageNotTargeted indicates a result for a page outside the job's target list.
var ErrPageNotTargeted = errors.New("page is not a target of this job")

// TransitionStatus performs a guarded status change. The update applies only
// when the job currently holds the expected `from` status, so concurrent
// controllers cannot double-claim; a false return with nil error means the
// guard missed. Transitions outside the state machine table are an error.
func (s *Store) TransitionStatus(ctx context.Context, jobID int64, from, to Status) (bool, error) {
	return s.transition(ctx, jobID, from, to, nil)
}

// TransitionStatusWithError performs a guarded status change while recording
// an error message on the job.
func (s *Store) TransitionStatusWithError(ctx context.Context, jobID int64, from, to Status, errorMessage string) (bool, error) {
	return s.transition(ctx, jobID, from, to, &errorMessage)
}

func (s *Store) transition(ctx context.Context, jobID int64, from, to Status, errorMessage *string) (bool, error) {
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []any{to, now}

	switch to {
	case StatusProcessing:
		// Claiming a job starts its heartbeat and clears stale errors.
		query += `, last_heartbeat = ?, error_message = NULL`
		args = append(args, now)
	default:
		query += `, last_heartbeat = NULL`
	}
	if errorMessage != nil {
		query += `, error_message = ?`
		args = append(args, nullableString(*errorMessage))
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, jobID, from)

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition job %d to %s: %w", jobID, to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// AppendPageResult records the outcome of one page attempt and bumps the
// matching progress counter in the same transaction. Duplicate page ids are
// ignored so crash-replayed work cannot inflate counters; the boolean reports
// whether the result was actually added.
func (s *Store) AppendPageResult(ctx context.Context, jobID int64, result PageResult) (bool, error) {
	ctx = ensureContext(ctx)
	added := false
	err := retryOnBusy(ctx, func() error {
		added = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin result tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var (
			pageIDsRaw string
			resultsRaw string
			completed  int
			failed     int
			total      int
		)
		row := tx.QueryRowContext(ctx, `SELECT page_ids_json, results_json, completed, failed, total FROM jobs WHERE id = ?`, jobID)
		if err := row.Scan(&pageIDsRaw, &resultsRaw, &completed, &failed, &total); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("job %d not found", jobID)
			}
			return fmt.Errorf("read job results: %w", err)
		}

		pageIDs, err := decodePageIDs(pageIDsRaw)
		if err != nil {
			return fmt.Errorf("decode page ids: %w", err)
		}
		targeted := false
		for _, id := range pageIDs {
			if id == result.PageID {
				targeted = true
				break
			}
		}
		if !targeted {
			return fmt.Errorf("%w: page %d, job %d", ErrPageNotTargeted, result.PageID, jobID)
		}

		results, err := decodeResults(resultsRaw)
		if err != nil {
			return fmt.Errorf("decode results: %w", err)
		}
		for _, existing := range results {
			if existing.PageID == result.PageID {
				return nil
			}
		}

		results = append(results, result)
		if result.Success {
			completed++
		} else {
			failed++
		}
		if completed+failed > total {
			return fmt.Errorf("job %d counters exceed total (%d+%d > %d)", jobID, completed, failed, total)
		}

		encoded, err := encodeResults(results)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET results_json = ?, completed = ?, failed = ?, updated_at = ? WHERE id = ?`,
			encoded,
			completed,
			failed,
			time.Now().UTC().Format(time.RFC3339Nano),
			jobID,
		); err != nil {
			return fmt.Errorf("append result: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit result: %w", err)
		}
		added = true
		return nil
	})
	return added, err
}

// UpdateHeartbeat updates the last heartbeat timestamp for a claimed job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
		StatusProcessing,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ClearHeartbeat releases a job's claim heartbeat while leaving it in
// processing. Batch jobs call this once the provider holds the work: from that
// point the job is waiting on an external system, not a local controller, and
// must not be reclaimed or reset as stuck.
func (s *Store) ClearHeartbeat(ctx context.Context, id int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("clear heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns claimed jobs back to pending when their
// heartbeats expire. Remaining work is recomputed from results on the next
// claim, so a reclaim never loses or repeats recorded pages.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, last_heartbeat = NULL, current_item = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		now.Format(time.RFC3339Nano),
		StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckProcessing resets claimed jobs back to pending. Called during
// daemon startup before any lane runs, when no controller can legitimately
// hold a claim. Only jobs still carrying a heartbeat are touched: a processing
// batch job without one is waiting on the provider and stays where it is.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, last_heartbeat = NULL, current_item = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL`,
		StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}
