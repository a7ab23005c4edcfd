package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const submissionColumns = `job_id, external_ref, external_state, completed_pages, failed_pages,
    submitted_at, saved_at, created_at, updated_at`

func scanSubmission(scanner interface{ Scan(...any) error }) (*BatchSubmission, error) {
	var (
		sub         BatchSubmission
		externalRef sql.NullString
		submittedAt sql.NullString
		savedAt     sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := scanner.Scan(
		&sub.JobID,
		&externalRef,
		&sub.ExternalState,
		&sub.CompletedPages,
		&sub.FailedPages,
		&submittedAt,
		&savedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	sub.ExternalRef = externalRef.String
	sub.SubmittedAt = parseNullableTime(submittedAt)
	sub.SavedAt = parseNullableTime(savedAt)
	if created, err := parseTimeString(createdAt); err == nil {
		sub.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedAt); err == nil {
		sub.UpdatedAt = updated
	}
	return &sub, nil
}

// CreateSubmission records the bookkeeping row for a batch job at build time,
// before anything is handed to the provider. Calling it again for the same job
// is a no-op so a reclaimed build can resume safely.
func (s *Store) CreateSubmission(ctx context.Context, jobID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO batch_submissions (job_id, created_at, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(job_id) DO NOTHING`,
		jobID,
		now,
		now,
	); err != nil {
		return fmt.Errorf("create submission for job %d: %w", jobID, err)
	}
	return nil
}

// GetSubmission returns the submission row for a batch job, or nil when the
// job has no submission yet.
func (s *Store) GetSubmission(ctx context.Context, jobID int64) (*BatchSubmission, error) {
	ctx = ensureContext(ctx)
	var sub *BatchSubmission
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM batch_submissions WHERE job_id = ?`, jobID)
		found, err := scanSubmission(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				sub = nil
				return nil
			}
			return fmt.Errorf("get submission for job %d: %w", jobID, err)
		}
		sub = found
		return nil
	})
	return sub, err
}

// ListSubmissions returns all submission rows ordered by job id.
func (s *Store) ListSubmissions(ctx context.Context) ([]*BatchSubmission, error) {
	ctx = ensureContext(ctx)
	var subs []*BatchSubmission
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT `+submissionColumns+` FROM batch_submissions ORDER BY job_id ASC`)
		if err != nil {
			return fmt.Errorf("list submissions: %w", err)
		}
		defer rows.Close()

		subs = subs[:0]
		for rows.Next() {
			sub, err := scanSubmission(rows)
			if err != nil {
				return fmt.Errorf("scan submission: %w", err)
			}
			subs = append(subs, sub)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// SetExternalRef records the provider's handle for a submitted batch along
// with the submission time.
func (s *Store) SetExternalRef(ctx context.Context, jobID int64, externalRef string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE batch_submissions SET external_ref = ?, submitted_at = ?, updated_at = ? WHERE job_id = ?`,
		externalRef,
		now,
		now,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("set external ref for job %d: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no submission row for job %d", jobID)
	}
	return nil
}

// UpdateExternalState stores the provider-reported state and page counts.
// Nothing is written when the values already match, so steady polling does not
// churn updated_at; the boolean reports whether a change was persisted.
func (s *Store) UpdateExternalState(ctx context.Context, jobID int64, state string, completedPages, failedPages int) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE batch_submissions
         SET external_state = ?, completed_pages = ?, failed_pages = ?, updated_at = ?
         WHERE job_id = ?
           AND (external_state != ? OR completed_pages != ? OR failed_pages != ?)`,
		state,
		completedPages,
		failedPages,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
		state,
		completedPages,
		failedPages,
	)
	if err != nil {
		return false, fmt.Errorf("update external state for job %d: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkSaved stamps the time provider results were written back to the page
// records. Only the first call writes; completing a batch twice keeps the
// original timestamp.
func (s *Store) MarkSaved(ctx context.Context, jobID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE batch_submissions SET saved_at = ?, updated_at = ? WHERE job_id = ? AND saved_at IS NULL`,
		now,
		now,
		jobID,
	); err != nil {
		return fmt.Errorf("mark submission saved for job %d: %w", jobID, err)
	}
	return nil
}
