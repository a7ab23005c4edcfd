package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ArchiveJob snapshots a job and its submission row into job_archive and
// removes the live rows, all in one transaction. The snapshot is the full
// record as JSON so an archived job can be inspected after deletion.
func (s *Store) ArchiveJob(ctx context.Context, jobID int64, reason string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin archive tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
		job, err := scanJob(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("job %d not found", jobID)
			}
			return fmt.Errorf("load job %d for archive: %w", jobID, err)
		}

		jobJSON, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job %d: %w", jobID, err)
		}

		var submissionJSON any
		subRow := tx.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM batch_submissions WHERE job_id = ?`, jobID)
		sub, err := scanSubmission(subRow)
		switch {
		case err == nil:
			encoded, err := json.Marshal(sub)
			if err != nil {
				return fmt.Errorf("marshal submission for job %d: %w", jobID, err)
			}
			submissionJSON = string(encoded)
		case errors.Is(err, sql.ErrNoRows):
			submissionJSON = nil
		default:
			return fmt.Errorf("load submission for job %d: %w", jobID, err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO job_archive (job_id, book_id, job_json, submission_json, deletion_reason, deleted_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			job.ID,
			job.BookID,
			string(jobJSON),
			submissionJSON,
			reason,
			time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert archive row for job %d: %w", jobID, err)
		}

		// The submission row cascades with the job delete.
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
			return fmt.Errorf("delete job %d: %w", jobID, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit archive for job %d: %w", jobID, err)
		}
		return nil
	})
}

// ListArchive returns archived job records, newest first, capped at limit.
// A non-positive limit returns everything.
func (s *Store) ListArchive(ctx context.Context, limit int) ([]*ArchiveRecord, error) {
	ctx = ensureContext(ctx)
	query := `SELECT id, job_id, book_id, job_json, submission_json, deletion_reason, deleted_at
        FROM job_archive ORDER BY deleted_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var records []*ArchiveRecord
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list archive: %w", err)
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var (
				rec            ArchiveRecord
				submissionJSON sql.NullString
				deletedAt      string
			)
			if err := rows.Scan(&rec.ID, &rec.JobID, &rec.BookID, &rec.JobJSON, &submissionJSON, &rec.DeletionReason, &deletedAt); err != nil {
				return fmt.Errorf("scan archive row: %w", err)
			}
			rec.SubmissionJSON = submissionJSON.String
			if parsed, err := parseTimeString(deletedAt); err == nil {
				rec.DeletedAt = parsed
			}
			records = append(records, &rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
