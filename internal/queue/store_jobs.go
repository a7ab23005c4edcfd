package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NewJobParams describes a job to enqueue.
type NewJobParams struct {
	Type           JobType
	BookID         int64
	PageIDs        []int64
	Model          string
	Language       string
	TargetLanguage string
	Parallelism    int
	Overwrite      bool
}

// ClampParallelism bounds the per-job worker count to the supported range.
func ClampParallelism(value int) int {
	if value < 1 {
		return 1
	}
	if value > 5 {
		return 5
	}
	return value
}

// NewJob inserts a pending job with a fixed target page list. Total is set
// from the target count at creation and never changes afterwards.
func (s *Store) NewJob(ctx context.Context, params NewJobParams) (*Job, error) {
	if _, ok := ParseJobType(string(params.Type)); !ok {
		return nil, fmt.Errorf("unknown job type %q", params.Type)
	}
	if params.BookID <= 0 {
		return nil, errors.New("book id is required")
	}
	if len(params.PageIDs) == 0 {
		return nil, errors.New("job has no target pages")
	}
	seen := make(map[int64]struct{}, len(params.PageIDs))
	for _, id := range params.PageIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate target page %d", id)
		}
		seen[id] = struct{}{}
	}

	pageIDsJSON, err := encodePageIDs(params.PageIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            type, status, book_id, page_ids_json, model, language, target_language,
            parallelism, overwrite, total, completed, failed, results_json,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, '[]', ?, ?)`,
		params.Type,
		StatusPending,
		params.BookID,
		pageIDsJSON,
		nullableString(params.Model),
		nullableString(params.Language),
		nullableString(params.TargetLanguage),
		ClampParallelism(params.Parallelism),
		boolToInt(params.Overwrite),
		len(params.PageIDs),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when no job exists.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListByBook returns all jobs targeting a book ordered by creation time.
func (s *Store) ListByBook(ctx context.Context, bookID int64) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE book_id = ? ORDER BY created_at`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by book: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListByTypes returns jobs of the given types in any of the given statuses.
func (s *Store) ListByTypes(ctx context.Context, types []JobType, statuses ...Status) ([]*Job, error) {
	if len(types) == 0 {
		return s.List(ctx, statuses...)
	}
	typePlaceholders := makePlaceholders(len(types))
	args := make([]any, 0, len(types)+len(statuses))
	for _, t := range types {
		args = append(args, t)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE type IN (` + typePlaceholders + `)`
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by type: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextForLane returns the oldest job in any of the provided statuses whose
// type belongs to the given scheduler lane.
func (s *Store) NextForLane(ctx context.Context, lane ProcessingLane, statuses ...Status) (*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	types := []JobType{TypePipeline}
	if lane == LaneBatch {
		types = []JobType{TypeBatchOCR, TypeBatchTranslate}
	}

	args := make([]any, 0, len(types)+len(statuses))
	for _, t := range types {
		args = append(args, t)
	}
	for _, status := range statuses {
		args = append(args, status)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE type IN (` + makePlaceholders(len(types)) + `) AND status IN (` + makePlaceholders(len(statuses)) + `) ORDER BY created_at LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Update persists changes to an existing job. Status changes must go through
// TransitionStatus; Update deliberately writes every mutable column except the
// page id list and total, which are fixed at creation.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	resultsJSON, err := encodeResults(job.Results)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, model = ?, language = ?, target_language = ?,
             parallelism = ?, overwrite = ?, completed = ?, failed = ?,
             current_item = ?, results_json = ?, error_message = ?,
             updated_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		job.Status,
		nullableString(job.Model),
		nullableString(job.Language),
		nullableString(job.TargetLanguage),
		ClampParallelism(job.Parallelism),
		boolToInt(job.Overwrite),
		job.Completed,
		job.Failed,
		nullableString(job.CurrentItem),
		resultsJSON,
		nullableString(job.ErrorMessage),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.LastHeartbeat),
		job.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// SetCurrentItem updates the progress label without touching anything else.
func (s *Store) SetCurrentItem(ctx context.Context, jobID int64, label string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE jobs SET current_item = ?, updated_at = ? WHERE id = ?`,
		nullableString(label),
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	); err != nil {
		return fmt.Errorf("set current item: %w", err)
	}
	return nil
}

// RetryFailed moves failed jobs back to pending for reprocessing.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE jobs
            SET status = ?, error_message = NULL, current_item = NULL, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			time.Now().UTC().Format(time.RFC3339Nano),
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE jobs
        SET status = ?, error_message = NULL, current_item = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a job by identifier. The submission row, if any, goes with it.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
