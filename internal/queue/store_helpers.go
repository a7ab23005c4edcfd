package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, type, status, book_id, page_ids_json, model, language, target_language, parallelism, overwrite, total, completed, failed, current_item, results_json, error_message, created_at, updated_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               int64
		jobType          string
		statusStr        string
		bookID           int64
		pageIDsRaw       sql.NullString
		model            sql.NullString
		language         sql.NullString
		targetLanguage   sql.NullString
		parallelism      sql.NullInt64
		overwrite        sql.NullInt64
		total            sql.NullInt64
		completed        sql.NullInt64
		failed           sql.NullInt64
		currentItem      sql.NullString
		resultsRaw       sql.NullString
		errorMessage     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobType,
		&statusStr,
		&bookID,
		&pageIDsRaw,
		&model,
		&language,
		&targetLanguage,
		&parallelism,
		&overwrite,
		&total,
		&completed,
		&failed,
		&currentItem,
		&resultsRaw,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		Type:           JobType(jobType),
		Status:         Status(statusStr),
		BookID:         bookID,
		Model:          model.String,
		Language:       language.String,
		TargetLanguage: targetLanguage.String,
		Parallelism:    int(parallelism.Int64),
		Overwrite:      overwrite.Int64 != 0,
		Total:          int(total.Int64),
		Completed:      int(completed.Int64),
		Failed:         int(failed.Int64),
		CurrentItem:    currentItem.String,
		ErrorMessage:   errorMessage.String,
	}

	pageIDs, err := decodePageIDs(pageIDsRaw.String)
	if err != nil {
		return nil, fmt.Errorf("decode page ids for job %d: %w", id, err)
	}
	job.PageIDs = pageIDs

	results, err := decodeResults(resultsRaw.String)
	if err != nil {
		return nil, fmt.Errorf("decode results for job %d: %w", id, err)
	}
	job.Results = results

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func encodePageIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal page ids: %w", err)
	}
	return string(data), nil
}

func decodePageIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func encodeResults(results []PageResult) (string, error) {
	if results == nil {
		results = []PageResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}

func decodeResults(raw string) ([]PageResult, error) {
	if raw == "" {
		return nil, nil
	}
	var results []PageResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, err
	}
	return results, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
