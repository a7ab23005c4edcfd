package library

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"folio/internal/config"
	"folio/internal/sqliteutil"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// Store manages book and page persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the library database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.LibraryDatabasePath())
}

// OpenPath opens the library database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sqliteutil.Open(dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db, path: dbPath}
	if err := sqliteutil.EnsureSchema(context.Background(), db, schemaSQL, schemaVersion,
		"delete the library database and re-import"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureContext(ctx context.Context) context.Context {
	return sqliteutil.EnsureContext(ctx)
}

func retryOnBusy(ctx context.Context, op func() error) error {
	return sqliteutil.RetryOnBusy(ctx, op)
}

func (s *Store) execRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const pageColumns = `id, book_id, page_number, photo, photo_original, crop_x_start, crop_x_end,
    cropped_photo, split_from, ocr_json, translation_json, created_at, updated_at`

func scanPage(scanner interface{ Scan(dest ...any) error }) (*Page, error) {
	var (
		page            Page
		photoOriginal   sql.NullString
		cropXStart      sql.NullInt64
		cropXEnd        sql.NullInt64
		croppedPhoto    sql.NullString
		splitFrom       sql.NullInt64
		ocrRaw          sql.NullString
		translationRaw  sql.NullString
		createdAt       string
		updatedAt       string
	)
	if err := scanner.Scan(
		&page.ID,
		&page.BookID,
		&page.PageNumber,
		&page.Photo,
		&photoOriginal,
		&cropXStart,
		&cropXEnd,
		&croppedPhoto,
		&splitFrom,
		&ocrRaw,
		&translationRaw,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	page.PhotoOriginal = photoOriginal.String
	page.CroppedPhoto = croppedPhoto.String
	if cropXStart.Valid {
		v := int(cropXStart.Int64)
		page.CropXStart = &v
	}
	if cropXEnd.Valid {
		v := int(cropXEnd.Int64)
		page.CropXEnd = &v
	}
	if splitFrom.Valid {
		v := splitFrom.Int64
		page.SplitFrom = &v
	}
	if ocrRaw.Valid && ocrRaw.String != "" {
		var ocr OCRResult
		if err := json.Unmarshal([]byte(ocrRaw.String), &ocr); err != nil {
			return nil, fmt.Errorf("decode ocr for page %d: %w", page.ID, err)
		}
		page.OCR = &ocr
	}
	if translationRaw.Valid && translationRaw.String != "" {
		var tr TranslationResult
		if err := json.Unmarshal([]byte(translationRaw.String), &tr); err != nil {
			return nil, fmt.Errorf("decode translation for page %d: %w", page.ID, err)
		}
		page.Translation = &tr
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		page.CreatedAt = parsed
	}
	if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		page.UpdatedAt = parsed
	}
	return &page, nil
}

func nullableStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func encodeDoc(doc any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal page document: %w", err)
	}
	return string(data), nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
