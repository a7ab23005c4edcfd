package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NewPageParams describes a page to add. PageNumber 0 appends after the
// current last page.
type NewPageParams struct {
	BookID     int64
	PageNumber int
	Photo      string
}

// AddPage inserts a page into a book.
func (s *Store) AddPage(ctx context.Context, params NewPageParams) (*Page, error) {
	if params.BookID <= 0 {
		return nil, errors.New("book id is required")
	}
	if params.Photo == "" {
		return nil, errors.New("page photo is required")
	}

	number := params.PageNumber
	if number <= 0 {
		if err := s.db.QueryRowContext(
			ctx,
			`SELECT COALESCE(MAX(page_number), 0) + 1 FROM pages WHERE book_id = ?`,
			params.BookID,
		).Scan(&number); err != nil {
			return nil, fmt.Errorf("next page number: %w", err)
		}
	}

	now := timestamp()
	res, err := s.execRetry(
		ctx,
		`INSERT INTO pages (book_id, page_number, photo, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		params.BookID,
		number,
		params.Photo,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert page: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetPage(ctx, id)
}

// GetPage fetches a page by identifier. Returns nil when no page exists.
func (s *Store) GetPage(ctx context.Context, id int64) (*Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// ListPages returns the pages of a book in reading order.
func (s *Store) ListPages(ctx context.Context, bookID int64) ([]*Page, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+pageColumns+` FROM pages WHERE book_id = ? ORDER BY page_number, id`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// PagesByIDs fetches pages by identifier. Missing ids are absent from the
// returned map; callers decide whether that is an error.
func (s *Store) PagesByIDs(ctx context.Context, ids []int64) (map[int64]*Page, error) {
	result := make(map[int64]*Page, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id IN (`+string(placeholders)+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("pages by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		result[page.ID] = page
	}
	return result, rows.Err()
}

// PageIDsForBook returns the book's page ids in reading order.
func (s *Store) PageIDsForBook(ctx context.Context, bookID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM pages WHERE book_id = ? ORDER BY page_number, id`, bookID)
	if err != nil {
		return nil, fmt.Errorf("page ids for book: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetCrop records a crop window on the normalized 0-1000 scale and drops any
// previously derived image so the next preparation pass re-materializes it.
func (s *Store) SetCrop(ctx context.Context, pageID int64, xStart, xEnd int) error {
	if xStart < 0 || xEnd > 1000 || xStart >= xEnd {
		return fmt.Errorf("invalid crop window [%d, %d]", xStart, xEnd)
	}
	res, err := s.execRetry(
		ctx,
		`UPDATE pages SET crop_x_start = ?, crop_x_end = ?, cropped_photo = NULL, updated_at = ? WHERE id = ?`,
		xStart,
		xEnd,
		timestamp(),
		pageID,
	)
	if err != nil {
		return fmt.Errorf("set crop: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("page %d not found", pageID)
	}
	return nil
}

// ClearCrop removes the crop window and derived image from a page.
func (s *Store) ClearCrop(ctx context.Context, pageID int64) error {
	if _, err := s.execRetry(
		ctx,
		`UPDATE pages SET crop_x_start = NULL, crop_x_end = NULL, cropped_photo = NULL, updated_at = ? WHERE id = ?`,
		timestamp(),
		pageID,
	); err != nil {
		return fmt.Errorf("clear crop: %w", err)
	}
	return nil
}

// SetCroppedPhoto records the derived image produced for the crop window.
func (s *Store) SetCroppedPhoto(ctx context.Context, pageID int64, path string) error {
	if _, err := s.execRetry(
		ctx,
		`UPDATE pages SET cropped_photo = ?, updated_at = ? WHERE id = ?`,
		nullableStr(path),
		timestamp(),
		pageID,
	); err != nil {
		return fmt.Errorf("set cropped photo: %w", err)
	}
	return nil
}

// SaveOCR stores the transcription result on a page.
func (s *Store) SaveOCR(ctx context.Context, pageID int64, result *OCRResult) error {
	encoded, err := encodeDoc(result)
	if err != nil {
		return err
	}
	if _, err := s.execRetry(
		ctx,
		`UPDATE pages SET ocr_json = ?, updated_at = ? WHERE id = ?`,
		encoded,
		timestamp(),
		pageID,
	); err != nil {
		return fmt.Errorf("save ocr: %w", err)
	}
	return nil
}

// SaveTranslation stores the translation result on a page.
func (s *Store) SaveTranslation(ctx context.Context, pageID int64, result *TranslationResult) error {
	encoded, err := encodeDoc(result)
	if err != nil {
		return err
	}
	if _, err := s.execRetry(
		ctx,
		`UPDATE pages SET translation_json = ?, updated_at = ? WHERE id = ?`,
		encoded,
		timestamp(),
		pageID,
	); err != nil {
		return fmt.Errorf("save translation: %w", err)
	}
	return nil
}
