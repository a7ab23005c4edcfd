package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Window is a horizontal crop range on the normalized 0-1000 scale.
type Window struct {
	Start int
	End   int
}

// Valid reports whether the window lies on the normalized scale with a
// positive width.
func (w Window) Valid() bool {
	return w.Start >= 0 && w.End <= 1000 && w.Start < w.End
}

// SplitOutcome reports what a split changed.
type SplitOutcome struct {
	SourcePageID int64
	NewPageID    int64
	Left         Window
	Right        Window
	Renumbered   int
}

// RevertOutcome reports what reverting splits changed.
type RevertOutcome struct {
	DeletedPages int
	ClearedPages int
	Renumbered   int
}

// ApplySplit mutates the source page to carry the left window and inserts a
// sibling page carrying the right window immediately after it, shifting later
// page numbers up by one. The whole operation is a single transaction.
func (s *Store) ApplySplit(ctx context.Context, pageID int64, left, right Window) (*SplitOutcome, error) {
	if !left.Valid() || !right.Valid() {
		return nil, fmt.Errorf("invalid split windows [%d,%d] / [%d,%d]", left.Start, left.End, right.Start, right.End)
	}

	ctx = ensureContext(ctx)
	var outcome *SplitOutcome
	err := retryOnBusy(ctx, func() error {
		outcome = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin split tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, pageID)
		source, err := scanPage(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("page %d not found", pageID)
			}
			return fmt.Errorf("load page %d: %w", pageID, err)
		}
		if source.IsSplitDerived() {
			return fmt.Errorf("page %d is split-derived and cannot be split again", pageID)
		}

		original := source.PhotoOriginal
		if original == "" {
			original = source.Photo
		}

		now := timestamp()
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE pages
             SET crop_x_start = ?, crop_x_end = ?, cropped_photo = NULL, photo_original = ?, updated_at = ?
             WHERE id = ?`,
			left.Start,
			left.End,
			original,
			now,
			source.ID,
		); err != nil {
			return fmt.Errorf("update source page %d: %w", source.ID, err)
		}

		shifted, err := tx.ExecContext(
			ctx,
			`UPDATE pages SET page_number = page_number + 1, updated_at = ? WHERE book_id = ? AND page_number > ?`,
			now,
			source.BookID,
			source.PageNumber,
		)
		if err != nil {
			return fmt.Errorf("shift page numbers: %w", err)
		}
		renumbered, err := shifted.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		inserted, err := tx.ExecContext(
			ctx,
			`INSERT INTO pages (
                book_id, page_number, photo, photo_original, crop_x_start, crop_x_end,
                split_from, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			source.BookID,
			source.PageNumber+1,
			source.Photo,
			original,
			right.Start,
			right.End,
			source.ID,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert sibling page: %w", err)
		}
		newID, err := inserted.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit split: %w", err)
		}
		outcome = &SplitOutcome{
			SourcePageID: source.ID,
			NewPageID:    newID,
			Left:         left,
			Right:        right,
			Renumbered:   int(renumbered),
		}
		return nil
	})
	return outcome, err
}

// RevertSplit deletes the siblings derived from the given source pages,
// clears the crop windows on the sources, and renumbers each touched book.
func (s *Store) RevertSplit(ctx context.Context, pageIDs ...int64) (*RevertOutcome, error) {
	if len(pageIDs) == 0 {
		return &RevertOutcome{}, nil
	}

	placeholders := make([]byte, 0, len(pageIDs)*2)
	idArgs := make([]any, 0, len(pageIDs))
	for i, id := range pageIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		idArgs = append(idArgs, id)
	}

	ctx = ensureContext(ctx)
	var outcome *RevertOutcome
	err := retryOnBusy(ctx, func() error {
		outcome = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin revert tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		bookRows, err := tx.QueryContext(
			ctx,
			`SELECT DISTINCT book_id FROM pages WHERE id IN (`+string(placeholders)+`)`,
			idArgs...,
		)
		if err != nil {
			return fmt.Errorf("load touched books: %w", err)
		}
		var bookIDs []int64
		for bookRows.Next() {
			var bookID int64
			if err := bookRows.Scan(&bookID); err != nil {
				bookRows.Close()
				return fmt.Errorf("scan book id: %w", err)
			}
			bookIDs = append(bookIDs, bookID)
		}
		if err := bookRows.Err(); err != nil {
			bookRows.Close()
			return err
		}
		bookRows.Close()

		now := timestamp()
		deleted, err := tx.ExecContext(
			ctx,
			`DELETE FROM pages WHERE split_from IN (`+string(placeholders)+`)`,
			idArgs...,
		)
		if err != nil {
			return fmt.Errorf("delete split siblings: %w", err)
		}
		deletedCount, err := deleted.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		clearArgs := append([]any{now}, idArgs...)
		cleared, err := tx.ExecContext(
			ctx,
			`UPDATE pages
             SET crop_x_start = NULL, crop_x_end = NULL, cropped_photo = NULL, photo_original = NULL, updated_at = ?
             WHERE id IN (`+string(placeholders)+`)`,
			clearArgs...,
		)
		if err != nil {
			return fmt.Errorf("clear source crops: %w", err)
		}
		clearedCount, err := cleared.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		renumbered := 0
		for _, bookID := range bookIDs {
			count, err := renumberBook(ctx, tx, bookID)
			if err != nil {
				return err
			}
			renumbered += count
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit revert: %w", err)
		}
		outcome = &RevertOutcome{
			DeletedPages: int(deletedCount),
			ClearedPages: int(clearedCount),
			Renumbered:   renumbered,
		}
		return nil
	})
	return outcome, err
}

// renumberBook rewrites page numbers densely from 1, preserving current order.
func renumberBook(ctx context.Context, tx *sql.Tx, bookID int64) (int, error) {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT id, page_number FROM pages WHERE book_id = ? ORDER BY page_number, id`,
		bookID,
	)
	if err != nil {
		return 0, fmt.Errorf("load pages for renumber: %w", err)
	}

	type numbered struct {
		id     int64
		number int
	}
	var pages []numbered
	for rows.Next() {
		var n numbered
		if err := rows.Scan(&n.id, &n.number); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan page number: %w", err)
		}
		pages = append(pages, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	now := timestamp()
	changed := 0
	for i, page := range pages {
		want := i + 1
		if page.number == want {
			continue
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE pages SET page_number = ?, updated_at = ? WHERE id = ?`,
			want,
			now,
			page.id,
		); err != nil {
			return 0, fmt.Errorf("renumber page %d: %w", page.id, err)
		}
		changed++
	}
	return changed, nil
}
