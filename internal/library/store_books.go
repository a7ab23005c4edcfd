package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewBookParams describes a book to create.
type NewBookParams struct {
	Title    string
	Author   string
	Language string
}

const bookColumns = `b.id, b.title, b.author, b.language, b.created_at, b.updated_at,
    (SELECT COUNT(1) FROM pages p WHERE p.book_id = b.id) AS page_count`

func scanBook(scanner interface{ Scan(dest ...any) error }) (*Book, error) {
	var (
		book      Book
		author    sql.NullString
		language  sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&book.ID, &book.Title, &author, &language, &createdAt, &updatedAt, &book.PageCount); err != nil {
		return nil, err
	}
	book.Author = author.String
	book.Language = language.String
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		book.CreatedAt = parsed
	}
	if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		book.UpdatedAt = parsed
	}
	return &book, nil
}

// CreateBook inserts a new book.
func (s *Store) CreateBook(ctx context.Context, params NewBookParams) (*Book, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return nil, errors.New("book title is required")
	}

	now := timestamp()
	res, err := s.execRetry(
		ctx,
		`INSERT INTO books (title, author, language, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		title,
		nullableStr(strings.TrimSpace(params.Author)),
		nullableStr(strings.TrimSpace(params.Language)),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetBook(ctx, id)
}

// GetBook fetches a book by identifier. Returns nil when no book exists.
func (s *Store) GetBook(ctx context.Context, id int64) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books b WHERE b.id = ?`, id)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// ListBooks returns all books ordered by title.
func (s *Store) ListBooks(ctx context.Context) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books b ORDER BY b.title, b.id`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpdateBook persists title, author, and language changes.
func (s *Store) UpdateBook(ctx context.Context, book *Book) error {
	if book == nil {
		return errors.New("book is nil")
	}
	title := strings.TrimSpace(book.Title)
	if title == "" {
		return errors.New("book title is required")
	}
	if _, err := s.execRetry(
		ctx,
		`UPDATE books SET title = ?, author = ?, language = ?, updated_at = ? WHERE id = ?`,
		title,
		nullableStr(strings.TrimSpace(book.Author)),
		nullableStr(strings.TrimSpace(book.Language)),
		timestamp(),
		book.ID,
	); err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return nil
}

// DeleteBook removes a book and all of its pages.
func (s *Store) DeleteBook(ctx context.Context, id int64) (bool, error) {
	res, err := s.execRetry(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete book: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CountPages returns the number of pages in a book.
func (s *Store) CountPages(ctx context.Context, bookID int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM pages WHERE book_id = ?`, bookID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return count, nil
}
