// Package importer creates book and page records from scanned material. It
// accepts either a directory of page images or a PDF, copies the rasterized
// pages into the image store, and registers them in reading order.
package importer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gen2brain/go-fitz"

	"folio/internal/imagestore"
	"folio/internal/imaging"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/services"
)

// Result reports what one import produced.
type Result struct {
	Book       *library.Book `json:"book"`
	PagesAdded int           `json:"pages_added"`
	Skipped    int           `json:"skipped,omitempty"`
}

// Importer builds books from source material.
type Importer struct {
	library *library.Store
	images  imagestore.Store
	logger  *slog.Logger
}

// New builds an importer. A nil logger discards output.
func New(lib *library.Store, images imagestore.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Importer{
		library: lib,
		images:  images,
		logger:  logging.NewComponentLogger(logger, "importer"),
	}
}

// Import dispatches on the source path: a directory imports its image files,
// a .pdf file is rasterized page by page.
func (i *Importer) Import(ctx context.Context, path string, params library.NewBookParams) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "importer", "stat", fmt.Sprintf("cannot read %s", path), err)
	}
	if info.IsDir() {
		return i.ImportDirectory(ctx, path, params)
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return i.ImportPDF(ctx, path, params)
	}
	return nil, services.Wrap(services.ErrValidation, "importer", "dispatch", fmt.Sprintf("%s is neither a directory nor a PDF", path), nil)
}

// ImportDirectory creates a book from the image files directly inside dir,
// ordered by filename. Files that are not recognized page images are counted
// as skipped. The images are copied into the image store so the source
// directory can be removed afterwards.
func (i *Importer) ImportDirectory(ctx context.Context, dir string, params library.NewBookParams) (*Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "importer", "read directory", dir, err)
	}

	var names []string
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), ".") || !isPageImage(entry.Name()) {
			skipped++
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, services.Wrap(services.ErrValidation, "importer", "scan", fmt.Sprintf("no page images found in %s", dir), nil)
	}
	sort.Strings(names)

	if params.Title == "" {
		params.Title = filepath.Base(dir)
	}
	book, err := i.library.CreateBook(ctx, params)
	if err != nil {
		return nil, err
	}

	result := &Result{Book: book, Skipped: skipped}
	for ordinal, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, i.abandon(ctx, book, err)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, i.abandon(ctx, book, fmt.Errorf("read %s: %w", name, err))
		}
		ref := fmt.Sprintf("books/%d/page-%04d%s", book.ID, ordinal+1, strings.ToLower(filepath.Ext(name)))
		if err := i.addPage(ctx, book.ID, ref, data); err != nil {
			return nil, i.abandon(ctx, book, err)
		}
		result.PagesAdded++
	}

	i.logger.InfoContext(ctx, "imported directory",
		logging.Int64("book_id", book.ID),
		logging.String("title", book.Title),
		logging.Int("pages", result.PagesAdded),
		logging.Int("skipped", result.Skipped),
	)
	return result, nil
}

// ImportPDF rasterizes every page of a PDF into a stored JPEG and creates a
// book from them.
func (i *Importer) ImportPDF(ctx context.Context, path string, params library.NewBookParams) (*Result, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "importer", "open pdf", path, err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if count == 0 {
		return nil, services.Wrap(services.ErrValidation, "importer", "open pdf", fmt.Sprintf("%s has no pages", path), nil)
	}

	if params.Title == "" {
		base := filepath.Base(path)
		params.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	book, err := i.library.CreateBook(ctx, params)
	if err != nil {
		return nil, err
	}

	result := &Result{Book: book}
	for pageNum := 0; pageNum < count; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, i.abandon(ctx, book, err)
		}
		img, err := doc.Image(pageNum)
		if err != nil {
			return nil, i.abandon(ctx, book, fmt.Errorf("rasterize page %d: %w", pageNum+1, err))
		}
		var buf bytes.Buffer
		if err := imaging.EncodeJPEG(&buf, img, imaging.DefaultJPEGQuality); err != nil {
			return nil, i.abandon(ctx, book, fmt.Errorf("encode page %d: %w", pageNum+1, err))
		}
		ref := fmt.Sprintf("books/%d/page-%04d.jpg", book.ID, pageNum+1)
		if err := i.addPage(ctx, book.ID, ref, buf.Bytes()); err != nil {
			return nil, i.abandon(ctx, book, err)
		}
		result.PagesAdded++
	}

	i.logger.InfoContext(ctx, "imported pdf",
		logging.Int64("book_id", book.ID),
		logging.String("title", book.Title),
		logging.Int("pages", result.PagesAdded),
	)
	return result, nil
}

func (i *Importer) addPage(ctx context.Context, bookID int64, ref string, data []byte) error {
	stored, err := i.images.Write(ctx, ref, data)
	if err != nil {
		return fmt.Errorf("store %s: %w", ref, err)
	}
	if _, err := i.library.AddPage(ctx, library.NewPageParams{BookID: bookID, Photo: stored}); err != nil {
		return fmt.Errorf("register %s: %w", ref, err)
	}
	return nil
}

// abandon removes a partially imported book so a failed import leaves no
// half-registered state behind. The stored image files are left for the
// filesystem to reclaim; references to them die with the pages. Cleanup runs
// on its own context because the caller's may already be cancelled.
func (i *Importer) abandon(ctx context.Context, book *library.Book, cause error) error {
	cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := i.library.DeleteBook(cleanup, book.ID); err != nil {
		i.logger.WarnContext(ctx, "failed to remove partial import",
			logging.Int64("book_id", book.ID),
			logging.Error(err),
		)
	}
	return cause
}

func isPageImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tif", ".tiff":
		return true
	default:
		return false
	}
}
