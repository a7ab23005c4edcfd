package importer_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"folio/internal/imagestore"
	"folio/internal/imaging"
	"folio/internal/importer"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/services"
	"folio/internal/testsupport"
)

type importFixture struct {
	library  *library.Store
	images   imagestore.Store
	importer *importer.Importer
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	lib := testsupport.MustOpenLibrary(t, cfg)
	images := imagestore.NewLocal(cfg.Paths.ImagesDir)
	return &importFixture{
		library:  lib,
		images:   images,
		importer: importer.New(lib, images, logging.NewNop()),
	}
}

// writeMinimalPDF produces a valid PDF with the given number of blank pages.
// Object offsets in the cross-reference table are computed exactly so strict
// readers accept it.
func writeMinimalPDF(t *testing.T, path string, pages int) {
	t.Helper()

	var buf bytes.Buffer
	var offsets []int
	addObj := func(body string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, 0, pages)
	for i := 0; i < pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 3+i))
	}
	addObj("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	addObj(fmt.Sprintf("2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d >>\nendobj\n", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		addObj(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 300] >>\nendobj\n", 3+i))
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefStart)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
}

func TestImportDirectoryCreatesBookAndPages(t *testing.T) {
	f := newImportFixture(t)
	src := t.TempDir()

	// Written out of order on purpose; the importer sorts by filename.
	testsupport.WritePageImage(t, filepath.Join(src, "scan-003.png"), 300, 200, 240)
	testsupport.WritePageImage(t, filepath.Join(src, "scan-001.png"), 300, 200, 80)
	testsupport.WritePageImage(t, filepath.Join(src, "scan-002.png"), 300, 200, 160)
	if err := os.WriteFile(filepath.Join(src, "notes.txt"), []byte("not a scan"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, ".DS_Store"), []byte{0}, 0o644); err != nil {
		t.Fatalf("write hidden file: %v", err)
	}

	result, err := f.importer.ImportDirectory(context.Background(), src, library.NewBookParams{Title: "Herbal Codex"})
	if err != nil {
		t.Fatalf("ImportDirectory: %v", err)
	}
	if result.PagesAdded != 3 || result.Skipped != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Book.Title != "Herbal Codex" {
		t.Fatalf("unexpected title %q", result.Book.Title)
	}

	pages, err := f.library.ListPages(context.Background(), result.Book.ID)
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for idx, page := range pages {
		if page.PageNumber != idx+1 {
			t.Fatalf("page %d has number %d", idx, page.PageNumber)
		}
		want := fmt.Sprintf("books/%d/page-%04d.png", result.Book.ID, idx+1)
		if page.Photo != want {
			t.Fatalf("page %d photo = %q, want %q", idx, page.Photo, want)
		}
	}

	// Filename order decides reading order: page one must hold scan-001.
	original, err := os.ReadFile(filepath.Join(src, "scan-001.png"))
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	stored, err := imagestore.ReadAll(context.Background(), f.images, pages[0].Photo)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(stored, original) {
		t.Fatal("stored page one does not match scan-001")
	}
}

func TestImportDirectoryDefaultsTitleToDirectoryName(t *testing.T) {
	f := newImportFixture(t)
	src := filepath.Join(t.TempDir(), "voynich-facsimile")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	testsupport.WritePageImage(t, filepath.Join(src, "p1.png"), 200, 150, 100)

	result, err := f.importer.ImportDirectory(context.Background(), src, library.NewBookParams{})
	if err != nil {
		t.Fatalf("ImportDirectory: %v", err)
	}
	if result.Book.Title != "voynich-facsimile" {
		t.Fatalf("unexpected default title %q", result.Book.Title)
	}
}

func TestImportDirectoryRejectsEmptyDirectory(t *testing.T) {
	f := newImportFixture(t)
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "readme.md"), []byte("nothing here"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := f.importer.ImportDirectory(context.Background(), src, library.NewBookParams{})
	if err == nil {
		t.Fatal("expected import of an empty directory to fail")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	books, err := f.library.ListBooks(context.Background())
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(books) != 0 {
		t.Fatalf("expected no book created, got %d", len(books))
	}
}

func TestImportPDFCreatesPages(t *testing.T) {
	f := newImportFixture(t)
	path := filepath.Join(t.TempDir(), "codex.pdf")
	writeMinimalPDF(t, path, 2)

	result, err := f.importer.ImportPDF(context.Background(), path, library.NewBookParams{})
	if err != nil {
		t.Fatalf("ImportPDF: %v", err)
	}
	if result.PagesAdded != 2 {
		t.Fatalf("expected 2 pages, got %d", result.PagesAdded)
	}
	if result.Book.Title != "codex" {
		t.Fatalf("unexpected default title %q", result.Book.Title)
	}

	pages, err := f.library.ListPages(context.Background(), result.Book.ID)
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	for _, page := range pages {
		if !strings.HasSuffix(page.Photo, ".jpg") {
			t.Fatalf("expected rasterized JPEG, got %q", page.Photo)
		}
		data, err := imagestore.ReadAll(context.Background(), f.images, page.Photo)
		if err != nil {
			t.Fatalf("ReadAll: %v", err)
		}
		img, format, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode stored page: %v", err)
		}
		if format != "jpeg" {
			t.Fatalf("unexpected format %q", format)
		}
		if img.Bounds().Dx() <= 0 || img.Bounds().Dy() <= 0 {
			t.Fatal("rasterized page has no pixels")
		}
	}
}

func TestImportDispatchesByPath(t *testing.T) {
	f := newImportFixture(t)

	src := t.TempDir()
	testsupport.WritePageImage(t, filepath.Join(src, "p1.png"), 200, 150, 100)
	if _, err := f.importer.Import(context.Background(), src, library.NewBookParams{Title: "Dir"}); err != nil {
		t.Fatalf("Import directory: %v", err)
	}

	pdf := filepath.Join(t.TempDir(), "scans.pdf")
	writeMinimalPDF(t, pdf, 1)
	if _, err := f.importer.Import(context.Background(), pdf, library.NewBookParams{Title: "PDF"}); err != nil {
		t.Fatalf("Import pdf: %v", err)
	}

	stray := filepath.Join(t.TempDir(), "scan.zip")
	if err := os.WriteFile(stray, []byte("zip"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}
	_, err := f.importer.Import(context.Background(), stray, library.NewBookParams{})
	if err == nil {
		t.Fatal("expected unsupported source to fail")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
