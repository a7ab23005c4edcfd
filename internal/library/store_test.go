package library_test

import (
	"context"
	"testing"
	"time"

	"folio/internal/library"
	"folio/internal/testsupport"
)

func TestBookLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLibrary(t, cfg)

	ctx := context.Background()
	book, err := store.CreateBook(ctx, library.NewBookParams{Title: "  Codex Vaticanus  ", Author: "unknown", Language: "grc"})
	if err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	if book.ID == 0 {
		t.Fatal("expected book ID to be assigned")
	}
	if book.Title != "Codex Vaticanus" {
		t.Fatalf("expected trimmed title, got %q", book.Title)
	}
	if book.PageCount != 0 {
		t.Fatalf("expected zero pages, got %d", book.PageCount)
	}

	if _, err := store.CreateBook(ctx, library.NewBookParams{Title: "   "}); err == nil {
		t.Fatal("expected error for empty title")
	}

	book.Author = "anonymous scribe"
	if err := store.UpdateBook(ctx, book); err != nil {
		t.Fatalf("UpdateBook failed: %v", err)
	}
	updated, err := store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("GetBook failed: %v", err)
	}
	if updated.Author != "anonymous scribe" {
		t.Fatalf("expected updated author, got %q", updated.Author)
	}

	missing, err := store.GetBook(ctx, book.ID+99)
	if err != nil {
		t.Fatalf("GetBook missing failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing book, got %#v", missing)
	}
}

func TestAddPageAssignsNumbers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLibrary(t, cfg)

	ctx := context.Background()
	book := testsupport.NewBook(t, store, "Numbering")

	first, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID, Photo: "pages/001.jpg"})
	if err != nil {
		t.Fatalf("AddPage failed: %v", err)
	}
	if first.PageNumber != 1 {
		t.Fatalf("expected page number 1, got %d", first.PageNumber)
	}

	second, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID, Photo: "pages/002.jpg"})
	if err != nil {
		t.Fatalf("AddPage failed: %v", err)
	}
	if second.PageNumber != 2 {
		t.Fatalf("expected page number 2, got %d", second.PageNumber)
	}

	if _, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID}); err == nil {
		t.Fatal("expected error for missing photo")
	}

	listed, err := store.ListPages(ctx, book.ID)
	if err != nil {
		t.Fatalf("ListPages failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(listed))
	}

	fetched, err := store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("GetBook failed: %v", err)
	}
	if fetched.PageCount != 2 {
		t.Fatalf("expected page count 2, got %d", fetched.PageCount)
	}
}

func TestCropRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLibrary(t, cfg)

	ctx := context.Background()
	book := testsupport.NewBook(t, store, "Crops")
	page, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID, Photo: "pages/spread.jpg"})
	if err != nil {
		t.Fatalf("AddPage failed: %v", err)
	}

	if err := store.SetCrop(ctx, page.ID, 0, 510); err != nil {
		t.Fatalf("SetCrop failed: %v", err)
	}
	if err := store.SetCrop(ctx, page.ID, 600, 400); err == nil {
		t.Fatal("expected inverted window to be rejected")
	}
	if err := store.SetCrop(ctx, page.ID, -5, 400); err == nil {
		t.Fatal("expected negative bound to be rejected")
	}
	if err := store.SetCrop(ctx, page.ID+99, 0, 500); err == nil {
		t.Fatal("expected missing page to be rejected")
	}

	cropped, err := store.GetPage(ctx, page.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if !cropped.HasCrop() {
		t.Fatal("expected crop window set")
	}
	if *cropped.CropXStart != 0 || *cropped.CropXEnd != 510 {
		t.Fatalf("unexpected window [%d, %d]", *cropped.CropXStart, *cropped.CropXEnd)
	}
	if !cropped.NeedsCropMaterialized() {
		t.Fatal("expected crop to need materialization")
	}
	if cropped.SourceImage() != "" {
		t.Fatalf("expected no OCR source before materialization, got %q", cropped.SourceImage())
	}

	if err := store.SetCroppedPhoto(ctx, page.ID, "derived/spread_left.jpg"); err != nil {
		t.Fatalf("SetCroppedPhoto failed: %v", err)
	}
	materialized, err := store.GetPage(ctx, page.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if materialized.NeedsCropMaterialized() {
		t.Fatal("expected crop materialized")
	}
	if materialized.SourceImage() != "derived/spread_left.jpg" {
		t.Fatalf("expected derived image as OCR source, got %q", materialized.SourceImage())
	}

	// Moving the window must invalidate the stale derived image.
	if err := store.SetCrop(ctx, page.ID, 0, 490); err != nil {
		t.Fatalf("SetCrop again failed: %v", err)
	}
	moved, err := store.GetPage(ctx, page.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if moved.CroppedPhoto != "" {
		t.Fatalf("expected derived image cleared, got %q", moved.CroppedPhoto)
	}
}

func TestSaveResultsAndPredicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLibrary(t, cfg)

	ctx := context.Background()
	book := testsupport.NewBook(t, store, "Results")
	page, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID, Photo: "pages/p1.jpg"})
	if err != nil {
		t.Fatalf("AddPage failed: %v", err)
	}
	if !page.NeedsOCR(false) || !page.NeedsTranslation(false) {
		t.Fatal("expected fresh page to need both stages")
	}

	ocr := &library.OCRResult{
		Data:      "In principio erat verbum",
		Model:     "gemini-2.5-flash",
		Language:  "la",
		Usage:     &library.Usage{InputTokens: 900, OutputTokens: 120},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveOCR(ctx, page.ID, ocr); err != nil {
		t.Fatalf("SaveOCR failed: %v", err)
	}

	withOCR, err := store.GetPage(ctx, page.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if withOCR.OCR == nil || withOCR.OCR.Data != ocr.Data {
		t.Fatalf("unexpected OCR round trip: %#v", withOCR.OCR)
	}
	if withOCR.OCR.Usage == nil || withOCR.OCR.Usage.InputTokens != 900 {
		t.Fatalf("expected usage preserved, got %#v", withOCR.OCR.Usage)
	}
	if withOCR.NeedsOCR(false) {
		t.Fatal("expected OCR satisfied")
	}
	if !withOCR.NeedsOCR(true) {
		t.Fatal("expected overwrite to force OCR")
	}
	if !withOCR.NeedsTranslation(false) {
		t.Fatal("expected translation still needed")
	}

	translation := &library.TranslationResult{
		Data:           "In the beginning was the word",
		Model:          "gemini-2.5-flash",
		SourceLanguage: "la",
		TargetLanguage: "en",
	}
	if err := store.SaveTranslation(ctx, page.ID, translation); err != nil {
		t.Fatalf("SaveTranslation failed: %v", err)
	}
	done, err := store.GetPage(ctx, page.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if done.NeedsTranslation(false) {
		t.Fatal("expected translation satisfied")
	}
	if done.TranslationText() != translation.Data {
		t.Fatalf("unexpected translation text %q", done.TranslationText())
	}
}

func TestApplySplitRenumbersAndLinks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLibrary(t, cfg)

	ctx := context.Background()
	book := testsupport.NewBook(t, store, "Splits")
	var pages []*library.Page
	for _, photo := range []string{"pages/s1.jpg", "pages/s2.jpg", "pages/s3.jpg"} {
		page, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID, Photo: photo})
		if err != nil {
			t.Fatalf("AddPage failed: %v", err)
		}
		pages = append(pages, page)
	}

	outcome, err := store.ApplySplit(ctx, pages[0].ID, library.Window{Start: 0, End: 510}, library.Window{Start: 490, End: 1000})
	if err != nil {
		t.Fatalf("ApplySplit failed: %v", err)
	}
	if outcome.NewPageID == 0 {
		t.Fatal("expected new sibling page ID")
	}
	if outcome.Renumbered != 2 {
		t.Fatalf("expected 2 pages shifted, got %d", outcome.Renumbered)
	}

	listed, err := store.ListPages(ctx, book.ID)
	if err != nil {
		t.Fatalf("ListPages failed: %v", err)
	}
	if len(listed) != 4 {
		t.Fatalf("expected 4 pages after split, got %d", len(listed))
	}
	for i, page := range listed {
		if page.PageNumber != i+1 {
			t.Fatalf("expected dense numbering, page %d has number %d", page.ID, page.PageNumber)
		}
	}

	source := listed[0]
	sibling := listed[1]
	if source.ID != pages[0].ID {
		t.Fatalf("expected source first, got page %d", source.ID)
	}
	if sibling.ID != outcome.NewPageID {
		t.Fatalf("expected sibling immediately after source, got page %d", sibling.ID)
	}
	if !source.HasCrop() || *source.CropXStart != 0 || *source.CropXEnd != 510 {
		t.Fatalf("unexpected source window: %#v", source)
	}
	if source.PhotoOriginal != "pages/s1.jpg" {
		t.Fatalf("expected source original preserved, got %q", source.PhotoOriginal)
	}
	if !sibling.HasCrop() || *sibling.CropXStart != 490 || *sibling.CropXEnd != 1000 {
		t.Fatalf("unexpected sibling window: %#v", sibling)
	}
	if sibling.SplitFrom == nil || *sibling.SplitFrom != source.ID {
		t.Fatalf("expected sibling back-reference to %d, got %#v", source.ID, sibling.SplitFrom)
	}
	if sibling.Photo != source.Photo {
		t.Fatalf("expected sibling to share the spread photo, got %q", sibling.Photo)
	}
	if !sibling.IsSplitDerived() {
		t.Fatal("expected sibling marked split-derived")
	}

	if _, err := store.ApplySplit(ctx, sibling.ID, library.Window{Start: 0, End: 500}, library.Window{Start: 500, End: 1000}); err == nil {
		t.Fatal("expected split of a split-derived page to be rejected")
	}
	if _, err := store.ApplySplit(ctx, pages[1].ID, library.Window{Start: 200, End: 100}, library.Window{Start: 0, End: 1000}); err == nil {
		t.Fatal("expected invalid window to be rejected")
	}
}

func TestRevertSplitRestoresPageCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLibrary(t, cfg)

	ctx := context.Background()
	book := testsupport.NewBook(t, store, "Reverts")
	var pages []*library.Page
	for _, photo := range []string{"pages/r1.jpg", "pages/r2.jpg"} {
		page, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID, Photo: photo})
		if err != nil {
			t.Fatalf("AddPage failed: %v", err)
		}
		pages = append(pages, page)
	}

	before, err := store.CountPages(ctx, book.ID)
	if err != nil {
		t.Fatalf("CountPages failed: %v", err)
	}

	if _, err := store.ApplySplit(ctx, pages[0].ID, library.Window{Start: 0, End: 520}, library.Window{Start: 480, End: 1000}); err != nil {
		t.Fatalf("ApplySplit failed: %v", err)
	}

	outcome, err := store.RevertSplit(ctx, pages[0].ID)
	if err != nil {
		t.Fatalf("RevertSplit failed: %v", err)
	}
	if outcome.DeletedPages != 1 {
		t.Fatalf("expected 1 sibling deleted, got %d", outcome.DeletedPages)
	}
	if outcome.ClearedPages != 1 {
		t.Fatalf("expected 1 source cleared, got %d", outcome.ClearedPages)
	}

	after, err := store.CountPages(ctx, book.ID)
	if err != nil {
		t.Fatalf("CountPages failed: %v", err)
	}
	if after != before {
		t.Fatalf("expected page count restored to %d, got %d", before, after)
	}

	source, err := store.GetPage(ctx, pages[0].ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if source.HasCrop() {
		t.Fatal("expected crop cleared on revert")
	}
	if source.PhotoOriginal != "" {
		t.Fatalf("expected original reference cleared, got %q", source.PhotoOriginal)
	}

	listed, err := store.ListPages(ctx, book.ID)
	if err != nil {
		t.Fatalf("ListPages failed: %v", err)
	}
	for i, page := range listed {
		if page.PageNumber != i+1 {
			t.Fatalf("expected dense numbering after revert, page %d has number %d", page.ID, page.PageNumber)
		}
	}
}

func TestPagesByIDsSkipsMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLibrary(t, cfg)

	ctx := context.Background()
	book := testsupport.NewBook(t, store, "Lookups")
	page, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID, Photo: "pages/l1.jpg"})
	if err != nil {
		t.Fatalf("AddPage failed: %v", err)
	}

	found, err := store.PagesByIDs(ctx, []int64{page.ID, page.ID + 99})
	if err != nil {
		t.Fatalf("PagesByIDs failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 page found, got %d", len(found))
	}
	if _, ok := found[page.ID]; !ok {
		t.Fatalf("expected page %d in result", page.ID)
	}

	empty, err := store.PagesByIDs(ctx, nil)
	if err != nil {
		t.Fatalf("PagesByIDs empty failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty result, got %d", len(empty))
	}
}

func TestDeleteBookCascadesPages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLibrary(t, cfg)

	ctx := context.Background()
	book := testsupport.NewBook(t, store, "Doomed")
	page, err := store.AddPage(ctx, library.NewPageParams{BookID: book.ID, Photo: "pages/d1.jpg"})
	if err != nil {
		t.Fatalf("AddPage failed: %v", err)
	}

	deleted, err := store.DeleteBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("DeleteBook failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected book deleted")
	}

	gone, err := store.GetPage(ctx, page.ID)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected page cascade-deleted, got %#v", gone)
	}
}
