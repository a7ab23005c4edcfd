package api

import (
	"context"
	"fmt"
	"log/slog"

	"folio/internal/gutter"
	"folio/internal/library"
	"folio/internal/logging"
	"folio/internal/services"
	"folio/internal/split"
)

// PageService reads books and pages and executes split operations.
type PageService struct {
	library  *library.Store
	splitter *split.Executor
	logger   *slog.Logger
}

// NewPageService wires a page service over the library store.
func NewPageService(lib *library.Store, splitter *split.Executor, logger *slog.Logger) *PageService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PageService{
		library:  lib,
		splitter: splitter,
		logger:   logging.NewComponentLogger(logger, "api"),
	}
}

// Books lists the library.
func (s *PageService) Books(ctx context.Context) ([]Book, error) {
	books, err := s.library.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	return FromBooks(books), nil
}

// Pages returns one book's pages in reading order.
func (s *PageService) Pages(ctx context.Context, bookID int64) ([]Page, error) {
	book, err := s.library.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", "pages", fmt.Sprintf("book %d", bookID), nil)
	}
	pages, err := s.library.ListPages(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return FromPages(pages), nil
}

// Gutter runs a detection preview on one page.
func (s *PageService) Gutter(ctx context.Context, pageID int64) (*GutterPreview, error) {
	if err := s.checkSplittable(ctx, pageID, "gutter"); err != nil {
		return nil, err
	}
	analysis, err := s.splitter.Analyze(ctx, pageID)
	if err != nil {
		return nil, err
	}
	preview := FromAnalysis(analysis)
	return &preview, nil
}

// ApplySplits executes the requested splits in order. Every request is
// validated before any page changes, so a bad entry rejects the whole batch
// instead of leaving it half applied.
func (s *PageService) ApplySplits(ctx context.Context, req SplitRequest) (*SplitResponse, error) {
	if len(req.Splits) == 0 {
		return nil, services.Wrap(services.ErrValidation, "api", "split", "no splits requested", nil)
	}

	requests := make([]split.Request, 0, len(req.Splits))
	for _, spec := range req.Splits {
		if spec.Position <= 0 || spec.Position >= gutter.AnalysisWidth {
			return nil, services.Wrap(services.ErrValidation, "api", "split",
				fmt.Sprintf("page %d: split position %d outside (0, %d)", spec.PageID, spec.Position, gutter.AnalysisWidth), nil)
		}
		if err := s.checkSplittable(ctx, spec.PageID, "split"); err != nil {
			return nil, err
		}
		requests = append(requests, split.Request{PageID: spec.PageID, Position: spec.Position})
	}

	outcome, err := s.splitter.Apply(ctx, requests...)
	if err != nil {
		return nil, err
	}
	return &SplitResponse{
		PagesCreated:    outcome.PagesCreated,
		PagesRenumbered: outcome.PagesRenumbered,
	}, nil
}

// RevertSplits undoes earlier splits of the named source pages.
func (s *PageService) RevertSplits(ctx context.Context, req RevertRequest) (*RevertResponse, error) {
	if len(req.PageIDs) == 0 {
		return nil, services.Wrap(services.ErrValidation, "api", "revert", "no pages requested", nil)
	}
	outcome, err := s.splitter.Revert(ctx, req.PageIDs...)
	if err != nil {
		return nil, err
	}
	return &RevertResponse{
		PagesDeleted:    outcome.DeletedPages,
		PagesRenumbered: outcome.Renumbered,
	}, nil
}

// checkSplittable rejects detection or split requests against pages that do
// not exist, came out of a split, or have no photo.
func (s *PageService) checkSplittable(ctx context.Context, pageID int64, operation string) error {
	page, err := s.library.GetPage(ctx, pageID)
	if err != nil {
		return err
	}
	if page == nil {
		return services.Wrap(services.ErrNotFound, "api", operation, fmt.Sprintf("page %d", pageID), nil)
	}
	if page.IsSplitDerived() {
		return services.Wrap(services.ErrValidation, "api", operation, fmt.Sprintf("page %d was created by a split", pageID), nil)
	}
	if page.Photo == "" {
		return services.Wrap(services.ErrValidation, "api", operation, fmt.Sprintf("page %d has no photo", pageID), nil)
	}
	return nil
}
