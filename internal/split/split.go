// Package split turns two-page spreads into pairs of single pages. Detection
// proposes a gutter position; execution derives overlapping crop windows and
// rewrites the book's page sequence through the library store.
package split

import (
	"context"
	"fmt"
	"log/slog"

	"folio/internal/config"
	"folio/internal/gutter"
	"folio/internal/imagestore"
	"folio/internal/imaging"
	"folio/internal/library"
	"folio/internal/logging"
)

// DefaultOverlap is the window overlap in analysis units (1% of the scale).
const DefaultOverlap = 10

// Windows derives the left and right crop windows for a split at position.
// Both windows share the overlap band around the position so content on the
// gutter line is never lost to either half.
func Windows(position, overlap int) (left, right library.Window, err error) {
	if position <= 0 || position >= gutter.AnalysisWidth {
		return left, right, fmt.Errorf("split position %d outside (0, %d)", position, gutter.AnalysisWidth)
	}
	if overlap < 0 {
		return left, right, fmt.Errorf("split overlap %d is negative", overlap)
	}

	left = library.Window{Start: 0, End: min(gutter.AnalysisWidth, position+overlap)}
	right = library.Window{Start: max(0, position-overlap), End: gutter.AnalysisWidth}
	return left, right, nil
}

// Request names one page to split and where.
type Request struct {
	PageID   int64 `json:"page_id"`
	Position int   `json:"split_position"`
}

// Analysis is a detection preview for one page.
type Analysis struct {
	PageID     int64
	PageNumber int
	Detection  *gutter.Detection
	Left       library.Window
	Right      library.Window
}

// Executor runs detection previews and split mutations against the library.
type Executor struct {
	library *library.Store
	images  imagestore.Store
	log     *slog.Logger
	opts    gutter.Options
	overlap int
}

// NewExecutor wires an executor from the split configuration section.
func NewExecutor(lib *library.Store, images imagestore.Store, cfg config.Split, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	overlap := cfg.Overlap
	if overlap <= 0 {
		overlap = DefaultOverlap
	}
	return &Executor{
		library: lib,
		images:  images,
		log:     logger,
		opts: gutter.Options{
			BandStart:    cfg.BandStart,
			BandEnd:      cfg.BandEnd,
			SmoothRadius: cfg.SmoothRadius,
		},
		overlap: overlap,
	}
}

// Overlap reports the configured window overlap.
func (e *Executor) Overlap() int {
	return e.overlap
}

// Analyze runs gutter detection on one page and proposes crop windows.
// Pages that already came out of a split are rejected; re-splitting a half
// would corrupt the numbering restored by revert.
func (e *Executor) Analyze(ctx context.Context, pageID int64) (*Analysis, error) {
	page, err := e.library.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, fmt.Errorf("page %d not found", pageID)
	}
	if page.IsSplitDerived() {
		return nil, fmt.Errorf("page %d was created by a split and cannot be analyzed again", pageID)
	}
	if page.Photo == "" {
		return nil, fmt.Errorf("page %d has no photo", pageID)
	}

	rc, err := e.images.Open(ctx, page.Photo)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := imaging.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode page %d photo: %w", pageID, err)
	}

	detection, err := gutter.Detect(img, e.opts)
	if err != nil {
		return nil, fmt.Errorf("analyze page %d: %w", pageID, err)
	}

	left, right, err := Windows(detection.Position, e.overlap)
	if err != nil {
		return nil, err
	}

	e.log.DebugContext(ctx, "gutter detection",
		logging.Int64("page_id", pageID),
		logging.Int("position", detection.Position),
		logging.String("confidence", string(detection.Confidence)),
	)

	return &Analysis{
		PageID:     pageID,
		PageNumber: page.PageNumber,
		Detection:  detection,
		Left:       left,
		Right:      right,
	}, nil
}

// Outcome reports what a batch of splits changed.
type Outcome struct {
	PagesCreated    int                    `json:"pages_created"`
	PagesRenumbered int                    `json:"pages_renumbered"`
	Splits          []library.SplitOutcome `json:"splits"`
}

// Apply splits each requested page at its position. Requests are applied in
// order; a failure stops the batch and reports how far it got.
func (e *Executor) Apply(ctx context.Context, requests ...Request) (*Outcome, error) {
	outcome := &Outcome{}
	for _, req := range requests {
		left, right, err := Windows(req.Position, e.overlap)
		if err != nil {
			return outcome, fmt.Errorf("page %d: %w", req.PageID, err)
		}
		result, err := e.library.ApplySplit(ctx, req.PageID, left, right)
		if err != nil {
			return outcome, fmt.Errorf("split page %d: %w", req.PageID, err)
		}
		outcome.PagesCreated++
		outcome.PagesRenumbered += result.Renumbered
		outcome.Splits = append(outcome.Splits, *result)

		e.log.InfoContext(ctx, "page split",
			logging.Int64("page_id", req.PageID),
			logging.Int64("new_page_id", result.NewPageID),
			logging.Int("position", req.Position),
		)
	}
	return outcome, nil
}

// Revert undoes earlier splits of the given source pages.
func (e *Executor) Revert(ctx context.Context, pageIDs ...int64) (*library.RevertOutcome, error) {
	outcome, err := e.library.RevertSplit(ctx, pageIDs...)
	if err != nil {
		return nil, err
	}
	e.log.InfoContext(ctx, "splits reverted",
		logging.Int("pages_deleted", outcome.DeletedPages),
		logging.Int("pages_renumbered", outcome.Renumbered),
	)
	return outcome, nil
}
