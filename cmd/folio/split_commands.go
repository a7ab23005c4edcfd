package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/gutter"
	"folio/internal/imagestore"
	"folio/internal/library"
	"folio/internal/split"
)

func newSplitCommand(ctx *commandContext) *cobra.Command {
	splitCmd := &cobra.Command{
		Use:   "split",
		Short: "Detect and execute two-page spread splits",
	}

	splitCmd.AddCommand(newSplitDetectCommand(ctx))
	splitCmd.AddCommand(newSplitApplyCommand(ctx))
	splitCmd.AddCommand(newSplitRevertCommand(ctx))

	return splitCmd
}

func (c *commandContext) openSplitter() (*split.Executor, *library.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	lib, err := c.openLibrary()
	if err != nil {
		return nil, nil, err
	}
	executor := split.NewExecutor(lib, imagestore.NewLocal(cfg.Paths.ImagesDir), cfg.Split, nil)
	return executor, lib, nil
}

func newSplitDetectCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "detect <page-id>...",
		Short: "Preview gutter detection without modifying pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executor, lib, err := ctx.openSplitter()
			if err != nil {
				return err
			}
			defer lib.Close()

			analyses := make([]*split.Analysis, 0, len(args))
			for _, arg := range args {
				pageID, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid page id %q", arg)
				}
				analysis, err := executor.Analyze(cmd.Context(), pageID)
				if err != nil {
					return err
				}
				analyses = append(analyses, analysis)
			}
			if jsonOut {
				return writeJSON(cmd, analyses)
			}

			rows := make([][]string, 0, len(analyses))
			for _, analysis := range analyses {
				detection := analysis.Detection
				rows = append(rows, []string{
					strconv.FormatInt(analysis.PageID, 10),
					strconv.Itoa(analysis.PageNumber),
					strconv.Itoa(detection.Position),
					string(detection.Confidence),
					yesNo(detection.IsSpread()),
					fmt.Sprintf("%d-%d", analysis.Left.Start, analysis.Left.End),
					fmt.Sprintf("%d-%d", analysis.Right.Start, analysis.Right.End),
				})
			}
			table := renderTable(
				[]string{"ID", "Page", "Gutter", "Confidence", "Spread", "Left", "Right"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newSplitApplyCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "apply <page-id>[:<position>]...",
		Short: "Split spread pages, detecting the gutter when no position is given",
		Long: `Split spread pages into left and right halves.

Each argument is a page id, optionally with an explicit split position on the
normalized 0-1000 scale, for example "12:507". Without a position, detection
runs first and low-confidence pages are rejected rather than split blindly.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executor, lib, err := ctx.openSplitter()
			if err != nil {
				return err
			}
			defer lib.Close()

			requests := make([]split.Request, 0, len(args))
			for _, arg := range args {
				request, err := parseSplitSpec(cmd, executor, arg)
				if err != nil {
					return err
				}
				requests = append(requests, request)
			}

			outcome, err := executor.Apply(cmd.Context(), requests...)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, outcome)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Split %d pages (%d pages renumbered)\n",
				outcome.PagesCreated, outcome.PagesRenumbered)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func parseSplitSpec(cmd *cobra.Command, executor *split.Executor, arg string) (split.Request, error) {
	idPart, posPart, hasPosition := strings.Cut(arg, ":")
	pageID, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil {
		return split.Request{}, fmt.Errorf("invalid page id %q", arg)
	}

	if hasPosition {
		position, err := strconv.Atoi(strings.TrimSpace(posPart))
		if err != nil || position <= 0 || position >= gutter.AnalysisWidth {
			return split.Request{}, fmt.Errorf("invalid split position %q (want 1-%d)", posPart, gutter.AnalysisWidth-1)
		}
		return split.Request{PageID: pageID, Position: position}, nil
	}

	analysis, err := executor.Analyze(cmd.Context(), pageID)
	if err != nil {
		return split.Request{}, err
	}
	if !analysis.Detection.IsSpread() {
		return split.Request{}, fmt.Errorf(
			"page %d does not look like a spread (confidence %s); pass an explicit position as %d:<position>",
			pageID, analysis.Detection.Confidence, pageID)
	}
	return split.Request{PageID: pageID, Position: analysis.Detection.Position}, nil
}

func newSplitRevertCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "revert <page-id>...",
		Short: "Undo earlier splits of the given source pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			executor, lib, err := ctx.openSplitter()
			if err != nil {
				return err
			}
			defer lib.Close()

			pageIDs := make([]int64, 0, len(args))
			for _, arg := range args {
				pageID, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid page id %q", arg)
				}
				pageIDs = append(pageIDs, pageID)
			}

			outcome, err := executor.Revert(cmd.Context(), pageIDs...)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, outcome)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d split pages, cleared %d crops, renumbered %d pages\n",
				outcome.DeletedPages, outcome.ClearedPages, outcome.Renumbered)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}
