package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"folio/internal/imagestore"
	"folio/internal/importer"
	"folio/internal/library"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var title string
	var author string
	var language string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "import <directory-or-pdf>",
		Short: "Create a book from a directory of page images or a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lib, err := ctx.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			imp := importer.New(lib, imagestore.NewLocal(cfg.Paths.ImagesDir), nil)
			result, err := imp.Import(cmd.Context(), args[0], library.NewBookParams{
				Title:    title,
				Author:   author,
				Language: language,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, result)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %q as book %d (%d pages", result.Book.Title, result.Book.ID, result.PagesAdded)
			if result.Skipped > 0 {
				fmt.Fprintf(out, ", %d files skipped", result.Skipped)
			}
			fmt.Fprintln(out, ")")
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Book title (defaults to the source name)")
	cmd.Flags().StringVar(&author, "author", "", "Book author")
	cmd.Flags().StringVar(&language, "language", "", "Source language of the book")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}
