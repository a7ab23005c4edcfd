package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"folio/internal/library"
)

func newBooksCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "books",
		Short: "List books in the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			books, err := lib.ListBooks(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, books)
			}
			if len(books) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Library is empty")
				return nil
			}

			rows := make([][]string, 0, len(books))
			for _, book := range books {
				rows = append(rows, []string{
					strconv.FormatInt(book.ID, 10),
					book.Title,
					book.Author,
					book.Language,
					strconv.Itoa(book.PageCount),
					formatLocalTime(book.CreatedAt),
				})
			}
			table := renderTable(
				[]string{"ID", "Title", "Author", "Language", "Pages", "Created"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newPagesCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "pages <book-id>",
		Short: "List a book's pages in reading order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid book id %q", args[0])
			}

			lib, err := ctx.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			book, err := lib.GetBook(cmd.Context(), bookID)
			if err != nil {
				return err
			}
			if book == nil {
				return fmt.Errorf("book %d not found", bookID)
			}
			pages, err := lib.ListPages(cmd.Context(), bookID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, pages)
			}
			if len(pages) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Book %q has no pages\n", book.Title)
				return nil
			}

			rows := make([][]string, 0, len(pages))
			for _, page := range pages {
				rows = append(rows, []string{
					strconv.FormatInt(page.ID, 10),
					strconv.Itoa(page.PageNumber),
					pageCropCell(page),
					yesNo(page.OCR != nil),
					yesNo(page.Translation != nil),
					pageOriginCell(page),
				})
			}
			table := renderTable(
				[]string{"ID", "Page", "Crop", "OCR", "Translated", "Origin"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s by %s\n%s\n", book.Title, orDash(book.Author), table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func pageCropCell(page *library.Page) string {
	if !page.HasCrop() {
		return "-"
	}
	return fmt.Sprintf("%d-%d", *page.CropXStart, *page.CropXEnd)
}

func pageOriginCell(page *library.Page) string {
	if page.SplitFrom == nil {
		return "scan"
	}
	return fmt.Sprintf("split of %d", *page.SplitFrom)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func formatLocalTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.Local().Format("2006-01-02 15:04")
}
