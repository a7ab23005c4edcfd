package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"folio/internal/sweeper"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var (
		dryRun  bool
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Archive stale batch jobs past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			var report *sweeper.Report
			if dryRun {
				report, err = client.SweepReport(cmd.Context())
			} else {
				report, err = client.Sweep(cmd.Context())
			}
			if err != nil {
				return describeDaemonError(err)
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			if report.Archived == 0 {
				fmt.Fprintln(out, "Nothing to sweep")
				return nil
			}

			verb := "Archived"
			if dryRun {
				verb = "Would archive"
			}
			fmt.Fprintf(out, "%s %d stale jobs covering %d pages (%d orphaned, %d expired)\n",
				verb, report.Archived, report.Pages, report.Orphaned, report.Expired)

			if len(report.Books) > 0 {
				rows := make([][]string, 0, len(report.Books))
				for _, impact := range report.Books {
					rows = append(rows, []string{
						strconv.FormatInt(impact.BookID, 10),
						orDash(impact.Title),
						strconv.Itoa(impact.Jobs),
						strconv.Itoa(impact.Pages),
						strconv.Itoa(impact.Orphaned),
						strconv.Itoa(impact.Expired),
					})
				}
				table := renderTable(
					[]string{"Book", "Title", "Jobs", "Pages", "Orphaned", "Expired"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
				)
				fmt.Fprintln(out, table)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what a sweep would archive without changing anything")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}
