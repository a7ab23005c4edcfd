package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/api"
	"folio/internal/daemonctl"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage processing jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCreateCommand(ctx))
	jobsCmd.AddCommand(newJobsActionCommand(ctx, "cancel", "Cancel a job", (*daemonctl.Client).CancelJob))
	jobsCmd.AddCommand(newJobsActionCommand(ctx, "pause", "Pause a streaming job after its current page", (*daemonctl.Client).PauseJob))
	jobsCmd.AddCommand(newJobsActionCommand(ctx, "resume", "Requeue a paused job", (*daemonctl.Client).ResumeJob))
	jobsCmd.AddCommand(newJobsActionCommand(ctx, "retry", "Requeue a failed job", (*daemonctl.Client).RetryJob))
	jobsCmd.AddCommand(newJobsCompleteCommand(ctx))
	jobsCmd.AddCommand(newJobsRefreshCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var bookID int64
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ListJobs(cmd.Context(), statuses, bookID)
			if err != nil {
				return describeDaemonError(err)
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			if len(resp.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}

			rows := make([][]string, 0, len(resp.Jobs))
			for _, job := range resp.Jobs {
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					job.Type,
					job.Status,
					strconv.FormatInt(job.BookID, 10),
					progressCell(job.Progress),
					job.UpdatedAt,
				})
			}
			table := renderTable(
				[]string{"ID", "Type", "Status", "Book", "Progress", "Updated"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	cmd.Flags().Int64VarP(&bookID, "book", "b", 0, "Filter by book id")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.GetJob(cmd.Context(), id)
			if err != nil {
				return describeDaemonError(err)
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			printJobDetail(cmd, resp.Job)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func printJobDetail(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %d (%s)\n", job.ID, job.Type)
	fmt.Fprintf(out, "  Status:    %s\n", job.Status)
	fmt.Fprintf(out, "  Book:      %d\n", job.BookID)
	fmt.Fprintf(out, "  Progress:  %s\n", progressCell(job.Progress))
	if job.Progress.CurrentItem != "" {
		fmt.Fprintf(out, "  Current:   %s\n", job.Progress.CurrentItem)
	}
	if job.Model != "" {
		fmt.Fprintf(out, "  Model:     %s\n", job.Model)
	}
	if job.Language != "" || job.TargetLanguage != "" {
		fmt.Fprintf(out, "  Language:  %s -> %s\n", orDash(job.Language), orDash(job.TargetLanguage))
	}
	if job.Batch != nil {
		fmt.Fprintf(out, "  Batch ref: %s\n", orDash(job.Batch.ExternalRef))
		if job.Batch.ExternalState != "" {
			fmt.Fprintf(out, "  Provider:  %s\n", job.Batch.ExternalState)
		}
		fmt.Fprintf(out, "  Results:   %d ok, %d failed, saved: %s\n",
			job.Batch.CompletedPages, job.Batch.FailedPages, yesNo(job.Batch.Saved))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:     %s\n", job.ErrorMessage)
	}
	fmt.Fprintf(out, "  Created:   %s\n", job.CreatedAt)
	fmt.Fprintf(out, "  Updated:   %s\n", job.UpdatedAt)

	if len(job.Results) > 0 {
		fmt.Fprintf(out, "  Pages:\n")
		for _, result := range job.Results {
			outcome := "ok"
			if !result.Success {
				outcome = "failed"
			}
			line := fmt.Sprintf("    page %d: %s", result.PageID, outcome)
			if result.Stage != "" {
				line += " [" + result.Stage + "]"
			}
			if result.Error != "" {
				line += " (" + result.Error + ")"
			}
			fmt.Fprintln(out, line)
		}
	}
}

func newJobsCreateCommand(ctx *commandContext) *cobra.Command {
	var pagesFlag string
	var model string
	var language string
	var targetLanguage string
	var parallelism int
	var overwrite bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "create <type> <book-id>",
		Short: "Create a job (type: ocr, translate, or pipeline)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid book id %q", args[1])
			}
			pageIDs, err := parsePageIDs(pagesFlag)
			if err != nil {
				return err
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.CreateJob(cmd.Context(), api.CreateJobRequest{
				Type:           args[0],
				BookID:         bookID,
				PageIDs:        pageIDs,
				Model:          model,
				Language:       language,
				TargetLanguage: targetLanguage,
				Parallelism:    parallelism,
				Overwrite:      overwrite,
			})
			if err != nil {
				return describeDaemonError(err)
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created job %d (%d pages, %s)\n", resp.JobID, resp.PagesQueued, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&pagesFlag, "pages", "", "Comma-separated page ids (defaults to the whole book)")
	cmd.Flags().StringVar(&model, "model", "", "Model override for this job")
	cmd.Flags().StringVar(&language, "language", "", "Source language (defaults to the book's)")
	cmd.Flags().StringVar(&targetLanguage, "target-language", "", "Translation target language")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "Concurrent pages for streaming jobs (1-5)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Reprocess pages that already have results")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func newJobsActionCommand(ctx *commandContext, verb, short string, action func(*daemonctl.Client, context.Context, int64) (*api.JobActionResponse, error)) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   verb + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := action(client, cmd.Context(), id)
			if err != nil {
				return describeDaemonError(err)
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			if resp.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d is now %s\n", resp.Job.ID, resp.Job.Status)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d unchanged (%s)\n", resp.Job.ID, resp.Job.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func newJobsCompleteCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "complete <job-id>",
		Short: "Save a completed batch job's results to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			report, err := client.CompleteJob(cmd.Context(), id)
			if err != nil {
				return describeDaemonError(err)
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}
			out := cmd.OutOrStdout()
			if report.AlreadySaved {
				fmt.Fprintf(out, "Job %d was already saved\n", report.JobID)
				return nil
			}
			fmt.Fprintf(out, "Saved %d pages from job %d", report.Saved, report.JobID)
			if report.Failed > 0 {
				fmt.Fprintf(out, " (%d pages failed)", report.Failed)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func newJobsRefreshCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "refresh <job-id>",
		Short: "Poll the provider now for a batch job's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.RefreshJob(cmd.Context(), id)
			if err != nil {
				return describeDaemonError(err)
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			job := resp.Job
			state := ""
			if job.Batch != nil && job.Batch.ExternalState != "" {
				state = fmt.Sprintf(" (provider: %s)", job.Batch.ExternalState)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d is %s%s\n", job.ID, job.Status, state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func parseJobID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", value)
	}
	return id, nil
}

func parsePageIDs(value string) ([]int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid page id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func progressCell(progress api.JobProgress) string {
	cell := fmt.Sprintf("%d/%d", progress.Completed, progress.Total)
	if progress.Failed > 0 {
		cell += fmt.Sprintf(" (%d failed)", progress.Failed)
	}
	return cell
}
