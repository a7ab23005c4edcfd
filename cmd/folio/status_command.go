package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"folio/internal/api"
	"folio/internal/config"
	"folio/internal/daemonctl"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			status, err := fetchStatus(cmd.Context(), ctx, cfg)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if status.Running {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusInfo, "Not running", colorize))
			}
			fmt.Fprintln(stdout, inferenceStatusLine(cfg, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Queue database", statusInfo, status.QueueDBPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Library database", statusInfo, status.LibraryDBPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("Images", statusInfo, cfg.Paths.ImagesDir, colorize))
			if status.LastError != "" {
				fmt.Fprintln(stdout, renderStatusLine("Last error", statusError, status.LastError, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Queue", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := queueCountRows(status.Queue)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			fmt.Fprint(stdout, table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

// fetchStatus asks the daemon first and falls back to reading the queue
// database directly when no daemon is listening.
func fetchStatus(runCtx context.Context, ctx *commandContext, cfg *config.Config) (*api.DaemonStatus, error) {
	if client, err := ctx.client(); err == nil {
		status, err := client.Status(runCtx)
		if err == nil {
			return status, nil
		}
		if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
			return nil, err
		}
	}

	store, err := ctx.openQueue()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	health, err := store.Health(runCtx)
	if err != nil {
		return nil, err
	}
	return &api.DaemonStatus{
		QueueDBPath:   cfg.QueueDatabasePath(),
		LibraryDBPath: cfg.LibraryDatabasePath(),
		Queue:         api.FromHealth(health),
	}, nil
}

func inferenceStatusLine(cfg *config.Config, colorize bool) string {
	if cfg.Inference.APIKey == "" {
		return renderStatusLine("Inference", statusWarn, "No API key configured; processing lanes disabled", colorize)
	}
	return renderStatusLine("Inference", statusOK, fmt.Sprintf("Model %s", cfg.Inference.Model), colorize)
}

func queueCountRows(counts api.QueueCounts) [][]string {
	if counts.Total == 0 {
		return nil
	}
	type entry struct {
		label string
		count int
	}
	entries := []entry{
		{"Pending", counts.Pending},
		{"Processing", counts.Processing},
		{"Paused", counts.Paused},
		{"Completed", counts.Completed},
		{"Failed", counts.Failed},
		{"Cancelled", counts.Cancelled},
		{"Saved", counts.Saved},
		{"Expired", counts.Expired},
	}
	rows := make([][]string, 0, len(entries)+1)
	for _, e := range entries {
		if e.count == 0 {
			continue
		}
		rows = append(rows, []string{e.label, strconv.Itoa(e.count)})
	}
	rows = append(rows, []string{"Total", strconv.Itoa(counts.Total)})
	return rows
}
