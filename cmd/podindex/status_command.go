package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"podindex/internal/daemonrun"
	"podindex/internal/preflight"
	"podindex/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue progress and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				c := cmd.Context()
				lines, err := statusLines(c, rt, remote, colorize)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, strings.Join(lines, "\n"))

				counts, err := rt.Store.Stats(c)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderStageCounts(counts))

				podcasts, err := rt.Store.PodcastStats(c)
				if err != nil {
					return err
				}
				if len(podcasts) > 0 {
					fmt.Fprintln(out, renderPodcastStats(podcasts))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "check", false, "Also verify the LLM and document store APIs over the network")
	return cmd
}

func statusLines(ctx context.Context, rt *daemonrun.Runtime, remote, colorize bool) ([]string, error) {
	cfg := rt.Config
	var lines []string
	lines = append(lines, renderSectionHeader("System", colorize)...)

	health, err := rt.Store.CheckHealth(ctx)
	if err != nil {
		return nil, err
	}
	dbKind, dbDetail := statusOK, fmt.Sprintf("%s (schema v%d, %s)", health.DBPath, health.SchemaVersion, health.IntegrityCheck)
	if !health.Healthy() {
		dbKind, dbDetail = statusError, health.DBPath+": "+health.Error
	}
	lines = append(lines, renderStatusLine("Database", dbKind, dbDetail, colorize))

	for _, r := range preflight.RunAll(ctx, cfg) {
		lines = append(lines, preflightLine(r, colorize))
	}
	if cfg.Workflow.IndexingEnabled {
		lines = append(lines, preflightLine(preflight.CheckResourceCache(cfg), colorize))
	} else {
		lines = append(lines, renderStatusLine("Indexing", statusInfo, "disabled", colorize))
	}
	if remote {
		lines = append(lines, preflightLine(preflight.CheckLLM(ctx, cfg.LLM), colorize))
		if cfg.Workflow.IndexingEnabled {
			lines = append(lines, preflightLine(preflight.CheckDocumentStore(ctx, cfg.DocumentStore), colorize))
		}
	}
	return lines, nil
}

func renderStageCounts(counts map[queue.Stage]queue.StageCounts) string {
	headers := []string{"Stage"}
	aligns := []columnAlignment{alignLeft}
	for _, status := range queue.Statuses {
		headers = append(headers, string(status))
		aligns = append(aligns, alignRight)
	}
	rows := make([][]string, 0, len(queue.Stages))
	for _, st := range queue.Stages {
		row := []string{string(st)}
		for _, status := range queue.Statuses {
			row = append(row, humanize.Comma(int64(counts[st][status])))
		}
		rows = append(rows, row)
	}
	return renderTable(headers, rows, aligns)
}

func renderPodcastStats(stats []queue.PodcastSummary) string {
	rows := make([][]string, 0, len(stats))
	for _, s := range stats {
		checked := "never"
		if s.LastChecked != nil {
			checked = humanize.Time(*s.LastChecked)
		}
		rows = append(rows, []string{
			strconv.FormatInt(s.PodcastID, 10),
			truncate(s.Title, 40),
			strconv.Itoa(s.Episodes),
			strconv.Itoa(s.FullyProcessed),
			strconv.Itoa(s.Failed),
			checked,
		})
	}
	return renderTable(
		[]string{"ID", "Podcast", "Episodes", "Done", "Failed", "Checked"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft})
}
