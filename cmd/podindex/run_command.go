package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"podindex/internal/daemonrun"
	"podindex/internal/queue"
	"podindex/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var once bool
	var skipFeeds bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline daemon, or drain the queue once with --once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !once {
				return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: ctx.logLevel()})
			}

			logger, err := daemonrun.NewLogger(cfg, daemonrun.Options{LogLevel: ctx.logLevel()})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			rt, err := daemonrun.Build(cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()
			d, err := rt.Daemon()
			if err != nil {
				return err
			}
			summary, err := d.RunOnce(cmd.Context(), !skipFeeds)
			printSummary(cmd.OutOrStdout(), summary)
			return err
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Process all eligible work once and exit")
	cmd.Flags().BoolVar(&skipFeeds, "skip-feeds", false, "With --once, do not refresh feeds first")
	return cmd
}

func printSummary(out io.Writer, summary workflow.Summary) {
	rows := make([][]string, 0, len(queue.Stages))
	for _, st := range queue.Stages {
		totals, ok := summary.Stages[st]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			string(st),
			strconv.Itoa(totals.Claimed),
			strconv.Itoa(totals.Completed),
			strconv.Itoa(totals.Retried),
			strconv.Itoa(totals.PermanentlyFailed),
			strconv.Itoa(totals.LeaseLost),
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(
			[]string{"Stage", "Claimed", "Completed", "Retried", "Failed", "Lease lost"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}))
	}
	if summary.Reconcile != nil && !summary.Reconcile.Skipped {
		fmt.Fprintf(out, "Resource cache rebuilt: %s entries from %s documents\n",
			humanize.Comma(int64(summary.Reconcile.Entries)), humanize.Comma(int64(summary.Reconcile.Documents)))
	}
	fmt.Fprintf(out, "Reclaimed leases: %d  Audio files removed: %d  Duration: %s\n",
		summary.Reclaimed, summary.CleanedUp, summary.Duration.Round(time.Millisecond))
}
