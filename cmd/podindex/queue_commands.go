package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"podindex/internal/daemonrun"
	"podindex/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair episode processing state",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueReapCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stageFlag, statusFlag string
	var podcastID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List episodes, optionally filtered by stage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.EpisodeFilter{PodcastID: podcastID, Limit: limit}
			if stageFlag != "" {
				st, err := queue.ParseStage(stageFlag)
				if err != nil {
					return err
				}
				filter.Stage = st
			}
			if statusFlag != "" {
				status, err := queue.ParseStatus(statusFlag)
				if err != nil {
					return err
				}
				filter.Status = status
			}
			if filter.Status != "" && filter.Stage == "" {
				return fmt.Errorf("--status requires --stage")
			}
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				episodes, err := rt.Store.ListEpisodes(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(episodes) == 0 {
					fmt.Fprintln(out, "No episodes found")
					return nil
				}
				fmt.Fprintln(out, renderEpisodes(episodes))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageFlag, "stage", "", "Filter by stage (download, transcript, metadata, indexing)")
	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status of --stage")
	cmd.Flags().Int64Var(&podcastID, "podcast", 0, "Filter by podcast id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum episodes to show (0 for all)")
	return cmd
}

func renderEpisodes(episodes []*queue.Episode) string {
	rows := make([][]string, 0, len(episodes))
	for _, ep := range episodes {
		published := ""
		if ep.PublishedDate != nil {
			published = ep.PublishedDate.Format(time.DateOnly)
		}
		row := []string{
			strconv.FormatInt(ep.ID, 10),
			truncate(ep.PodcastTitle, 24),
			truncate(ep.Title, 48),
			published,
		}
		for _, st := range queue.Stages {
			row = append(row, stageCell(ep.State(st)))
		}
		rows = append(rows, row)
	}
	return renderTable(
		[]string{"ID", "Podcast", "Title", "Published", "Download", "Transcript", "Metadata", "Indexing"},
		rows,
		[]columnAlignment{alignRight})
}

func stageCell(state queue.StageState) string {
	if state.RetryCount > 0 {
		return fmt.Sprintf("%s (%d)", state.Status, state.RetryCount)
	}
	return string(state.Status)
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <episode-id>",
		Short: "Show one episode's stage state and results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				ep, err := rt.Store.GetEpisode(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if ep == nil {
					return fmt.Errorf("episode %d not found", ids[0])
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s / %s\n", ep.PodcastTitle, ep.Title)
				fmt.Fprintf(out, "GUID: %s\nEnclosure: %s\n", ep.GUID, ep.EnclosureURL)
				if ep.LocalFilePath != "" {
					fmt.Fprintf(out, "Audio: %s (%s)", ep.LocalFilePath, humanize.Bytes(uint64(max(ep.FileSize, 0))))
					if ep.AudioRemovedAt != nil {
						fmt.Fprintf(out, " removed %s", humanize.Time(*ep.AudioRemovedAt))
					}
					fmt.Fprintln(out)
				}
				if ep.TranscriptPath != "" {
					fmt.Fprintf(out, "Transcript: %s\n", ep.TranscriptPath)
				}
				if ep.Summary != "" {
					fmt.Fprintf(out, "Summary: %s\nKeywords: %s\n", ep.Summary, strings.Join(ep.Keywords, ", "))
				}
				if ep.ResourceName != "" {
					fmt.Fprintf(out, "Document: %s (%s)\n", ep.ResourceName, ep.DisplayName)
				}
				rows := make([][]string, 0, len(queue.Stages))
				for _, st := range queue.Stages {
					state := ep.State(st)
					rows = append(rows, []string{string(st), string(state.Status), strconv.Itoa(state.RetryCount), truncate(state.Error, 60)})
				}
				fmt.Fprintln(out, renderTable([]string{"Stage", "Status", "Retries", "Error"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "retry <episode-id>...",
		Short: "Reset failed stages to pending with a fresh retry budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			var only queue.Stage
			if stageFlag != "" {
				if only, err = queue.ParseStage(stageFlag); err != nil {
					return err
				}
			}
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				out := cmd.OutOrStdout()
				episodes, err := rt.Store.EpisodesByID(cmd.Context(), ids)
				if err != nil {
					return err
				}
				byID := make(map[int64]*queue.Episode, len(episodes))
				for _, ep := range episodes {
					byID[ep.ID] = ep
				}
				reset := 0
				for _, id := range ids {
					ep, ok := byID[id]
					if !ok {
						fmt.Fprintf(out, "Episode %d not found\n", id)
						continue
					}
					for _, st := range queue.Stages {
						if only != "" && st != only {
							continue
						}
						status := ep.State(st).Status
						if status != queue.StatusFailed && status != queue.StatusPermanentlyFailed {
							continue
						}
						if err := rt.Store.ResetStage(cmd.Context(), id, st); err != nil {
							return err
						}
						fmt.Fprintf(out, "Episode %d: %s reset to pending\n", id, st)
						reset++
					}
				}
				fmt.Fprintf(out, "%d stage(s) reset\n", reset)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stageFlag, "stage", "", "Only reset this stage")
	return cmd
}

func newQueueReapCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Return expired in-progress leases to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				n, err := rt.Store.ReclaimExpiredLeases(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed %d expired lease(s)\n", n)
				return nil
			})
		},
	}
}
