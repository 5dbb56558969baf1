package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"podindex/internal/daemonrun"
	"podindex/internal/feeds"
)

func newFeedCommand(ctx *commandContext) *cobra.Command {
	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Manage podcast subscriptions",
	}
	feedCmd.AddCommand(newFeedAddCommand(ctx))
	feedCmd.AddCommand(newFeedListCommand(ctx))
	feedCmd.AddCommand(newFeedRemoveCommand(ctx))
	feedCmd.AddCommand(newFeedSyncCommand(ctx))
	return feedCmd
}

func newFeedAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <feed-url>",
		Short: "Subscribe to a feed and queue its episodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				podcast, result, err := rt.Syncer.Subscribe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Subscribed to %q (id %d): %d new episode(s) of %d\n",
					podcast.Title, podcast.ID, result.Added, result.Items)
				return nil
			})
		},
	}
}

func newFeedListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subscriptions with processing progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				summaries, err := rt.Store.PodcastStats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No subscriptions")
					return nil
				}
				fmt.Fprintln(out, renderPodcastStats(summaries))
				return nil
			})
		},
	}
}

func newFeedRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <podcast-id>",
		Short: "Unsubscribe and delete the podcast's episodes from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				removed, err := rt.Store.RemovePodcast(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("podcast %d not found", ids[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed podcast %d\n", ids[0])
				return nil
			})
		},
	}
}

func newFeedSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [podcast-id...]",
		Short: "Refresh feeds and queue new episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				var results []feeds.SyncResult
				if len(ids) == 0 {
					if results, err = rt.Syncer.SyncAll(cmd.Context()); err != nil {
						return err
					}
				}
				for _, id := range ids {
					podcast, err := rt.Store.GetPodcast(cmd.Context(), id)
					if err != nil {
						return err
					}
					if podcast == nil {
						return fmt.Errorf("podcast %d not found", id)
					}
					result, err := rt.Syncer.SyncPodcast(cmd.Context(), podcast)
					if err != nil && result.Err == nil {
						result.Err = err
					}
					results = append(results, result)
				}
				renderSyncResults(cmd.OutOrStdout(), results)
				return nil
			})
		},
	}
}

func renderSyncResults(out io.Writer, results []feeds.SyncResult) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No subscriptions")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = truncate(r.Err.Error(), 50)
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.PodcastID, 10),
			truncate(r.Title, 40),
			strconv.Itoa(r.Items),
			strconv.Itoa(r.Added),
			status,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Podcast", "Items", "Added", "Status"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft}))
}
