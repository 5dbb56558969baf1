package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"podindex/internal/daemonrun"
	"podindex/internal/docstore"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and rebuild the document store resource cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheRebuildCommand(ctx))
	cacheCmd.AddCommand(newCacheDuplicatesCommand(ctx))
	cacheCmd.AddCommand(newCacheDedupeCommand(ctx))
	cacheCmd.AddCommand(newCacheRemoveCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show resource cache size and freshness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				out := cmd.OutOrStdout()
				cache := rt.Cache
				lastSync := "never"
				if ts := cache.LastSync(); !ts.IsZero() {
					lastSync = fmt.Sprintf("%s (%s)", ts.Format(time.RFC3339), humanize.Time(ts))
				}
				store := cache.StoreIdentifier()
				if store == "" {
					store = "(unresolved)"
				}
				fmt.Fprintf(out, "Path:      %s\n", cache.Path())
				fmt.Fprintf(out, "Store:     %s\n", store)
				fmt.Fprintf(out, "Entries:   %s\n", humanize.Comma(int64(cache.Len())))
				fmt.Fprintf(out, "Last sync: %s\n", lastSync)
				fmt.Fprintf(out, "Stale:     %s\n", yesNo(cache.IsStale()))
				return nil
			})
		},
	}
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached display names and resource handles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				entries := rt.Cache.Entries()
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Resource cache is empty")
					return nil
				}
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						truncate(e.Key, 50),
						e.ResourceHandle,
						e.Metadata[docstore.MetaPodcast],
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Display name", "Resource", "Podcast"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to show (0 for all)")
	return cmd
}

func newCacheRebuildCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-list the remote document store and replace the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCacheWriter(func(rt *daemonrun.Runtime) error {
				result, err := rt.Reconciler.Reconcile(cmd.Context(), true)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Listed %s document(s), cached %s entries, %d duplicate name(s) in %s\n",
					humanize.Comma(int64(result.Documents)),
					humanize.Comma(int64(result.Entries)),
					result.Duplicates,
					result.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newCacheDuplicatesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicates",
		Short: "List remote documents that share a display name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRemoteRuntime(func(rt *daemonrun.Runtime) error {
				groups, err := rt.Reconciler.FindDuplicates(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(groups) == 0 {
					fmt.Fprintln(out, "No duplicate documents")
					return nil
				}
				var rows [][]string
				for _, g := range groups {
					rows = append(rows, []string{truncate(g.Key, 50), g.Keep.ResourceName, "keep"})
					for _, doc := range g.Redundant {
						rows = append(rows, []string{"", doc.ResourceName, "redundant"})
					}
				}
				fmt.Fprintln(out, renderTable([]string{"Display name", "Resource", "Action"}, rows, nil))
				return nil
			})
		},
	}
}

func newCacheDedupeCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Delete redundant remote documents that share a display name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCacheWriter(func(rt *daemonrun.Runtime) error {
				removed, err := rt.Reconciler.Dedupe(cmd.Context(), dryRun)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if dryRun {
					fmt.Fprintln(out, "Dry run: nothing deleted (see log for candidates)")
					return nil
				}
				fmt.Fprintf(out, "Deleted %d duplicate document(s)\n", removed)
				if removed > 0 {
					if _, err := rt.Reconciler.Reconcile(cmd.Context(), true); err != nil {
						return fmt.Errorf("rebuild cache after dedupe: %w", err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report duplicates without deleting")
	return cmd
}

func newCacheRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <resource-name>",
		Short: "Delete one remote document and drop it from the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCacheWriter(func(rt *daemonrun.Runtime) error {
				if err := rt.Reconciler.RemoveDocument(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}
