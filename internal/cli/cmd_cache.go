package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the status cache",
	}
	cmd.AddCommand(newCacheStatsCmd(e), newCacheClearCmd(e))
	return cmd
}

func newCacheStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts and age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			out := newPrinter(cmd.OutOrStdout())
			out.printf("Backend:  %s\n", stats.Backend)
			out.printf("Entries:  %d\n", stats.Count)
			out.printf("Size:     %d bytes\n", stats.TotalSize)
			out.printf("Oldest:   %s\n", stats.OldestAge.Round(time.Second))
			out.printf("TTL:      %s\n", store.TTL())
			return nil
		},
	}
}

func newCacheClearCmd(e *env) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			var n int
			if olderThan > 0 {
				n, err = store.DeleteOlderThan(cmd.Context(), olderThan)
			} else {
				n, err = store.Clear(cmd.Context())
			}
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"deleted": n})
			}
			out := newPrinter(cmd.OutOrStdout())
			out.printf("%s deleted %d entr(ies)\n", out.ok("✓"), n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only delete entries older than this")
	return cmd
}
