package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/retry"
	"github.com/randalmurphal/incsync/internal/syncer"
	"github.com/randalmurphal/incsync/internal/tracker"
)

func newSyncCmd(e *env) *cobra.Command {
	var (
		concurrency int
		opts        syncer.Options
	)
	cmd := &cobra.Command{
		Use:   "sync <tracker> <id...|all>",
		Short: "Mirror increments to an issue tracker",
		Long: `Creates or updates one issue per increment with its progress and
acceptance criteria. Tracker calls are retried on network, rate-limit and
server errors. A failure on one increment does not stop the others.

Trackers: ` + strings.Join(registeredTrackers(), ", ") + `, or any name under trackers: in the config.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := e.workspace()
			if err != nil {
				return err
			}
			tc, err := e.cfg.Tracker(args[0])
			if err != nil {
				return err
			}
			provider, err := tracker.NewProvider(tc)
			if err != nil {
				return err
			}
			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if !cmd.Flags().Changed("concurrency") {
				concurrency = e.cfg.Sync.Concurrency
			}
			if !cmd.Flags().Changed("comment") {
				opts.Comment = e.cfg.Sync.Comment
			}
			s := syncer.New(ws, provider,
				syncer.WithStore(store),
				syncer.WithRetry(retry.New(e.cfg.Retry, retry.WithLogger(e.logger))),
				syncer.WithConcurrency(concurrency),
				syncer.WithRate(e.cfg.Sync.RatePerSecond, e.cfg.Sync.Burst),
				syncer.WithLabels(e.cfg.Sync.Labels...),
				syncer.WithLogger(e.logger),
			)

			var res *syncer.Result
			if len(args) == 2 && args[1] == "all" {
				res, err = s.SyncAll(cmd.Context(), opts)
			} else {
				res, err = s.Sync(cmd.Context(), args[1:], opts)
			}
			if err != nil {
				return err
			}

			if e.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printSync(newPrinter(cmd.OutOrStdout()), res)
			}
			if !res.OK() {
				return failed("")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", syncer.DefaultConcurrency, "increments synced at once")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "sync even when nothing changed")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "render issues without calling the tracker")
	cmd.Flags().StringVar(&opts.Comment, "comment", "", "also post this comment on every synced issue")
	return cmd
}

func registeredTrackers() []string {
	types := tracker.Registered()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func printSync(p *printer, res *syncer.Result) {
	for _, it := range res.Items {
		switch it.Status {
		case syncer.StatusSucceeded:
			verb := "updated"
			if it.Issue != nil && it.Issue.Created {
				verb = "created"
			}
			url := ""
			if it.Issue != nil {
				url = it.Issue.URL
			}
			p.printf("%s %s: %s %s\n", p.ok("✓"), it.IncrementID, verb, url)
		case syncer.StatusSkipped:
			p.printf("%s %s: %s\n", p.dim("-"), it.IncrementID, p.dim(it.Reason))
		case syncer.StatusFailed:
			p.printf("%s %s: %s\n", p.fail("✗"), it.IncrementID, it.Error)
		}
	}
	p.printf("\n%s: %d succeeded, %d failed, %d skipped %s\n", res.Tracker,
		len(res.Succeeded), len(res.Failed), len(res.Skipped), p.dim("(run "+res.RunID+")"))
	if res.Canceled {
		p.printf("%s\n", p.warn("canceled before all increments were synced"))
	}
}
