package cli

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/desync"
)

func newRepairCmd(e *env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair <id|all>",
		Short: "Rewrite counters and the status cache from tasks.md",
		Long: `Recounts the task sections of tasks.md and overwrites the frontmatter
counters and the status cache entry. Task sections are never changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := e.workspace()
			if err != nil {
				return err
			}
			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			r := desync.NewRepairer(ws, store, e.logger)
			opts := desync.RepairOptions{DryRun: dryRun}

			var (
				results  []*desync.RepairResult
				failures []desync.Failure
			)
			if args[0] == "all" {
				results, failures, err = r.RepairAll(cmd.Context(), opts)
			} else {
				var res *desync.RepairResult
				res, err = r.Repair(cmd.Context(), args[0], opts)
				if res != nil {
					results = append(results, res)
				}
			}
			if err != nil {
				return err
			}

			if e.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), struct {
					Results  []*desync.RepairResult `json:"results"`
					Failures []desync.Failure       `json:"failures,omitempty"`
				}{results, failures}); err != nil {
					return err
				}
			} else {
				out := newPrinter(cmd.OutOrStdout())
				for _, res := range results {
					state := "in sync"
					switch {
					case dryRun:
						state = "dry run"
					case res.Changed():
						state = "repaired"
					}
					out.printf("%s %s: %d/%d tasks (%d%%) %s\n", out.ok("✓"), res.IncrementID,
						res.Counts.Completed, res.Counts.Total, res.Percentage, out.dim(state))
				}
				for _, f := range failures {
					out.printf("%s %s: %s\n", out.fail("✗"), f.IncrementID, f.Error)
				}
			}
			if len(failures) > 0 {
				return failed("")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "derive counts without writing")
	return cmd
}
