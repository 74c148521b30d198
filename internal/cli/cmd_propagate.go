package cli

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/propagate"
)

func newPropagateCmd(e *env) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "propagate <id|all>",
		Short: "Update AC checkboxes in spec.md from task completion",
		Long: `Derives every acceptance criterion's completion from the tasks that
reference it and rewrites only the checkbox lines that disagree. Running it
twice changes nothing the second time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := e.workspace()
			if err != nil {
				return err
			}
			p := propagate.New(ws, e.logger)
			opts := propagate.Options{DryRun: dryRun}

			var results []*propagate.Result
			if args[0] == "all" {
				results, err = p.RunAll(cmd.Context(), opts)
			} else {
				var res *propagate.Result
				res, err = p.Run(cmd.Context(), args[0], opts)
				if res != nil {
					results = append(results, res)
				}
			}
			if err != nil {
				return err
			}

			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			out := newPrinter(cmd.OutOrStdout())
			for _, res := range results {
				printPropagation(out, res, dryRun)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show changes without writing spec.md")
	return cmd
}

func printPropagation(p *printer, res *propagate.Result, dryRun bool) {
	if res.ACsChanged == 0 {
		p.printf("%s %s: ACs already match tasks\n", p.ok("✓"), res.IncrementID)
	} else {
		verb := "updated"
		if dryRun {
			verb = "would update"
		}
		p.printf("%s %s: %s %d AC(s)\n", p.ok("✓"), res.IncrementID, verb, res.ACsChanged)
		for _, c := range res.Changes {
			p.printf("    %s\n", c.String())
		}
	}
	if res.UserStoriesNowComplete > 0 {
		p.printf("    %d user stor(ies) complete\n", res.UserStoriesNowComplete)
	}
	if res.IncrementNowComplete {
		p.printf("    %s\n", p.ok("all acceptance criteria complete"))
	}
	for _, w := range res.Warnings {
		p.printf("    %s %s\n", p.warn("warning:"), w)
	}
}
