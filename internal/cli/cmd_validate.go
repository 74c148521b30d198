package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/desync"
	"github.com/randalmurphal/incsync/internal/propagate"
	"github.com/randalmurphal/incsync/internal/util"
)

func newValidateCmd(e *env) *cobra.Command {
	var (
		all    bool
		report string
	)
	cmd := &cobra.Command{
		Use:   "validate [id]",
		Short: "Detect counters and caches that disagree with tasks.md",
		Long: `Compares the tasks.md frontmatter counters and the status cache against
the task sections, and checks that spec.md and metadata.yaml agree on status.
Nothing is written. Exits non-zero when any desync is found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass an increment id or --all")
			}
			ws, err := e.workspace()
			if err != nil {
				return err
			}
			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			v := desync.NewValidator(ws, store, e.logger)
			out := newPrinter(cmd.OutOrStdout())

			if !all {
				res, err := v.Validate(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				mapping, err := propagate.New(ws, e.logger).ValidateMapping(args[0])
				if err != nil {
					return err
				}
				if e.jsonOut {
					if err := writeJSON(cmd.OutOrStdout(), struct {
						*desync.Result
						Mapping *propagate.MappingReport `json:"mapping"`
					}{res, mapping}); err != nil {
						return err
					}
				} else {
					printValidation(out, res)
					printMapping(out, mapping)
				}
				if !res.IsValid {
					return failed("")
				}
				return nil
			}

			rep, err := v.ValidateAll(cmd.Context())
			if err != nil {
				return err
			}
			if report != "" {
				md := desync.FormatReport(rep, ws.Now())
				if err := util.AtomicWriteFile(report, []byte(md), 0644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			if e.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			} else {
				for _, res := range rep.Results {
					printValidation(out, res)
				}
				for _, f := range rep.Failures {
					out.printf("%s %s: %s\n", out.fail("✗"), f.IncrementID, f.Error)
				}
				out.printf("\n%d checked, %d invalid, %d failed\n", len(rep.Results), len(rep.Invalid()), len(rep.Failures))
			}
			if !rep.OK() {
				return failed("")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "validate every in-progress increment")
	cmd.Flags().StringVar(&report, "report", "", "also write a Markdown report to this path (with --all)")
	return cmd
}

func printValidation(p *printer, res *desync.Result) {
	a := res.Actual
	if res.IsValid {
		p.printf("%s %s: %d/%d tasks (%d%%)\n", p.ok("✓"), res.IncrementID, a.CompletedTasks, a.TotalTasks, a.Percentage)
		return
	}
	p.printf("%s %s: %d/%d tasks (%d%%), %d issue(s)\n",
		p.fail("✗"), res.IncrementID, a.CompletedTasks, a.TotalTasks, a.Percentage, len(res.Issues))
	for _, is := range res.Issues {
		p.printf("    %s %s\n", p.warn(string(is.Kind)+":"), is.Message)
	}
	p.printf("    %s\n", p.dim("run `incsync repair "+res.IncrementID+"` to fix"))
}

func printMapping(p *printer, m *propagate.MappingReport) {
	for _, id := range m.OrphanedACs {
		p.printf("    %s %s is referenced by no task\n", p.warn("orphaned AC:"), id)
	}
	for _, id := range m.InvalidReferences {
		p.printf("    %s %s is not defined in spec.md\n", p.warn("invalid reference:"), id)
	}
}
