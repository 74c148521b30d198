package cli

import (
	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/duplicate"
)

func newDuplicatesCmd(e *env) *cobra.Command {
	var (
		resolve bool
		opts    duplicate.Options
	)
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Find increments whose number is used more than once",
		Long: `Scans the active, archive and abandoned areas for copies that share an
increment number and ranks them: a copy linked to a tracker issue wins, then
one with reports, then the most recently active, the most complete, and the
one in the most active location.

With --resolve, losing copies are deleted after confirmation (or with
--force). --merge first copies their reports and tracker links into the
winner.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := e.workspace(); err != nil {
				return err
			}
			report, err := duplicate.Detect(e.cfg.Root)
			if err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())

			if !resolve {
				if e.jsonOut {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				printDuplicates(out, report)
				if len(report.Duplicates) > 0 {
					return failed("")
				}
				return nil
			}

			r := duplicate.NewResolver(
				duplicate.WithConfirmer(newPromptConfirmer(e.in, cmd.OutOrStdout())),
				duplicate.WithLogger(e.logger),
			)
			if !e.jsonOut {
				printDuplicates(out, report)
			}
			resolutions, errs := r.ResolveAll(cmd.Context(), report.Duplicates, opts)
			if e.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), resolutions); err != nil {
					return err
				}
			} else {
				for _, res := range resolutions {
					printResolution(out, res)
				}
			}
			if len(errs) > 0 {
				return errs[0]
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "keep the winner and remove the other copies")
	cmd.Flags().BoolVar(&opts.Merge, "merge", false, "merge loser reports and tracker links into the winner")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "delete without asking")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "show what would happen")
	return cmd
}

func printDuplicates(p *printer, report *duplicate.Report) {
	if len(report.Duplicates) == 0 {
		p.printf("%s no duplicates among %d increment(s)\n", p.ok("✓"), report.TotalChecked)
		return
	}
	for _, d := range report.Duplicates {
		p.printf("%s increment %s has %d copies\n", p.warn("!"), d.Number, len(d.Candidates))
		p.printf("    %s %s (%s)\n", p.ok("keep"), d.Winner.Name, d.Winner.Location)
		p.printf("         %s\n", p.dim(d.Reason))
		for _, l := range d.Losers {
			p.printf("    %s %s (%s)\n", p.fail("lose"), l.Name, l.Location)
		}
	}
}

func printResolution(p *printer, res *duplicate.Resolution) {
	prefix := p.ok("✓")
	if res.DryRun {
		prefix = p.dim("dry run:")
	}
	p.printf("%s %s resolved, kept %s\n", prefix, res.Number, res.Winner)
	for _, m := range res.Merged {
		p.printf("    merged %s\n", m)
	}
	for _, t := range res.LinksMerged {
		p.printf("    merged %s link\n", t)
	}
	for _, d := range res.Deleted {
		p.printf("    deleted %s\n", d)
	}
	for _, k := range res.Kept {
		p.printf("    kept %s\n", k)
	}
	if !res.DryRun {
		p.printf("    report %s\n", p.dim(res.ReportPath))
	}
}
