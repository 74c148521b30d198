package cli

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/wip"
)

func newWIPCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "wip",
		Short: "Check work-in-progress limits",
		Long: `Counts active and paused increments per type against the configured
limits. Exits non-zero when a hard cap is exceeded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := e.workspace()
			if err != nil {
				return err
			}
			res, err := wip.NewChecker(ws, e.cfg.WIP, e.logger).Validate(cmd.Context())
			if err != nil {
				return err
			}

			if e.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printWIP(newPrinter(cmd.OutOrStdout()), res, e.cfg.WIP)
			}
			if res.HasErrors() {
				return failed("")
			}
			return nil
		},
	}
}

func printWIP(p *printer, res *wip.Result, limits wip.Limits) {
	p.println(p.heading("Work in progress"))
	types := make([]string, 0, len(res.Counts.WIP))
	for t := range res.Counts.WIP {
		types = append(types, string(t))
	}
	sort.Strings(types)
	if len(types) == 0 {
		p.printf("  %s\n", p.dim("nothing in progress"))
	}
	for _, t := range types {
		n := res.Counts.WIP[increment.Type(t)]
		lim := limits.For(increment.Type(t))
		switch {
		case lim.Unlimited():
			p.printf("  %-15s %d %s\n", t, n, p.dim("(unlimited)"))
		case lim.HardCap != nil:
			p.printf("  %-15s %d/%d %s\n", t, n, *lim.Recommended, p.dim("(hard cap "+strconv.Itoa(*lim.HardCap)+")"))
		default:
			p.printf("  %-15s %d/%d\n", t, n, *lim.Recommended)
		}
	}

	if res.Compliant {
		p.printf("\n%s within limits\n", p.ok("✓"))
		return
	}
	p.println()
	for _, v := range res.Violations {
		label := p.warn("warning:")
		if v.Severity == wip.SeverityError {
			label = p.fail("error:")
		}
		p.printf("%s %s\n", label, v.Message)
		if v.Suggestion != "" {
			p.printf("    %s\n", p.dim(v.Suggestion))
		}
	}
}
