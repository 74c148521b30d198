package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/document"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/wip"
)

func newStatusCmd(e *env) *cobra.Command {
	var (
		reason string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "status <id> [target]",
		Short: "Show or change an increment's lifecycle status",
		Long: `Without a target, shows the increment's status, progress and legal next
states. With a target, performs the transition. Starting work (moving to
active) is refused when it would break a WIP hard cap, unless --force.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := e.workspace()
			if err != nil {
				return err
			}
			out := newPrinter(cmd.OutOrStdout())

			if len(args) == 1 {
				inc, err := ws.Get(args[0])
				if err != nil {
					return err
				}
				return showStatus(e, out, inc)
			}

			to := increment.Status(strings.ToLower(args[1]))
			if to == increment.StatusActive {
				res, err := wip.NewChecker(ws, e.cfg.WIP, e.logger).CheckStart(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, v := range res.Violations {
					label := out.warn("warning:")
					if v.Severity == wip.SeverityError {
						label = out.fail("error:")
					}
					out.printf("%s %s\n", label, v.Message)
				}
				if res.HasErrors() && !force {
					return failed("refusing to start %s: WIP hard cap exceeded (use --force to override)", args[0])
				}
			}

			meta, err := ws.Transition(args[0], to, reason)
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), meta)
			}
			out.printf("%s %s is now %s\n", out.ok("✓"), args[0], meta.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded when pausing or abandoning")
	cmd.Flags().BoolVar(&force, "force", false, "start even when a WIP hard cap is exceeded")
	return cmd
}

func showStatus(e *env, out *printer, inc *increment.Increment) error {
	var counts document.Counts
	if data, err := os.ReadFile(inc.TasksPath()); err == nil {
		counts = document.ParseTasksDocument(string(data)).Counts()
	}
	targets := increment.ValidTargets(inc.Meta.Status)

	if e.jsonOut {
		return writeJSON(out.w, struct {
			*increment.Metadata
			Tasks   document.Counts    `json:"tasks"`
			Targets []increment.Status `json:"valid_targets"`
		}{inc.Meta, counts, targets})
	}

	out.println(out.heading(inc.ID))
	out.printf("  Status:   %s\n", inc.Meta.Status)
	if inc.Meta.StatusReason != "" {
		out.printf("  Reason:   %s\n", inc.Meta.StatusReason)
	}
	out.printf("  Type:     %s\n", inc.Meta.Type)
	out.printf("  Tasks:    %d/%d (%d%%)\n", counts.Completed, counts.Total, counts.Percentage())
	for tracker, link := range inc.Meta.External {
		out.printf("  %-9s %s\n", tracker+":", link.URL)
	}
	if len(targets) == 0 {
		out.printf("  %s\n", out.dim("terminal status"))
		return nil
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = string(t)
	}
	out.printf("  Next:     %s\n", out.dim(strings.Join(names, ", ")))
	return nil
}
