package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/config"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/util"
)

const starterConfig = `# incsync configuration
cache:
  backend: file   # file, sqlite or postgres
  ttl: 24h
retry:
  max_retries: 3
  initial_delay: 1s
  max_delay: 30s
  multiplier: 2
sync:
  concurrency: 4
  labels: [incsync]
# trackers:
#   github:
#     repo: owner/name
`

func newInitCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .incsync directory in the project root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrinter(cmd.OutOrStdout())
			for _, dir := range []string{
				e.ws.IncrementsPath(),
				filepath.Join(e.ws.IncrementsPath(), increment.ArchiveDir),
				filepath.Join(e.ws.IncrementsPath(), increment.AbandonedDir),
			} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}

			cfgPath := filepath.Join(e.ws.StatePath(), config.ConfigFileName)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := util.AtomicWriteFile(cfgPath, []byte(strings.TrimLeft(starterConfig, "\n")), 0644); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			}
			p.printf("%s initialized %s\n", p.ok("✓"), e.ws.StatePath())
			return nil
		},
	}
}

func newNewCmd(e *env) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Create an increment in planning status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := e.workspace()
			if err != nil {
				return err
			}
			inc, err := ws.Create(strings.Join(args, " "), increment.Type(typ))
			if err != nil {
				return err
			}
			if e.jsonOut {
				return writeJSON(cmd.OutOrStdout(), inc.Meta)
			}
			p := newPrinter(cmd.OutOrStdout())
			p.printf("%s created %s (%s, %s)\n", p.ok("✓"), inc.ID, inc.Meta.Type, inc.Meta.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(increment.TypeFeature), "increment type")
	return cmd
}
