// Package cli implements the incsync command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/cache"
	"github.com/randalmurphal/incsync/internal/config"
	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/metrics"

	// Tracker adapters register themselves.
	_ "github.com/randalmurphal/incsync/internal/tracker/github"
	_ "github.com/randalmurphal/incsync/internal/tracker/gitlab"
	_ "github.com/randalmurphal/incsync/internal/tracker/jira"
)

// env is the state shared by one command tree.
type env struct {
	cfgFile string
	root    string
	verbose bool
	quiet   bool
	jsonOut bool

	in     io.Reader
	cfg    *config.Config
	ws     *increment.Workspace
	logger *slog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	e := &env{in: os.Stdin}

	rootCmd := &cobra.Command{
		Use:   "incsync",
		Short: "Keep increment specs, task lists and trackers in sync",
		Long: `incsync propagates task completion to acceptance criteria, detects and
repairs drift between tasks.md, its frontmatter counters and the status
cache, enforces WIP limits and mirrors increments to issue trackers.

Quick start:
  incsync init                 Create .incsync in the current project
  incsync new "User login"     Create an increment
  incsync propagate all        Update AC checkboxes from tasks
  incsync validate --all       Report desynchronized counters`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return e.setup(cmd) },
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return e.flushMetrics()
		},
	}

	rootCmd.PersistentFlags().StringVar(&e.cfgFile, "config", "", "config file (default is .incsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&e.root, "root", ".", "project root containing .incsync")
	rootCmd.PersistentFlags().BoolVarP(&e.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&e.quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&e.jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newInitCmd(e))
	rootCmd.AddCommand(newNewCmd(e))
	rootCmd.AddCommand(newPropagateCmd(e))
	rootCmd.AddCommand(newValidateCmd(e))
	rootCmd.AddCommand(newRepairCmd(e))
	rootCmd.AddCommand(newStatusCmd(e))
	rootCmd.AddCommand(newWIPCmd(e))
	rootCmd.AddCommand(newDuplicatesCmd(e))
	rootCmd.AddCommand(newSyncCmd(e))
	rootCmd.AddCommand(newCacheCmd(e))
	rootCmd.AddCommand(newWatchCmd(e))
	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		verbose, _ := cmd.PersistentFlags().GetBool("verbose")
		PrintError(cmd.ErrOrStderr(), err, verbose)
		return ExitCode(err)
	}
	return 0
}

func (e *env) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	switch {
	case e.verbose:
		level = slog.LevelDebug
	case e.quiet:
		level = slog.LevelWarn
	}
	e.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(e.logger)

	cfg, err := config.Load(config.LoadOptions{File: e.cfgFile, Root: e.root})
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("root") {
		cfg.Root = e.root
	}
	if cfg.Source != "" {
		e.logger.Debug("using config file", "path", cfg.Source)
	}
	e.cfg = cfg
	e.ws = increment.NewWorkspace(cfg.Root, increment.WithLogger(e.logger))
	return nil
}

// workspace returns the workspace once it is known to exist.
func (e *env) workspace() (*increment.Workspace, error) {
	if err := e.ws.CheckInitialized(); err != nil {
		return nil, err
	}
	return e.ws, nil
}

// openStore opens the configured cache backend. Callers close the store.
func (e *env) openStore(ctx context.Context) (*cache.Store, error) {
	var (
		backend cache.Backend
		err     error
	)
	switch e.cfg.Cache.Backend {
	case config.BackendSQLite:
		backend, err = cache.OpenSQLite(ctx, e.cfg.Resolve(e.cfg.Cache.Path))
	case config.BackendPostgres:
		backend, err = cache.OpenPostgres(ctx, e.cfg.Cache.DSN)
	default:
		backend = cache.NewFileBackend(e.cfg.Resolve(e.cfg.Cache.Dir))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", e.cfg.Cache.Backend, err)
	}
	return cache.New(backend, cache.WithTTL(e.cfg.Cache.TTL), cache.WithLogger(e.logger)), nil
}

func (e *env) flushMetrics() error {
	if e.cfg == nil || e.cfg.Metrics.Textfile == "" {
		return nil
	}
	return metrics.WriteTextfile(e.cfg.Resolve(e.cfg.Metrics.Textfile))
}

// exitError ends a command with a non-zero status after its output has
// already explained why.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func failed(format string, args ...any) error {
	return &exitError{code: 1, msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if e := syncerrors.AsError(err); e != nil {
		return e.Category().ExitCode()
	}
	return 1
}

// PrintError prints err to w. Coded errors use their user-facing form.
func PrintError(w io.Writer, err error, verbose bool) {
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(w, ee.msg)
		}
		return
	}
	if e := syncerrors.AsError(err); e != nil {
		fmt.Fprintln(w, e.UserMessage())
		if verbose {
			fmt.Fprintf(w, "\nCode: %s\n", e.Code)
			if e.Cause != nil {
				fmt.Fprintf(w, "Cause: %v\n", e.Cause)
			}
		}
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
