package cli

import (
	"context"
	"errors"
	"sync"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/incsync/internal/cache"
	"github.com/randalmurphal/incsync/internal/desync"
	"github.com/randalmurphal/incsync/internal/lock"
	"github.com/randalmurphal/incsync/internal/propagate"
	"github.com/randalmurphal/incsync/internal/watcher"
)

func newWatchCmd(e *env) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Propagate and validate whenever tasks.md or spec.md changes",
		Long: `Watches the increments directory. After an edit to tasks.md or spec.md
settles, ACs are propagated and the increment is validated. With --repair
(or watch.repair in the config) counters are rewritten too. Runs until
interrupted. Only one watcher runs per project.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := e.workspace()
			if err != nil {
				return err
			}
			guard := lock.New(ws.StatePath(), "watch")
			if err := guard.Acquire(); err != nil {
				return err
			}
			defer func() {
				if err := guard.Release(); err != nil {
					e.logger.Warn("failed to release watch guard", "error", err)
				}
			}()

			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if !cmd.Flags().Changed("repair") {
				repair = e.cfg.Watch.Repair
			}

			h := &watchHandler{
				propagator: propagate.New(ws, e.logger),
				validator:  desync.NewValidator(ws, store, e.logger),
				repairer:   desync.NewRepairer(ws, store, e.logger),
				store:      store,
				repair:     repair,
				out:        newPrinter(cmd.OutOrStdout()),
				env:        e,
			}
			w, err := watcher.New(watcher.Config{
				Root:     e.cfg.Root,
				Handler:  h.handle,
				Logger:   e.logger,
				Debounce: e.cfg.Watch.Debounce,
			})
			if err != nil {
				return err
			}

			h.out.printf("watching %s %s\n", ws.IncrementsPath(), h.out.dim("(Ctrl+C to stop)"))
			err = w.Start(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "also rewrite counters after each change")
	return cmd
}

// watchHandler reacts to settled file changes one at a time.
type watchHandler struct {
	mu         sync.Mutex
	propagator *propagate.Propagator
	validator  *desync.Validator
	repairer   *desync.Repairer
	store      *cache.Store
	repair     bool
	out        *printer
	env        *env
}

func (h *watchHandler) handle(ctx context.Context, ev watcher.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	logger := h.env.logger.With("increment", ev.IncrementID)

	if ev.Removed {
		if err := h.store.Delete(ctx, cache.Key(ev.IncrementID, desync.CacheTarget)); err != nil {
			logger.Warn("failed to drop cache entry for removed increment", "error", err)
		}
		h.out.printf("%s %s removed\n", h.out.dim("-"), ev.IncrementID)
		return
	}

	if ev.Kind == watcher.FileTasks || ev.Kind == watcher.FileSpec {
		res, err := h.propagator.Run(ctx, ev.IncrementID, propagate.Options{})
		if err != nil {
			logger.Error("propagation failed", "error", err)
			return
		}
		if res.ACsChanged > 0 || len(res.Warnings) > 0 {
			printPropagation(h.out, res, false)
		}
		if h.repair {
			if _, err := h.repairer.Repair(ctx, ev.IncrementID, desync.RepairOptions{}); err != nil {
				logger.Error("repair failed", "error", err)
			}
		}
	}

	res, err := h.validator.Validate(ctx, ev.IncrementID)
	if err != nil {
		logger.Error("validation failed", "error", err)
		return
	}
	printValidation(h.out, res)
}
