package desync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/randalmurphal/incsync/internal/cache"
	"github.com/randalmurphal/incsync/internal/document"
	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/metrics"
	"github.com/randalmurphal/incsync/internal/util"
)

// RepairOptions control a repair.
type RepairOptions struct {
	// DryRun derives the counts without writing anything
	DryRun bool
}

// RepairResult describes what a repair wrote.
type RepairResult struct {
	IncrementID        string          `json:"increment_id"`
	Counts             document.Counts `json:"counts"`
	Percentage         int             `json:"percentage"`
	FrontmatterWritten bool            `json:"frontmatter_written"`
	CacheWritten       bool            `json:"cache_written"`
	StatusWritten      bool            `json:"status_written"`
}

// Changed reports whether any document was rewritten.
func (r *RepairResult) Changed() bool {
	return r.FrontmatterWritten || r.StatusWritten
}

// Repairer re-derives counters from tasks.md and overwrites the frontmatter
// counters and the cache entry. Task sections are never modified.
type Repairer struct {
	ws     *increment.Workspace
	store  *cache.Store
	logger *slog.Logger
}

// NewRepairer creates a Repairer. A nil store skips the cache.
func NewRepairer(ws *increment.Workspace, store *cache.Store, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repairer{ws: ws, store: store, logger: logger}
}

// Repair brings the derived copies of one increment back in line with its
// text. A failed write leaves the document as it was.
func (r *Repairer) Repair(ctx context.Context, incrementID string, opts RepairOptions) (*RepairResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inc, err := r.ws.Get(incrementID)
	if err != nil {
		return nil, err
	}

	res := &RepairResult{IncrementID: inc.ID}
	written, err := util.EditFile(inc.TasksPath(), func(current []byte) ([]byte, error) {
		doc := document.ParseTasksDocument(string(current))
		res.Counts = doc.Counts()
		res.Percentage = res.Counts.Percentage()
		if opts.DryRun {
			return nil, util.ErrNoChange
		}
		out, err := document.WriteCounts(string(current), res.Counts)
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	})
	if err != nil {
		metrics.Repair("failed")
		if errors.Is(err, os.ErrNotExist) {
			return nil, syncerrors.NewDocumentMissing(inc.ID, increment.TasksFile)
		}
		return nil, fmt.Errorf("repair %s frontmatter: %w", inc.ID, err)
	}
	res.FrontmatterWritten = written

	if r.store != nil && !opts.DryRun {
		now := r.ws.Now()
		if err := r.store.Set(ctx, cache.Key(inc.ID, CacheTarget), NewEntry(inc.ID, res.Counts, now), now); err != nil {
			metrics.Repair("failed")
			return res, fmt.Errorf("repair %s cache: %w", inc.ID, err)
		}
		res.CacheWritten = true
	}

	if inc.HasMetadataFile && !opts.DryRun {
		written, err := increment.SyncSpecStatus(inc.SpecPath(), inc.Meta.Status)
		if err != nil {
			metrics.Repair("failed")
			return res, fmt.Errorf("repair %s status: %w", inc.ID, err)
		}
		res.StatusWritten = written
	}

	if res.Changed() {
		metrics.Repair("repaired")
	} else {
		metrics.Repair("unchanged")
	}
	r.logger.Info("increment repaired", "increment", inc.ID,
		"completed", res.Counts.Completed, "total", res.Counts.Total,
		"frontmatter_written", res.FrontmatterWritten, "status_written", res.StatusWritten,
		"dry_run", opts.DryRun)
	return res, nil
}

// RepairAll repairs every increment whose status counts toward WIP. A
// failure is recorded and the sweep continues.
func (r *Repairer) RepairAll(ctx context.Context, opts RepairOptions) ([]*RepairResult, []Failure, error) {
	incs, err := r.ws.List()
	if err != nil {
		return nil, nil, err
	}
	var (
		results  []*RepairResult
		failures []Failure
	)
	for _, inc := range incs {
		if !increment.CountsTowardWIP(inc.Meta.Status) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, failures, err
		}
		res, err := r.Repair(ctx, inc.ID, opts)
		if err != nil {
			r.logger.Error("repair failed", "increment", inc.ID, "error", err)
			failures = append(failures, Failure{IncrementID: inc.ID, Error: err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results, failures, nil
}
