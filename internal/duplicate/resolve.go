package duplicate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/util"
)

// ReportPrefix starts the name of every resolution report.
const ReportPrefix = "DUPLICATE-RESOLUTION-"

// Options controls one resolution.
type Options struct {
	// Merge copies loser reports and tracker links into the winner.
	Merge bool
	// Force deletes losers without asking.
	Force bool
	// DryRun reports what would happen and touches nothing.
	DryRun bool
}

// Confirmer asks whether losers may be deleted.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) { return f(ctx, prompt) }

// Resolution is the outcome of resolving one duplicate.
type Resolution struct {
	Number string `json:"number"`
	Winner string `json:"winner"`
	Reason string `json:"reason"`
	// Merged lists files written (or, in a dry run, planned) in the winner.
	Merged []string `json:"merged"`
	// LinksMerged lists trackers whose links were copied into the winner.
	LinksMerged []string `json:"links_merged,omitempty"`
	Deleted     []string `json:"deleted"`
	// Kept lists losers left in place because deletion was declined.
	Kept       []string `json:"kept,omitempty"`
	ReportPath string   `json:"report_path"`
	DryRun     bool     `json:"dry_run"`
}

// Resolver merges and removes duplicate copies.
type Resolver struct {
	confirm Confirmer
	now     func() time.Time
	logger  *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithConfirmer sets the deletion prompt. Without one, deletion requires
// Options.Force.
func WithConfirmer(c Confirmer) ResolverOption {
	return func(r *Resolver) { r.confirm = c }
}

// WithClock sets the time source for report names.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve keeps d.Winner, optionally merges loser content into it, deletes
// the losers once confirmed and writes a resolution report into the
// winner's reports directory. Failures are CONFLICT_RESOLUTION_FAILED.
func (r *Resolver) Resolve(ctx context.Context, d *Duplicate, opts Options) (*Resolution, error) {
	res, err := r.resolve(ctx, d, opts)
	if err != nil {
		return res, syncerrors.NewConflictResolution(d.Number, err)
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, d *Duplicate, opts Options) (*Resolution, error) {
	if d.Winner == nil {
		return nil, errors.New("duplicate has no winner")
	}
	for _, l := range d.Losers {
		if l.Path == d.Winner.Path {
			return nil, fmt.Errorf("winner %s is also listed as a loser", d.Winner.Path)
		}
	}
	if _, err := os.Stat(d.Winner.Path); err != nil {
		return nil, fmt.Errorf("winner: %w", err)
	}

	now := r.now().UTC()
	res := &Resolution{
		Number:     d.Number,
		Winner:     d.Winner.Path,
		Reason:     d.Reason,
		Merged:     []string{},
		Deleted:    []string{},
		DryRun:     opts.DryRun,
		ReportPath: filepath.Join(d.Winner.Path, increment.ReportsDir, ReportPrefix+now.Format("20060102-150405")+".md"),
	}

	if opts.Merge {
		planned := make(map[string]bool)
		for _, loser := range d.Losers {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			merged, err := mergeReports(d.Winner, loser, planned, opts.DryRun)
			res.Merged = append(res.Merged, merged...)
			if err != nil {
				return res, err
			}
		}
		links, err := mergeLinks(d.Winner, d.Losers, opts.DryRun)
		if err != nil {
			return res, err
		}
		res.LinksMerged = links
	}

	if err := r.deleteLosers(ctx, d, opts, res); err != nil {
		return res, err
	}

	if opts.DryRun {
		r.logger.Info("dry run: duplicate not resolved", "number", d.Number, "winner", d.Winner.Name)
		return res, nil
	}
	if err := util.AtomicWriteFile(res.ReportPath, []byte(FormatResolution(d, res, now)), 0644); err != nil {
		return res, fmt.Errorf("write resolution report: %w", err)
	}
	r.logger.Info("duplicate resolved",
		"number", d.Number,
		"winner", d.Winner.Name,
		"merged", len(res.Merged),
		"deleted", len(res.Deleted),
		"kept", len(res.Kept),
	)
	return res, nil
}

func (r *Resolver) deleteLosers(ctx context.Context, d *Duplicate, opts Options, res *Resolution) error {
	if len(d.Losers) == 0 {
		return nil
	}
	if opts.DryRun {
		for _, l := range d.Losers {
			res.Deleted = append(res.Deleted, l.Path)
		}
		return nil
	}

	allowed := opts.Force
	if !allowed && r.confirm != nil {
		names := make([]string, len(d.Losers))
		for i, l := range d.Losers {
			names[i] = l.Path
		}
		prompt := fmt.Sprintf("Delete %d losing copy(ies) of %s (%s)?", len(d.Losers), d.Number, strings.Join(names, ", "))
		ok, err := r.confirm.Confirm(ctx, prompt)
		if err != nil {
			return fmt.Errorf("confirm deletion: %w", err)
		}
		allowed = ok
	}

	for _, l := range d.Losers {
		if !allowed {
			res.Kept = append(res.Kept, l.Path)
			continue
		}
		if err := os.RemoveAll(l.Path); err != nil {
			return fmt.Errorf("delete %s: %w", l.Path, err)
		}
		res.Deleted = append(res.Deleted, l.Path)
	}
	return nil
}

// mergeReports copies every file under loser/reports into winner/reports.
// A file whose name is taken gets a -MERGED-<loser> suffix before its
// extension, then a -N counter if that is taken too. planned holds targets
// already claimed in this resolution so dry runs predict the same names.
// Returned paths are relative to the winner.
func mergeReports(winner, loser *Candidate, planned map[string]bool, dryRun bool) ([]string, error) {
	src := filepath.Join(loser.Path, increment.ReportsDir)
	if st, err := os.Stat(src); err != nil || !st.IsDir() {
		return nil, nil
	}
	dst := filepath.Join(winner.Path, increment.ReportsDir)

	var merged []string
	err := doublestar.GlobWalk(os.DirFS(src), "**", func(rel string, d fs.DirEntry) error {
		if !d.Type().IsRegular() {
			return nil
		}
		target := claimTarget(filepath.Join(dst, filepath.FromSlash(rel)), loser.Name, planned)
		relTarget, _ := filepath.Rel(winner.Path, target)
		merged = append(merged, filepath.ToSlash(relTarget))
		if dryRun {
			return nil
		}
		return copyFile(filepath.Join(src, filepath.FromSlash(rel)), target)
	})
	if err != nil {
		return merged, fmt.Errorf("merge reports from %s: %w", loser.Name, err)
	}
	return merged, nil
}

func claimTarget(target, loser string, planned map[string]bool) string {
	taken := func(p string) bool {
		if planned[p] {
			return true
		}
		_, err := os.Stat(p)
		return err == nil
	}
	if taken(target) {
		ext := filepath.Ext(target)
		base := strings.TrimSuffix(target, ext) + "-MERGED-" + loser
		target = base + ext
		for n := 2; taken(target); n++ {
			target = base + "-" + strconv.Itoa(n) + ext
		}
	}
	planned[target] = true
	return target
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(dst, data, 0644)
}

// mergeLinks unions loser tracker links into the winner metadata. The
// winner's own links take precedence.
func mergeLinks(winner *Candidate, losers []*Candidate, dryRun bool) ([]string, error) {
	meta := winner.Meta
	if meta == nil {
		meta = &increment.Metadata{ID: winner.Name, Status: winner.Status}
	} else {
		meta = meta.Clone()
	}

	var added []string
	for _, l := range losers {
		if l.Meta != nil {
			added = append(added, meta.MergeExternal(l.Meta.External)...)
		}
	}
	sort.Strings(added)
	if len(added) == 0 || dryRun {
		return added, nil
	}
	if err := increment.SaveMetadata(winner.Path, meta); err != nil {
		return added, err
	}
	winner.Meta = meta
	return added, nil
}

// ResolveAll resolves each duplicate, continuing past failures. Each
// failure is logged and returned alongside the successful resolutions.
func (r *Resolver) ResolveAll(ctx context.Context, dups []*Duplicate, opts Options) ([]*Resolution, []error) {
	var (
		out  []*Resolution
		errs []error
	)
	for _, d := range dups {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := r.Resolve(ctx, d, opts)
		if err != nil {
			r.logger.Error("duplicate resolution failed", "number", d.Number, "error", err)
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errs
}
