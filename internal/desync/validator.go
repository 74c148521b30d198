// Package desync detects and repairs disagreement between the task counts
// derived from tasks.md, its frontmatter counters and the cached summary.
//
// The text is authoritative. Validation only reports; Repairer re-derives
// everything from the text and overwrites the derived copies.
package desync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/randalmurphal/incsync/internal/cache"
	"github.com/randalmurphal/incsync/internal/document"
	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/metrics"
)

// CacheTarget is the cache target under which summary entries are stored.
const CacheTarget = "status"

// IssueKind classifies a disagreement.
type IssueKind string

const (
	KindFrontmatter IssueKind = "frontmatter_desync"
	KindCache       IssueKind = "cache_desync"
	KindPercentage  IssueKind = "percentage_desync"
	KindCacheStale  IssueKind = "cache_stale"
	// KindStatus flags a spec.md header status that disagrees with metadata.yaml.
	KindStatus IssueKind = "status_desync"
)

// PercentageTolerance is the largest accepted difference, in percentage
// points, between a stored and a recomputed percentage.
const PercentageTolerance = 1

// Issue is one detected disagreement.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
}

func (i Issue) String() string { return string(i.Kind) + ": " + i.Message }

// Entry is the cached completion summary of one increment.
type Entry struct {
	IncrementID    string    `json:"increment_id"`
	CompletedTasks int       `json:"completed_tasks"`
	TotalTasks     int       `json:"total_tasks"`
	Percentage     int       `json:"percentage"`
	LastUpdate     time.Time `json:"last_update"`
}

// NewEntry builds a summary entry from task counts.
func NewEntry(id string, c document.Counts, at time.Time) Entry {
	return Entry{
		IncrementID:    id,
		CompletedTasks: c.Completed,
		TotalTasks:     c.Total,
		Percentage:     c.Percentage(),
		LastUpdate:     at.UTC(),
	}
}

// Result is the validation outcome for one increment.
type Result struct {
	IncrementID string           `json:"increment_id"`
	IsValid     bool             `json:"is_valid"`
	Issues      []Issue          `json:"issues,omitempty"`
	Actual      Entry            `json:"actual"`
	Frontmatter *document.Counts `json:"frontmatter,omitempty"`
	Cache       *Entry           `json:"cache,omitempty"`
	CacheAge    time.Duration    `json:"cache_age,omitempty"`
	ParseErrors int              `json:"parse_errors"`
}

// Has reports whether the result carries an issue of kind k.
func (r *Result) Has(k IssueKind) bool {
	for _, is := range r.Issues {
		if is.Kind == k {
			return true
		}
	}
	return false
}

func (r *Result) add(kind IssueKind, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Validator compares derived state against the text. It never writes.
type Validator struct {
	ws     *increment.Workspace
	store  *cache.Store
	logger *slog.Logger
}

// NewValidator creates a Validator. A nil store skips cache checks; a nil
// logger uses slog.Default().
func NewValidator(ws *increment.Workspace, store *cache.Store, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{ws: ws, store: store, logger: logger}
}

// Validate checks one increment and reports every disagreement found.
// A missing cache entry is not an issue; missing frontmatter counters are.
func (v *Validator) Validate(ctx context.Context, incrementID string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inc, err := v.ws.Get(incrementID)
	if err != nil {
		return nil, err
	}
	tasksText, err := readText(inc.ID, inc.TasksPath(), increment.TasksFile)
	if err != nil {
		return nil, err
	}

	doc := document.ParseTasksDocument(tasksText)
	actual := doc.Counts()
	res := &Result{
		IncrementID: inc.ID,
		Actual:      NewEntry(inc.ID, actual, v.ws.Now()),
		ParseErrors: len(doc.Errors),
	}

	checkFrontmatter(res, doc.Frontmatter, actual)

	if v.store != nil {
		var cached Entry
		meta, err := v.store.Peek(ctx, cache.Key(inc.ID, CacheTarget), &cached)
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", inc.ID, err)
		}
		if meta != nil {
			res.Cache = &cached
			res.CacheAge = meta.Age
			checkCache(res, cached, actual, meta)
		}
	}

	if err := checkStatus(res, inc); err != nil {
		v.logger.Warn("spec.md header unreadable", "increment", inc.ID, "error", err)
	}

	res.IsValid = len(res.Issues) == 0
	for _, is := range res.Issues {
		metrics.DesyncIssue(string(is.Kind))
	}
	v.logger.Debug("desync validation finished", "increment", inc.ID, "valid", res.IsValid,
		"issues", len(res.Issues))
	return res, nil
}

func checkFrontmatter(res *Result, fm *document.Frontmatter, actual document.Counts) {
	if fm != nil && (fm.Completed != nil || fm.TotalTasks != nil) {
		stored := fm.Counts()
		res.Frontmatter = &stored
	}
	switch {
	case fm == nil || fm.Completed == nil:
		res.add(KindFrontmatter, "%s missing, actual=%d", document.KeyCompleted, actual.Completed)
	case *fm.Completed != actual.Completed:
		res.add(KindFrontmatter, "%s: actual=%d, frontmatter=%d", document.KeyCompleted, actual.Completed, *fm.Completed)
	}
	switch {
	case fm == nil || fm.TotalTasks == nil:
		res.add(KindFrontmatter, "%s missing, actual=%d", document.KeyTotalTasks, actual.Total)
	case *fm.TotalTasks != actual.Total:
		res.add(KindFrontmatter, "%s: actual=%d, frontmatter=%d", document.KeyTotalTasks, actual.Total, *fm.TotalTasks)
	}
}

func checkCache(res *Result, cached Entry, actual document.Counts, meta *cache.Meta) {
	if cached.CompletedTasks != actual.Completed || cached.TotalTasks != actual.Total {
		res.add(KindCache, "actual=%d/%d, cache=%d/%d",
			actual.Completed, actual.Total, cached.CompletedTasks, cached.TotalTasks)
	}
	if diff := actual.Percentage() - cached.Percentage; diff > PercentageTolerance || diff < -PercentageTolerance {
		res.add(KindPercentage, "actual=%d%%, cache=%d%%", actual.Percentage(), cached.Percentage)
	}
	if meta.Stale {
		res.add(KindCacheStale, "last updated %d hours ago", int(meta.Age.Round(time.Hour)/time.Hour))
	}
}

type specHeader struct {
	Status increment.Status `yaml:"status"`
}

// checkStatus compares the status mirrored into the spec.md header against
// metadata.yaml. Only increments that have a metadata file are checked.
func checkStatus(res *Result, inc *increment.Increment) error {
	if !inc.HasMetadataFile {
		return nil
	}
	data, err := os.ReadFile(inc.SpecPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var h specHeader
	ok, err := document.DecodeHeader(string(data), &h)
	if err != nil || !ok || h.Status == "" {
		return err
	}
	if h.Status != inc.Meta.Status {
		res.add(KindStatus, "metadata.yaml=%s, spec.md=%s", inc.Meta.Status, h.Status)
	}
	return nil
}

// Failure records an increment that could not be processed during a sweep.
type Failure struct {
	IncrementID string `json:"increment_id"`
	Error       string `json:"error"`
}

// Report is the outcome of a sweep across increments.
type Report struct {
	Results  []*Result `json:"results"`
	Failures []Failure `json:"failures,omitempty"`
}

// Invalid returns the results that carry issues.
func (r *Report) Invalid() []*Result {
	var out []*Result
	for _, res := range r.Results {
		if !res.IsValid {
			out = append(out, res)
		}
	}
	return out
}

// OK reports whether every increment validated cleanly.
func (r *Report) OK() bool {
	return len(r.Failures) == 0 && len(r.Invalid()) == 0
}

// ValidateAll validates every increment whose status counts toward WIP.
// A failure on one increment is recorded and the sweep continues.
func (v *Validator) ValidateAll(ctx context.Context) (*Report, error) {
	incs, err := v.ws.List()
	if err != nil {
		return nil, err
	}
	report := &Report{}
	for _, inc := range incs {
		if !increment.CountsTowardWIP(inc.Meta.Status) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := v.Validate(ctx, inc.ID)
		if err != nil {
			v.logger.Error("desync validation failed", "increment", inc.ID, "error", err)
			report.Failures = append(report.Failures, Failure{IncrementID: inc.ID, Error: err.Error()})
			continue
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func readText(id, path, name string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", syncerrors.NewDocumentMissing(id, name)
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}
