package propagate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/randalmurphal/incsync/internal/document"
	syncerrors "github.com/randalmurphal/incsync/internal/errors"
	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/metrics"
	"github.com/randalmurphal/incsync/internal/util"
)

// Result summarizes one Run.
type Result struct {
	IncrementID            string        `json:"increment_id"`
	ACsChanged             int           `json:"acs_changed"`
	UserStoriesNowComplete int           `json:"user_stories_now_complete"`
	IncrementNowComplete   bool          `json:"increment_now_complete"`
	Changes                []ACChange    `json:"changes,omitempty"`
	Stories                []StoryStatus `json:"stories,omitempty"`
	Warnings               []string      `json:"warnings,omitempty"`
	ParseErrors            int           `json:"parse_errors"`
	Written                bool          `json:"written"`
}

// Options control a Run.
type Options struct {
	// DryRun computes changes without writing spec.md
	DryRun bool
}

// Propagator runs propagation passes against increments in a workspace.
type Propagator struct {
	ws     *increment.Workspace
	logger *slog.Logger
}

// New creates a Propagator. A nil logger uses slog.Default().
func New(ws *increment.Workspace, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{ws: ws, logger: logger}
}

// Run performs a single propagation pass for one increment. spec.md is
// written at most once, atomically, against its freshest on-disk content;
// tasks.md is only read. Running again on consistent text changes nothing.
func (p *Propagator) Run(ctx context.Context, incrementID string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inc, err := p.ws.Get(incrementID)
	if err != nil {
		return nil, err
	}

	tasksText, err := readDocument(inc.ID, inc.TasksPath(), increment.TasksFile)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(inc.SpecPath()); err != nil {
		return nil, syncerrors.NewDocumentMissing(inc.ID, increment.SpecFile)
	}

	var plan *Plan
	edit := func(current []byte) ([]byte, error) {
		plan = Compute(string(current), tasksText)
		if opts.DryRun || len(plan.Changes) == 0 {
			return nil, util.ErrNoChange
		}
		return []byte(plan.SpecText), nil
	}
	written, err := util.EditFile(inc.SpecPath(), edit)
	if err != nil {
		return nil, fmt.Errorf("propagate %s: %w", inc.ID, err)
	}

	for _, pe := range plan.ParseErrors {
		p.logger.Warn("parse error excluded item", "increment", inc.ID, "line", pe.Line, "reason", pe.Reason)
	}
	if written {
		for _, c := range plan.Changes {
			metrics.ACChanged(c.To)
			p.logger.Info("ac status updated", "increment", inc.ID, "ac", c.ACID, "completed", c.To,
				"tasks_completed", c.Completed, "tasks_total", c.Total)
		}
	}

	res := &Result{
		IncrementID:            inc.ID,
		ACsChanged:             len(plan.Changes),
		UserStoriesNowComplete: plan.StoriesComplete(),
		IncrementNowComplete:   plan.IncrementComplete,
		Changes:                plan.Changes,
		Stories:                plan.Stories,
		Warnings:               plan.Warnings,
		ParseErrors:            len(plan.ParseErrors),
		Written:                written,
	}
	p.logger.Debug("propagation pass finished", "increment", inc.ID, "changed", res.ACsChanged,
		"written", written, "increment_complete", res.IncrementNowComplete)
	return res, nil
}

// RunAll propagates every increment whose status counts toward WIP. A
// failure on one increment is logged and does not stop the others.
func (p *Propagator) RunAll(ctx context.Context, opts Options) ([]*Result, error) {
	incs, err := p.ws.List()
	if err != nil {
		return nil, err
	}
	var results []*Result
	for _, inc := range incs {
		if !increment.CountsTowardWIP(inc.Meta.Status) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.Run(ctx, inc.ID, opts)
		if err != nil {
			p.logger.Error("propagation failed", "increment", inc.ID, "error", err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func readDocument(id, path, name string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", syncerrors.NewDocumentMissing(id, name)
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// MappingReport lists AC links that cannot propagate.
type MappingReport struct {
	Valid bool `json:"valid"`
	// OrphanedACs are defined in spec.md but referenced by no task
	OrphanedACs []string `json:"orphaned_acs,omitempty"`
	// InvalidReferences are referenced by tasks but not defined in spec.md
	InvalidReferences []string `json:"invalid_references,omitempty"`
}

// ValidateMapping checks the AC links between spec.md and tasks.md.
func (p *Propagator) ValidateMapping(incrementID string) (*MappingReport, error) {
	inc, err := p.ws.Get(incrementID)
	if err != nil {
		return nil, err
	}
	specText, err := readDocument(inc.ID, inc.SpecPath(), increment.SpecFile)
	if err != nil {
		return nil, err
	}
	tasksText, err := readDocument(inc.ID, inc.TasksPath(), increment.TasksFile)
	if err != nil {
		return nil, err
	}
	return Mapping(specText, tasksText), nil
}

// Mapping is the pure form of ValidateMapping.
func Mapping(specText, tasksText string) *MappingReport {
	plan := Compute(specText, tasksText)
	report := &MappingReport{}
	defined := make(map[string]bool, len(plan.ACs))
	for _, ac := range plan.ACs {
		defined[ac.ID] = true
		if _, ok := plan.Coverage[ac.ID]; !ok {
			report.OrphanedACs = append(report.OrphanedACs, ac.ID)
		}
	}
	for id := range plan.Coverage {
		if !defined[id] {
			report.InvalidReferences = append(report.InvalidReferences, id)
		}
	}
	sort.Strings(report.InvalidReferences)
	report.Valid = len(report.OrphanedACs) == 0 && len(report.InvalidReferences) == 0
	return report
}

// Summary is the AC completion overview of an increment.
type Summary struct {
	TotalACs      int                 `json:"total_acs"`
	CompleteACs   int                 `json:"complete_acs"`
	IncompleteACs int                 `json:"incomplete_acs"`
	Percentage    int                 `json:"percentage"`
	Coverage      map[string]Coverage `json:"coverage"`
}

// Summarize reports AC completion as derived from the tasks alone.
func Summarize(tasksText string) *Summary {
	tasks, _ := document.ParseTasks(tasksText)
	cov := CoverageOf(tasks)
	s := &Summary{TotalACs: len(cov), Coverage: cov}
	for _, c := range cov {
		if c.AllComplete() {
			s.CompleteACs++
		} else {
			s.IncompleteACs++
		}
	}
	s.Percentage = document.Percentage(s.CompleteACs, s.TotalACs)
	return s
}
