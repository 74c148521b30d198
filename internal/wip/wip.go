// Package wip checks work-in-progress quotas across increments.
//
// Only increments whose status counts toward WIP (active, paused) occupy a
// slot. Planning is never counted so any amount of planning can happen
// without holding execution capacity.
package wip

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/randalmurphal/incsync/internal/increment"
	"github.com/randalmurphal/incsync/internal/metrics"
)

// ViolationType names the rule that was broken.
type ViolationType string

const (
	HardCapExceeded  ViolationType = "hard_cap_exceeded"
	WIPLimitExceeded ViolationType = "wip_limit_exceeded"
)

// Severity of a violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Limit is the quota for one increment type. A nil Recommended limit means
// unlimited: the type is always compliant. A nil HardCap disables the error
// ceiling while keeping the recommendation.
type Limit struct {
	Recommended *int `yaml:"recommended" mapstructure:"recommended" json:"recommended" validate:"omitempty,gte=0"`
	HardCap     *int `yaml:"hard_cap" mapstructure:"hard_cap" json:"hard_cap" validate:"omitempty,gte=0"`
}

// Unlimited reports whether the limit never produces violations.
func (l Limit) Unlimited() bool { return l.Recommended == nil }

// Limits holds per-type quotas.
type Limits struct {
	ByType map[increment.Type]Limit `yaml:"by_type" mapstructure:"by_type" json:"by_type" validate:"dive"`
	// Default applies to types missing from ByType.
	Default Limit `yaml:"default" mapstructure:"default" json:"default"`
	// Overall caps limited types together. Unlimited types never count.
	Overall Limit `yaml:"overall" mapstructure:"overall" json:"overall"`
}

func intp(n int) *int { return &n }

// DefaultLimits allows one in-flight increment per planned type with a hard
// ceiling of two, and leaves hotfix and bug unlimited for emergency work.
func DefaultLimits() Limits {
	planned := Limit{Recommended: intp(1), HardCap: intp(2)}
	return Limits{
		ByType: map[increment.Type]Limit{
			increment.TypeFeature:       planned,
			increment.TypeChangeRequest: planned,
			increment.TypeRefactor:      planned,
			increment.TypeExperiment:    planned,
			increment.TypeHotfix:        {},
			increment.TypeBug:           {},
		},
		Default: planned,
	}
}

// For returns the limit for typ.
func (l Limits) For(typ increment.Type) Limit {
	if lim, ok := l.ByType[typ]; ok {
		return lim
	}
	return l.Default
}

// Violation is one broken quota.
type Violation struct {
	Type          ViolationType  `json:"type"`
	Severity      Severity       `json:"severity"`
	Message       string         `json:"message"`
	Suggestion    string         `json:"suggestion,omitempty"`
	IncrementType increment.Type `json:"increment_type,omitempty"`
	Count         int            `json:"count"`
	Limit         int            `json:"limit"`
	Increments    []string       `json:"increments,omitempty"`
}

// Counts summarizes increments by status and WIP slots by type.
type Counts struct {
	Total    int                      `json:"total"`
	ByStatus map[increment.Status]int `json:"by_status"`
	WIP      map[increment.Type]int   `json:"wip"`
}

// Result is the outcome of a quota check.
type Result struct {
	Compliant  bool        `json:"compliant"`
	Violations []Violation `json:"violations,omitempty"`
	Counts     Counts      `json:"counts"`
}

// HasErrors reports whether any violation has error severity.
func (r *Result) HasErrors() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Checker evaluates quotas over a workspace.
type Checker struct {
	ws     *increment.Workspace
	limits Limits
	logger *slog.Logger
}

// NewChecker creates a Checker. A nil logger uses slog.Default().
func NewChecker(ws *increment.Workspace, limits Limits, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{ws: ws, limits: limits, logger: logger}
}

// Validate checks every increment in the workspace against the limits.
func (c *Checker) Validate(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	incs, err := c.ws.List()
	if err != nil {
		return nil, err
	}
	res := Evaluate(incs, c.limits)
	for _, v := range res.Violations {
		metrics.WIPViolation(string(v.Severity))
		c.logger.Warn("wip quota violated", "rule", v.Type, "type", v.IncrementType,
			"count", v.Count, "limit", v.Limit)
	}
	return res, nil
}

// CheckStart evaluates the quotas as they would stand if id became active.
// An increment that already holds a slot is evaluated as is.
func (c *Checker) CheckStart(ctx context.Context, id string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := c.ws.Get(id)
	if err != nil {
		return nil, err
	}
	incs, err := c.ws.List()
	if err != nil {
		return nil, err
	}
	projected := make([]*increment.Increment, 0, len(incs))
	for _, inc := range incs {
		if inc.ID == target.ID && !increment.CountsTowardWIP(inc.Meta.Status) {
			clone := *inc
			clone.Meta = inc.Meta.Clone()
			clone.Meta.Status = increment.StatusActive
			inc = &clone
		}
		projected = append(projected, inc)
	}
	return Evaluate(projected, c.limits), nil
}

// Evaluate is the pure quota check over a set of increments.
func Evaluate(incs []*increment.Increment, limits Limits) *Result {
	counts := Counts{
		Total:    len(incs),
		ByStatus: make(map[increment.Status]int),
		WIP:      make(map[increment.Type]int),
	}
	members := make(map[increment.Type][]string)
	var limited []string
	for _, inc := range incs {
		counts.ByStatus[inc.Meta.Status]++
		if !increment.CountsTowardWIP(inc.Meta.Status) {
			continue
		}
		counts.WIP[inc.Meta.Type]++
		members[inc.Meta.Type] = append(members[inc.Meta.Type], inc.ID)
		if !limits.For(inc.Meta.Type).Unlimited() {
			limited = append(limited, inc.ID)
		}
	}

	types := make([]increment.Type, 0, len(counts.WIP))
	for typ := range counts.WIP {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	res := &Result{Counts: counts}
	for _, typ := range types {
		if v, ok := check(limits.For(typ), counts.WIP[typ], string(typ)); ok {
			v.IncrementType = typ
			v.Increments = members[typ]
			res.Violations = append(res.Violations, v)
		}
	}
	if v, ok := check(limits.Overall, len(limited), "all planned types"); ok {
		v.Increments = limited
		res.Violations = append(res.Violations, v)
	}
	res.Compliant = len(res.Violations) == 0
	return res
}

func check(lim Limit, count int, scope string) (Violation, bool) {
	if lim.Unlimited() {
		return Violation{}, false
	}
	if lim.HardCap != nil && count > *lim.HardCap {
		excess := count - *lim.HardCap
		return Violation{
			Type:       HardCapExceeded,
			Severity:   SeverityError,
			Message:    fmt.Sprintf("hard cap exceeded for %s: %d in progress (maximum %d)", scope, count, *lim.HardCap),
			Suggestion: fmt.Sprintf("complete or abandon at least %d increment(s)", excess),
			Count:      count,
			Limit:      *lim.HardCap,
		}, true
	}
	if count > *lim.Recommended {
		return Violation{
			Type:       WIPLimitExceeded,
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("wip limit exceeded for %s: %d in progress (recommended %d)", scope, count, *lim.Recommended),
			Suggestion: "finish in-flight work before starting more",
			Count:      count,
			Limit:      *lim.Recommended,
		}, true
	}
	return Violation{}, false
}
