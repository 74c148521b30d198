// Package increment provides the increment lifecycle and on-disk workspace.
package increment

import (
	"slices"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
)

// Status is the lifecycle state of an increment.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusActive    Status = "active"
	StatusBacklog   Status = "backlog"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"  // Terminal
	StatusAbandoned Status = "abandoned" // Terminal
)

// ValidStatuses returns all statuses in lifecycle order.
func ValidStatuses() []Status {
	return []Status{
		StatusPlanning, StatusActive, StatusBacklog,
		StatusPaused, StatusCompleted, StatusAbandoned,
	}
}

// IsValidStatus returns true if s is a known status.
func IsValidStatus(s Status) bool {
	return slices.Contains(ValidStatuses(), s)
}

var transitions = map[Status][]Status{
	StatusPlanning:  {StatusActive, StatusBacklog, StatusAbandoned},
	StatusActive:    {StatusPaused, StatusCompleted, StatusAbandoned},
	StatusPaused:    {StatusActive, StatusCompleted, StatusAbandoned},
	StatusBacklog:   {StatusPlanning, StatusActive, StatusAbandoned},
	StatusCompleted: {},
	StatusAbandoned: {},
}

// ValidTargets returns the statuses reachable from s in one step.
func ValidTargets(s Status) []Status {
	return slices.Clone(transitions[s])
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// IsTerminal returns true for statuses with no outgoing transitions.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// CountsTowardWIP is true for active and paused only. Planning never holds
// an execution slot.
func CountsTowardWIP(s Status) bool {
	return s == StatusActive || s == StatusPaused
}

// CheckTransition returns an INVALID_TRANSITION error naming the pair and the
// valid targets when from → to is not allowed.
func CheckTransition(id string, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	valid := make([]string, 0, len(transitions[from]))
	for _, s := range transitions[from] {
		valid = append(valid, string(s))
	}
	return syncerrors.NewInvalidTransition(id, string(from), string(to), valid)
}

// Type is the kind of work an increment represents.
type Type string

const (
	TypeFeature       Type = "feature"
	TypeHotfix        Type = "hotfix"
	TypeBug           Type = "bug"
	TypeChangeRequest Type = "change-request"
	TypeRefactor      Type = "refactor"
	TypeExperiment    Type = "experiment"
)

// ValidTypes returns all increment types.
func ValidTypes() []Type {
	return []Type{TypeFeature, TypeHotfix, TypeBug, TypeChangeRequest, TypeRefactor, TypeExperiment}
}

// IsValidType returns true if t is a known type.
func IsValidType(t Type) bool {
	return slices.Contains(ValidTypes(), t)
}
