// Package propagate derives AC, user story and increment completion from
// task completion and writes AC checkbox changes back to spec.md.
package propagate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/randalmurphal/incsync/internal/document"
	"github.com/randalmurphal/incsync/internal/util"
)

// ACChange is one AC checkbox that disagrees with its supporting tasks.
type ACChange struct {
	ACID      string `json:"ac_id"`
	Line      int    `json:"line"`
	From      bool   `json:"from"`
	To        bool   `json:"to"`
	Completed int    `json:"completed_tasks"`
	Total     int    `json:"total_tasks"`
}

func (c ACChange) String() string {
	box := func(b bool) string {
		if b {
			return "[x]"
		}
		return "[ ]"
	}
	return fmt.Sprintf("%s: %s -> %s (%d/%d tasks complete)", c.ACID, box(c.From), box(c.To), c.Completed, c.Total)
}

// StoryStatus is the derived completion of one user story.
type StoryStatus struct {
	ID        string `json:"id"`
	Completed int    `json:"completed_acs"`
	Total     int    `json:"total_acs"`
	Complete  bool   `json:"complete"`
}

// Coverage is the task support of a single AC.
type Coverage struct {
	Tasks     []string `json:"tasks"`
	Completed int      `json:"completed"`
}

// AllComplete reports whether every supporting task is complete. ACs without
// support never report complete.
func (c Coverage) AllComplete() bool {
	return len(c.Tasks) > 0 && c.Completed == len(c.Tasks)
}

// Plan is the outcome of one propagation pass over a document pair.
type Plan struct {
	// ACs reflect the checkbox states after Changes are applied
	ACs      []document.AcceptanceCriterion
	Changes  []ACChange
	Coverage map[string]Coverage
	Stories  []StoryStatus

	IncrementComplete bool

	// SpecText is the spec.md text with Changes applied
	SpecText string

	Warnings    []string
	ParseErrors []document.ParseError
}

// StoriesComplete returns the number of complete user stories.
func (p *Plan) StoriesComplete() int {
	n := 0
	for _, s := range p.Stories {
		if s.Complete {
			n++
		}
	}
	return n
}

// Compute runs one propagation pass. It is pure: the returned SpecText is the
// input with only the changed AC checkbox lines rewritten.
func Compute(specText, tasksText string) *Plan {
	tasks, taskErrs := document.ParseTasks(tasksText)
	acs, acErrs := document.ParseACs(specText)

	plan := &Plan{
		Coverage:    CoverageOf(tasks),
		SpecText:    specText,
		ParseErrors: append(acErrs, taskErrs...),
	}

	for id := range plan.Coverage {
		if document.FindAC(acs, id) == nil {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s referenced in tasks.md but not found in spec.md", id))
		}
	}
	sort.Strings(plan.Warnings)

	lines := util.Lines(specText)
	for i := range acs {
		ac := &acs[i]
		cov, ok := plan.Coverage[ac.ID]
		if !ok {
			// Zero supporting tasks: the authored value stands
			if ac.Completed {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s: [x] but no tasks found (manual verification?)", ac.ID))
			} else {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s: has no tasks mapped", ac.ID))
			}
			continue
		}
		want := cov.AllComplete()
		if want == ac.Completed {
			continue
		}

		plan.Changes = append(plan.Changes, ACChange{
			ACID:      ac.ID,
			Line:      ac.Line,
			From:      ac.Completed,
			To:        want,
			Completed: cov.Completed,
			Total:     len(cov.Tasks),
		})
		idx := ac.Line - 1
		updated := document.SetCheckbox(ac.Raw, want)
		lines[idx] = updated + util.EOL(lines[idx])
		ac.Raw = updated
		ac.Completed = want
	}

	if len(plan.Changes) > 0 {
		plan.SpecText = strings.Join(lines, "")
	}
	plan.ACs = acs
	plan.Stories = Stories(acs)
	plan.IncrementComplete = IncrementComplete(acs)
	return plan
}

// CoverageOf maps each AC id to the tasks that reference it. Tasks without
// AC links contribute nothing.
func CoverageOf(tasks []document.Task) map[string]Coverage {
	cov := make(map[string]Coverage)
	for _, t := range tasks {
		for _, id := range t.ACIDs {
			c := cov[id]
			c.Tasks = append(c.Tasks, t.ID)
			if t.Completed {
				c.Completed++
			}
			cov[id] = c
		}
	}
	return cov
}

// Stories groups ACs by user story in first-seen order. A story is complete
// when it has at least one AC and all of them are complete.
func Stories(acs []document.AcceptanceCriterion) []StoryStatus {
	index := make(map[string]int)
	var stories []StoryStatus
	for _, ac := range acs {
		i, ok := index[ac.UserStoryID]
		if !ok {
			i = len(stories)
			index[ac.UserStoryID] = i
			stories = append(stories, StoryStatus{ID: ac.UserStoryID})
		}
		stories[i].Total++
		if ac.Completed {
			stories[i].Completed++
		}
	}
	for i := range stories {
		stories[i].Complete = stories[i].Total > 0 && stories[i].Completed == stories[i].Total
	}
	return stories
}

// IncrementComplete is true when at least one AC exists and all are complete.
func IncrementComplete(acs []document.AcceptanceCriterion) bool {
	if len(acs) == 0 {
		return false
	}
	for _, ac := range acs {
		if !ac.Completed {
			return false
		}
	}
	return true
}
