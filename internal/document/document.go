// Package document extracts completion facts from increment markdown.
//
// Parsing runs in two stages: Lex classifies every line into a typed token
// and a small recursive-descent parser walks the token stream, treating each
// task heading as the start of a section. Parsing is pure and never fails as
// a whole; malformed items are skipped and reported as ParseErrors.
package document

import (
	"fmt"
	"math"
	"time"

	syncerrors "github.com/randalmurphal/incsync/internal/errors"
)

// Task is one task section of tasks.md.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	ACIDs         []string   `json:"ac_ids,omitempty"`
	Completed     bool       `json:"completed"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	External      bool       `json:"external,omitempty"`
	Line          int        `json:"line"`
}

// AcceptanceCriterion is one checkbox line of spec.md.
type AcceptanceCriterion struct {
	ID          string `json:"id"`
	UserStoryID string `json:"user_story_id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	External    bool   `json:"external,omitempty"`
	Line        int    `json:"line"`
	Raw         string `json:"-"`
}

// ParseError describes an item excluded from the result.
type ParseError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Err converts the parse error to the structured error type.
func (e ParseError) Err() error {
	return syncerrors.NewParseError(e.Line, e.Reason)
}

// Counts is a completed/total pair.
type Counts struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Percentage returns round(100*completed/total), or 0 when total is 0.
func (c Counts) Percentage() int {
	return Percentage(c.Completed, c.Total)
}

// Percentage returns round(100*completed/total), or 0 when total is 0.
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// CountTasks counts task sections, one per section regardless of how many
// completion markers a section carries.
func CountTasks(tasks []Task) Counts {
	c := Counts{Total: len(tasks)}
	for _, t := range tasks {
		if t.Completed {
			c.Completed++
		}
	}
	return c
}

// TasksDocument is the parsed form of tasks.md.
type TasksDocument struct {
	Frontmatter *Frontmatter
	Tasks       []Task
	Errors      []ParseError
}

// Counts returns the task counts derived from the task sections.
func (d *TasksDocument) Counts() Counts {
	return CountTasks(d.Tasks)
}

// ParseTasksDocument parses tasks.md including its metadata header.
func ParseTasksDocument(text string) *TasksDocument {
	toks := Lex(text)
	p := &parser{toks: toks}
	doc := &TasksDocument{}
	fm, err := parseFrontmatter(toks)
	if err != nil {
		doc.Errors = append(doc.Errors, *err)
	}
	doc.Frontmatter = fm
	doc.Tasks = p.parseTasks()
	doc.Errors = append(doc.Errors, p.errs...)
	return doc
}

// ParseTasks returns the ordered task sections found in text.
func ParseTasks(text string) ([]Task, []ParseError) {
	p := &parser{toks: Lex(text)}
	tasks := p.parseTasks()
	return tasks, p.errs
}

// ParseACs returns the ordered acceptance criteria found in text.
func ParseACs(text string) ([]AcceptanceCriterion, []ParseError) {
	p := &parser{toks: Lex(text)}
	acs := p.parseACs()
	return acs, p.errs
}

// FindAC returns the AC with the given id, or nil.
func FindAC(acs []AcceptanceCriterion, id string) *AcceptanceCriterion {
	for i := range acs {
		if acs[i].ID == id {
			return &acs[i]
		}
	}
	return nil
}
