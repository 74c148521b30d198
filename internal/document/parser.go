package document

import (
	"fmt"
	"strings"
	"time"
)

type parser struct {
	toks []Token
	pos  int
	errs []ParseError
}

func (p *parser) done() bool   { return p.pos >= len(p.toks) }
func (p *parser) peek() *Token { return &p.toks[p.pos] }
func (p *parser) next() *Token {
	t := &p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) fail(line int, format string, args ...any) {
	p.errs = append(p.errs, ParseError{Line: line, Reason: fmt.Sprintf(format, args...)})
}

type headingKind int

const (
	headingOther headingKind = iota
	headingTask
	headingMalformed
)

type taskHead struct {
	id        string
	title     string
	external  bool
	completed bool
	reason    string
}

// parseTasks implements:
//
//	document := section*
//	section  := task-heading body*
//	body     := token up to a heading of equal or shallower level, or the next task heading
func (p *parser) parseTasks() []Task {
	var tasks []Task
	seen := make(map[string]int)

	for !p.done() {
		tok := p.peek()
		if tok.Kind != TokenHeading {
			p.next()
			continue
		}
		head, kind := classifyHeading(tok.Text)
		p.next()
		switch kind {
		case headingOther:
			continue
		case headingMalformed:
			p.fail(tok.Line, "%s", head.reason)
			p.skipSection(tok.Level)
			continue
		}

		task := p.parseTaskSection(tok, head)
		if first, dup := seen[task.ID]; dup {
			p.fail(tok.Line, "duplicate task id %s (first defined on line %d)", task.ID, first)
			continue
		}
		seen[task.ID] = tok.Line
		tasks = append(tasks, task)
	}
	return tasks
}

func (p *parser) atSectionEnd(level int) bool {
	tok := p.peek()
	if tok.Kind != TokenHeading {
		return false
	}
	if tok.Level <= level {
		return true
	}
	_, kind := classifyHeading(tok.Text)
	return kind != headingOther
}

func (p *parser) skipSection(level int) {
	for !p.done() && !p.atSectionEnd(level) {
		p.next()
	}
}

func (p *parser) parseTaskSection(heading *Token, head taskHead) Task {
	task := Task{
		ID:        head.id,
		Title:     head.title,
		External:  head.external,
		Completed: head.completed,
		Line:      heading.Line,
	}
	acSeen := make(map[string]bool)
	// Unindented checkbox items; an open status checkbox counts as open.
	var checked, open int

	for !p.done() && !p.atSectionEnd(heading.Level) {
		tok := p.next()
		switch tok.Kind {
		case TokenField:
			p.applyField(&task, tok, acSeen)
			if strings.EqualFold(tok.Key, "status") {
				if box, _, ok := scanBox(strings.TrimSpace(tok.Value)); ok && box == BoxOpen {
					open++
				}
			}
		case TokenListItem:
			if tok.Indent != 0 {
				continue
			}
			switch tok.Box {
			case BoxChecked:
				checked++
				if checkedItemMarksTask(tok.Text, task.ID) {
					task.Completed = true
				}
			case BoxOpen:
				open++
			}
		}
	}
	// Sub-step checklists: complete once every step is checked.
	if checked > 0 && open == 0 {
		task.Completed = true
	}
	return task
}

func (p *parser) applyField(task *Task, tok *Token, acSeen map[string]bool) {
	switch strings.ToLower(tok.Key) {
	case "status":
		if statusMarksComplete(tok.Value) {
			task.Completed = true
		}
	case "completed", "completed at", "completion date":
		if d, ok := parseDate(tok.Value); ok {
			task.Completed = true
			if task.CompletedDate == nil {
				task.CompletedDate = &d
			}
		}
	case "ac", "acs", "satisfies acs", "satisfies", "acceptance criteria":
		for _, id := range SplitACList(tok.Value) {
			if !acSeen[id] {
				acSeen[id] = true
				task.ACIDs = append(task.ACIDs, id)
			}
		}
	}
}

// classifyHeading decides whether a heading opens a task section.
// Accepted shapes include "T-001: Title", "**T-001**: Title",
// "[x] T-001: Title", "T-001: Title [x]" and "T-001: Title ✅ COMPLETE".
func classifyHeading(text string) (taskHead, headingKind) {
	var head taskHead

	if strings.Contains(text, "✅") {
		head.completed = true
		text = strings.ReplaceAll(text, "✅", "")
	}
	text = strings.TrimSpace(text)
	if box, rest, ok := scanBox(text); ok {
		head.completed = head.completed || box == BoxChecked
		text = rest
	}
	for _, suffix := range []string{"[x]", "[X]", "[ ]"} {
		if strings.HasSuffix(text, suffix) {
			head.completed = head.completed || suffix != "[ ]"
			text = strings.TrimSpace(strings.TrimSuffix(text, suffix))
		}
	}

	core := strings.TrimLeft(text, "*_`")
	core = strings.TrimPrefix(core, "Task ")
	core = strings.TrimLeft(core, "*_`")
	if !strings.HasPrefix(core, "T-") {
		return head, headingOther
	}

	id, external, rest, ok := ScanTaskID(core)
	if !ok {
		head.reason = "task heading without a valid id"
		return head, headingMalformed
	}
	rest = strings.TrimLeft(rest, "*_`")
	if !strings.HasPrefix(rest, ":") {
		head.reason = fmt.Sprintf("task heading %s is missing the ':' title separator", id)
		return head, headingMalformed
	}
	title := strings.TrimSpace(strings.TrimLeft(rest[1:], "*_` "))
	if head.completed {
		for _, word := range []string{"COMPLETED", "COMPLETE"} {
			title = strings.TrimSpace(strings.TrimSuffix(title, word))
		}
	}

	head.id = id
	head.external = external
	head.title = title
	return head, headingTask
}

var completionWords = map[string]bool{
	"completed": true,
	"complete":  true,
	"done":      true,
}

func firstWord(s string) string {
	s = stripEmphasis(s)
	if i := strings.IndexAny(s, " \t,.;(-"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(stripEmphasis(s))
}

// checkedItemMarksTask reports whether an unindented "- [x] ..." item marks
// the whole section complete rather than a sub-step.
func checkedItemMarksTask(text, taskID string) bool {
	core := strings.TrimLeft(text, "*_`")
	if id, _, _, ok := ScanTaskID(core); ok && id == taskID {
		return true
	}
	return completionWords[firstWord(text)]
}

func statusMarksComplete(value string) bool {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(v, "✅") {
		return true
	}
	if box, _, ok := scanBox(v); ok {
		return box == BoxChecked
	}
	return completionWords[firstWord(v)]
}

func parseDate(value string) (time.Time, bool) {
	v := stripEmphasis(value)
	if len(v) < len("2006-01-02") {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", v[:10])
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func (p *parser) parseACs() []AcceptanceCriterion {
	var acs []AcceptanceCriterion
	seen := make(map[string]int)

	for !p.done() {
		tok := p.next()
		if tok.Kind != TokenListItem || tok.Box == BoxNone {
			continue
		}
		core := strings.TrimLeft(tok.Text, "*_`")
		if !strings.HasPrefix(core, "AC-") {
			continue
		}
		id, parsed, rest, ok := ScanACID(core)
		if !ok {
			p.fail(tok.Line, "acceptance criterion without a valid id")
			continue
		}
		rest = strings.TrimLeft(rest, "*_`")
		if !strings.HasPrefix(rest, ":") {
			p.fail(tok.Line, "acceptance criterion %s is missing the ':' separator", id)
			continue
		}
		if first, dup := seen[id]; dup {
			p.fail(tok.Line, "duplicate acceptance criterion %s (first defined on line %d)", id, first)
			continue
		}
		seen[id] = tok.Line

		acs = append(acs, AcceptanceCriterion{
			ID:          id,
			UserStoryID: parsed.UserStoryID(),
			Description: strings.TrimSpace(strings.TrimLeft(rest[1:], "*_`")),
			Completed:   tok.Box == BoxChecked,
			External:    parsed.External,
			Line:        tok.Line,
			Raw:         tok.Raw,
		})
	}
	return acs
}
