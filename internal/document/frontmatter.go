package document

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/incsync/internal/util"
)

// Frontmatter keys holding the task counters in tasks.md.
const (
	KeyTotalTasks = "total_tasks"
	KeyCompleted  = "completed"
)

// ErrUnterminatedFrontmatter is returned when a header opens but never closes.
var ErrUnterminatedFrontmatter = errors.New("metadata header is not terminated by ---")

// Frontmatter is the YAML metadata header at the top of tasks.md.
// Counters are nil when the key is absent.
type Frontmatter struct {
	TotalTasks *int `yaml:"total_tasks"`
	Completed  *int `yaml:"completed"`

	// Line numbers of the opening and closing delimiters (1-based).
	Open  int `yaml:"-"`
	Close int `yaml:"-"`
}

// HasCounts reports whether both counters are present.
func (f *Frontmatter) HasCounts() bool {
	return f != nil && f.TotalTasks != nil && f.Completed != nil
}

// Counts returns the stored counters; missing values read as zero.
func (f *Frontmatter) Counts() Counts {
	var c Counts
	if f == nil {
		return c
	}
	if f.TotalTasks != nil {
		c.Total = *f.TotalTasks
	}
	if f.Completed != nil {
		c.Completed = *f.Completed
	}
	return c
}

// ParseFrontmatter reads the metadata header of text. It returns nil when the
// document has no header.
func ParseFrontmatter(text string) (*Frontmatter, error) {
	fm, perr := parseFrontmatter(Lex(text))
	if perr != nil {
		return fm, perr
	}
	return fm, nil
}

func parseFrontmatter(toks []Token) (*Frontmatter, *ParseError) {
	if len(toks) == 0 || toks[0].Kind != TokenFrontmatterDelim {
		return nil, nil
	}
	var body []string
	closing := 0
	for _, tok := range toks[1:] {
		if tok.Kind == TokenFrontmatterDelim {
			closing = tok.Line
			break
		}
		body = append(body, tok.Raw)
	}
	if closing == 0 {
		return nil, &ParseError{Line: 1, Reason: ErrUnterminatedFrontmatter.Error()}
	}

	fm := &Frontmatter{Open: 1, Close: closing}
	if err := yaml.Unmarshal([]byte(strings.Join(body, "\n")), fm); err != nil {
		bad := &Frontmatter{Open: 1, Close: closing}
		return bad, &ParseError{Line: 1, Reason: fmt.Sprintf("invalid metadata header: %v", err)}
	}
	return fm, nil
}

// Field is one top-level key of a metadata header.
type Field struct {
	Key   string
	Value string
}

// WriteCounts sets the counters in the metadata header of text, touching only
// the two counter lines. Missing keys are appended to the header and a
// missing header is created. Task sections are never modified.
func WriteCounts(text string, c Counts) (string, error) {
	return WriteFields(text,
		Field{Key: KeyTotalTasks, Value: strconv.Itoa(c.Total)},
		Field{Key: KeyCompleted, Value: strconv.Itoa(c.Completed)},
	)
}

// WriteFields sets top-level scalar keys in the metadata header of text.
// Existing key lines are rewritten in place, missing keys are inserted before
// the closing delimiter and a missing header is created. Nothing outside the
// header changes.
func WriteFields(text string, fields ...Field) (string, error) {
	toks := Lex(text)

	if len(toks) == 0 || toks[0].Kind != TokenFrontmatterDelim {
		var b strings.Builder
		b.WriteString("---\n")
		for _, f := range fields {
			fmt.Fprintf(&b, "%s: %s\n", f.Key, f.Value)
		}
		b.WriteString("---\n\n")
		return b.String() + text, nil
	}

	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.Key] = f.Value
	}

	lines := util.Lines(text)
	closeIdx := -1
	written := make(map[string]bool, len(fields))
	for i := 1; i < len(toks); i++ {
		tok := toks[i]
		if tok.Kind == TokenFrontmatterDelim {
			closeIdx = i
			break
		}
		key, ok := topLevelKey(tok.Raw)
		if !ok {
			continue
		}
		v, tracked := values[key]
		if !tracked || written[key] {
			continue
		}
		written[key] = true
		lines[i] = key + ": " + v + util.EOL(lines[i])
	}
	if closeIdx < 0 {
		return text, ErrUnterminatedFrontmatter
	}

	eol := util.EOL(lines[0])
	if eol == "" {
		eol = "\n"
	}
	var insert []string
	for _, f := range fields {
		if !written[f.Key] {
			insert = append(insert, f.Key+": "+f.Value+eol)
		}
	}

	out := make([]string, 0, len(lines)+len(insert))
	out = append(out, lines[:closeIdx]...)
	out = append(out, insert...)
	out = append(out, lines[closeIdx:]...)
	return strings.Join(out, ""), nil
}

func topLevelKey(raw string) (string, bool) {
	if raw == "" || raw[0] == ' ' || raw[0] == '\t' || raw[0] == '#' {
		return "", false
	}
	i := strings.IndexByte(raw, ':')
	if i <= 0 {
		return "", false
	}
	return strings.TrimSpace(raw[:i]), true
}

// DecodeHeader unmarshals the metadata header of text into v. It reports
// false when text has no header.
func DecodeHeader(text string, v any) (bool, error) {
	toks := Lex(text)
	if len(toks) == 0 || toks[0].Kind != TokenFrontmatterDelim {
		return false, nil
	}
	var body []string
	for _, tok := range toks[1:] {
		if tok.Kind == TokenFrontmatterDelim {
			if err := yaml.Unmarshal([]byte(strings.Join(body, "\n")), v); err != nil {
				return true, fmt.Errorf("decode metadata header: %w", err)
			}
			return true, nil
		}
		body = append(body, tok.Raw)
	}
	return true, ErrUnterminatedFrontmatter
}
