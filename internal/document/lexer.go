package document

import (
	"strings"

	"github.com/randalmurphal/incsync/internal/util"
)

// TokenKind classifies one line of a document.
type TokenKind int

const (
	TokenBlank TokenKind = iota
	TokenText
	TokenHeading
	TokenListItem
	TokenField
	TokenCode
	TokenFrontmatterDelim
	TokenFrontmatter
)

func (k TokenKind) String() string {
	switch k {
	case TokenBlank:
		return "blank"
	case TokenText:
		return "text"
	case TokenHeading:
		return "heading"
	case TokenListItem:
		return "list"
	case TokenField:
		return "field"
	case TokenCode:
		return "code"
	case TokenFrontmatterDelim:
		return "frontmatter-delim"
	case TokenFrontmatter:
		return "frontmatter"
	default:
		return "unknown"
	}
}

// Box is the state of a markdown checkbox.
type Box int

const (
	BoxNone Box = iota
	BoxOpen
	BoxChecked
)

// Token is one classified line.
type Token struct {
	Kind TokenKind
	Line int    // 1-based
	Raw  string // line without terminator

	// Heading
	Level int

	// List item
	Indent int
	Box    Box
	BoxCol int // byte offset of '[' in Raw, -1 without a box

	// Heading, list item and text content with markers removed
	Text string

	// Field
	Key   string
	Value string
}

// Lex splits text into one token per line. Fenced code blocks become
// TokenCode and a leading "---" block becomes frontmatter.
func Lex(text string) []Token {
	lines := util.Lines(text)
	toks := make([]Token, 0, len(lines))

	inFrontmatter := false
	inFence := false
	fence := ""

	for i, l := range lines {
		raw := util.TrimEOL(l)
		tok := Token{Line: i + 1, Raw: raw, BoxCol: -1}
		trimmed := strings.TrimSpace(raw)

		switch {
		case i == 0 && trimmed == "---":
			tok.Kind = TokenFrontmatterDelim
			inFrontmatter = true
		case inFrontmatter:
			if trimmed == "---" {
				tok.Kind = TokenFrontmatterDelim
				inFrontmatter = false
			} else {
				tok.Kind = TokenFrontmatter
			}
		case inFence:
			tok.Kind = TokenCode
			if strings.HasPrefix(trimmed, fence) {
				inFence = false
			}
		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			tok.Kind = TokenCode
			inFence = true
			fence = trimmed[:3]
		default:
			lexLine(&tok, raw)
		}
		toks = append(toks, tok)
	}
	return toks
}

func lexLine(tok *Token, raw string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		tok.Kind = TokenBlank
		return
	}
	if level, text, ok := scanHeading(trimmed); ok {
		tok.Kind = TokenHeading
		tok.Level = level
		tok.Text = text
		return
	}
	if indent, rest, offset, ok := scanBullet(raw); ok {
		if box, text, ok := scanBox(rest); ok {
			tok.Kind = TokenListItem
			tok.Indent = indent
			tok.Box = box
			tok.BoxCol = offset
			tok.Text = text
			return
		}
		if key, value, ok := scanField(rest); ok {
			tok.Kind = TokenField
			tok.Key = key
			tok.Value = value
			return
		}
		tok.Kind = TokenListItem
		tok.Indent = indent
		tok.Text = strings.TrimSpace(rest)
		return
	}
	if key, value, ok := scanField(trimmed); ok {
		tok.Kind = TokenField
		tok.Key = key
		tok.Value = value
		return
	}
	tok.Kind = TokenText
	tok.Text = trimmed
}

func scanHeading(s string) (int, string, bool) {
	level := 0
	for level < len(s) && s[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	if level < len(s) && s[level] != ' ' && s[level] != '\t' {
		return 0, "", false
	}
	return level, strings.TrimSpace(s[level:]), true
}

// scanBullet recognizes "-", "*" or "+" list markers. offset is the byte
// position in raw where rest begins.
func scanBullet(raw string) (indent int, rest string, offset int, ok bool) {
	i := 0
	for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t') {
		if raw[i] == '\t' {
			indent += 4
		} else {
			indent++
		}
		i++
	}
	if i+1 >= len(raw) {
		return 0, "", 0, false
	}
	switch raw[i] {
	case '-', '*', '+':
	default:
		return 0, "", 0, false
	}
	if raw[i+1] != ' ' && raw[i+1] != '\t' {
		return 0, "", 0, false
	}
	j := i + 1
	for j < len(raw) && (raw[j] == ' ' || raw[j] == '\t') {
		j++
	}
	return indent, raw[j:], j, true
}

// scanBox recognizes "[ ]", "[x]" and "[X]" followed by space or end of line.
func scanBox(s string) (Box, string, bool) {
	if len(s) < 3 || s[0] != '[' || s[2] != ']' {
		return BoxNone, "", false
	}
	if len(s) > 3 && s[3] != ' ' && s[3] != '\t' {
		return BoxNone, "", false
	}
	switch s[1] {
	case ' ':
		return BoxOpen, strings.TrimSpace(s[3:]), true
	case 'x', 'X':
		return BoxChecked, strings.TrimSpace(s[3:]), true
	}
	return BoxNone, "", false
}

const maxFieldKeyLen = 32

// scanField recognizes "Key: value" with optional emphasis around the key,
// e.g. "**Status**: done" or "**AC:** AC-US1-01".
func scanField(s string) (string, string, bool) {
	s = strings.TrimLeft(s, "*_")
	end := strings.IndexByte(s, ':')
	if end <= 0 || end > maxFieldKeyLen+4 {
		return "", "", false
	}
	key := strings.TrimRight(s[:end], "*_")
	if key == "" || len(key) > maxFieldKeyLen {
		return "", "", false
	}
	for _, r := range key {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == ' ' || r == '-') {
			return "", "", false
		}
	}
	value := strings.TrimLeft(s[end+1:], "*_")
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

// stripEmphasis removes surrounding "*", "_" and "`" decoration.
func stripEmphasis(s string) string {
	return strings.Trim(strings.TrimSpace(s), "*_`")
}

// SetCheckbox returns raw with its list checkbox set to checked. Lines
// without a checkbox are returned unchanged.
func SetCheckbox(raw string, checked bool) string {
	_, rest, offset, ok := scanBullet(raw)
	if !ok {
		return raw
	}
	if _, _, ok := scanBox(rest); !ok {
		return raw
	}
	mark := byte(' ')
	if checked {
		mark = 'x'
	}
	b := []byte(raw)
	b[offset+1] = mark
	return string(b)
}
