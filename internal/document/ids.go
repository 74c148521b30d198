package document

import (
	"fmt"
	"strconv"
	"strings"
)

// scanDigits returns the leading ASCII digits of s.
func scanDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// scanSuffix returns a single uppercase origin tag at the start of s, if any.
// A letter followed by more letters is a word, not a tag.
func scanSuffix(s string) string {
	if len(s) == 0 || s[0] < 'A' || s[0] > 'Z' {
		return ""
	}
	if len(s) > 1 && (s[1] >= 'A' && s[1] <= 'Z' || s[1] >= 'a' && s[1] <= 'z') {
		return ""
	}
	return s[:1]
}

// ScanTaskID reads a task id ("T-001", "T-007E") from the start of s and
// returns the remainder.
func ScanTaskID(s string) (id string, external bool, rest string, ok bool) {
	if !strings.HasPrefix(s, "T-") {
		return "", false, s, false
	}
	digits := scanDigits(s[2:])
	if digits == "" {
		return "", false, s, false
	}
	n := 2 + len(digits)
	suffix := scanSuffix(s[n:])
	n += len(suffix)
	return s[:n], suffix != "", s[n:], true
}

// ACID is a parsed acceptance-criterion identifier such as "AC-US3E-02".
type ACID struct {
	Story    int
	External bool
	Seq      string
}

// UserStoryID returns the story the AC belongs to ("US-003", "US-003E").
func (a ACID) UserStoryID() string {
	id := fmt.Sprintf("US-%03d", a.Story)
	if a.External {
		id += "E"
	}
	return id
}

// ScanACID reads an AC id from the start of s.
func ScanACID(s string) (id string, parsed ACID, rest string, ok bool) {
	if !strings.HasPrefix(s, "AC-US") {
		return "", ACID{}, s, false
	}
	n := len("AC-US")
	story := scanDigits(s[n:])
	if story == "" {
		return "", ACID{}, s, false
	}
	n += len(story)
	suffix := ""
	if n < len(s) && s[n] >= 'A' && s[n] <= 'Z' {
		suffix = s[n : n+1]
		n++
	}
	if n >= len(s) || s[n] != '-' {
		return "", ACID{}, s, false
	}
	n++
	seq := scanDigits(s[n:])
	if seq == "" {
		return "", ACID{}, s, false
	}
	n += len(seq)
	// Reject "AC-US1-01X" style trailing identifier characters.
	if n < len(s) && isIDChar(s[n]) {
		return "", ACID{}, s, false
	}
	storyNum, err := strconv.Atoi(story)
	if err != nil {
		return "", ACID{}, s, false
	}
	return s[:n], ACID{Story: storyNum, External: suffix != "", Seq: seq}, s[n:], true
}

func isIDChar(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-'
}

// SplitACList extracts every AC id from an association value such as
// "AC-US1-01, AC-US1-02" or "**AC-US2-01** AC-US2-02". Duplicates are dropped.
func SplitACList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	seen := make(map[string]bool, len(fields))
	var ids []string
	for _, f := range fields {
		f = strings.TrimRight(stripEmphasis(f), ".)")
		f = strings.TrimLeft(f, "(")
		id, _, rest, ok := ScanACID(f)
		if !ok || rest != "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
