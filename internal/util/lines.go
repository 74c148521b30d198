package util

import "strings"

// Lines splits text into lines, keeping each line's terminator so that
// joining the result reproduces the input byte for byte.
func Lines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.SplitAfter(text, "\n")
}

// TrimEOL strips a trailing "\n" or "\r\n".
func TrimEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// EOL returns the terminator of line ("\r\n", "\n" or "").
func EOL(line string) string {
	switch {
	case strings.HasSuffix(line, "\r\n"):
		return "\r\n"
	case strings.HasSuffix(line, "\n"):
		return "\n"
	default:
		return ""
	}
}

// ReplaceLine swaps the body of the zero-based line idx for body, keeping the
// original terminator. Out-of-range indexes leave text unchanged.
func ReplaceLine(text string, idx int, body string) string {
	lines := Lines(text)
	if idx < 0 || idx >= len(lines) {
		return text
	}
	lines[idx] = body + EOL(lines[idx])
	return strings.Join(lines, "")
}
