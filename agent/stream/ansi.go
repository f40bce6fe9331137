package stream

import (
	"regexp"
	"strings"
)

const esc = 0x1b

// maxPendingEscape bounds how long an unterminated escape sequence is held back.
const maxPendingEscape = 256

var (
	ansiPattern = regexp.MustCompile(
		`\x1b[\]P^_][^\x07\x1b]*(?:\x07|\x1b\\)` + // OSC, DCS, PM, APC
			`|\x1b\[[0-?]*[ -/]*[@-~]` + // CSI
			`|\x1b[()*+][A-Za-z0-9]` + // charset selection
			`|\x1b[@-OQ-Z\\=>78c]`) // two-byte sequences

	ansiAtStart = regexp.MustCompile(`^(?:` + ansiPattern.String() + `)`)
)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	if strings.IndexByte(s, esc) < 0 {
		return s
	}
	return ansiPattern.ReplaceAllString(s, "")
}

// NormalizeNewlines turns CRLF into LF and leaves lone carriage returns alone.
func NormalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// Clean is StripANSI followed by NormalizeNewlines.
func Clean(s string) string {
	return NormalizeNewlines(StripANSI(s))
}

// escapeLen reports the length of the escape sequence s starts with. ok is
// false when more input is needed to decide.
func escapeLen(s string) (n int, ok bool) {
	if loc := ansiAtStart.FindStringIndex(s); loc != nil {
		return loc[1], true
	}
	if len(s) > maxPendingEscape {
		return 1, true
	}
	if len(s) < 2 {
		return 0, false
	}
	switch s[1] {
	case '[', ']', 'P', '^', '_', '(', ')', '*', '+':
		return 0, false
	}
	return 2, true
}

// incompleteEscapeStart returns the offset of a trailing unterminated escape
// sequence, or -1 when s ends cleanly.
func incompleteEscapeStart(s string) int {
	for i := 0; i < len(s); {
		j := strings.IndexByte(s[i:], esc)
		if j < 0 {
			return -1
		}
		i += j
		n, ok := escapeLen(s[i:])
		if !ok {
			return i
		}
		i += n
	}
	return -1
}

// safeBoundary returns how much of s can be emitted now: everything except an
// unterminated escape sequence and a trailing carriage return.
func safeBoundary(s string) int {
	end := len(s)
	if i := incompleteEscapeStart(s); i >= 0 {
		end = i
	}
	if end > 0 && s[end-1] == '\r' {
		end--
	}
	return end
}

// partialSuffixStart returns where the longest suffix of s that is a proper
// prefix of token begins, or len(s).
func partialSuffixStart(s, token string) int {
	max := len(token) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(token, s[len(s)-n:]) {
			return len(s) - n
		}
	}
	return len(s)
}

// rawOffset maps an offset in StripANSI(s) back to s. Escape sequences right
// at the mapped position stay in the remainder.
func rawOffset(s string, cleanOff int) int {
	n := 0
	for i := 0; i < len(s); {
		if n == cleanOff {
			return i
		}
		if s[i] == esc {
			if loc := ansiAtStart.FindStringIndex(s[i:]); loc != nil {
				i += loc[1]
				continue
			}
		}
		i++
		n++
	}
	return len(s)
}
