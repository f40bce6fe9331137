package stream

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
)

const boundaryPrefix = "__SP_"

// Boundary wraps every command between echoed start and end markers. It
// needs no session configuration and works with any POSIX-like shell.
type Boundary struct {
	nonce string
	seq   atomic.Uint64
}

func NewBoundary(nonce string) *Boundary {
	return &Boundary{nonce: sanitizeID(nonce)}
}

func (b *Boundary) Mode() Mode { return ModeBoundary }

func (b *Boundary) SetupCommand() string { return "" }

func (b *Boundary) Prepare(command string, maxBytes int) (string, Parser) {
	id := fmt.Sprintf("%s%d", b.nonce, b.seq.Add(1))
	return WrapBoundary(command, id), NewMarkerStreamParser(id, maxBytes)
}

// WrapBoundary renders the wrapped command. The command sits on lines of its
// own inside the group, so a trailing comment, a background & or a here-doc
// cannot swallow the end marker. The markers are split with an empty string
// so the shell's echo of the typed text never matches them.
func WrapBoundary(command, id string) string {
	cmd := strings.TrimSpace(command)
	return fmt.Sprintf("echo \"%s\"\"START_%s__\"; {\n%s\n} 2>&1; __sp_ec=$?; echo \"%s\"\"END_%s__:$__sp_ec\"",
		boundaryPrefix, id, cmd, boundaryPrefix, id)
}

func StartMarker(id string) string { return boundaryPrefix + "START_" + id + "__" }

func EndMarker(id string) string { return boundaryPrefix + "END_" + id + "__:" }

// MarkerStreamParser detects completion via the boundary markers.
type MarkerStreamParser struct {
	capture

	state    State
	start    *regexp.Regexp
	end      *regexp.Regexp
	endToken string
	pending  string
	exitCode int
}

func NewMarkerStreamParser(id string, maxBytes int) *MarkerStreamParser {
	return &MarkerStreamParser{
		capture:  newCapture(maxBytes),
		state:    StateSkipEcho,
		start:    regexp.MustCompile(regexp.QuoteMeta(StartMarker(id)) + `\r*\n`),
		end:      regexp.MustCompile(regexp.QuoteMeta(EndMarker(id)) + `(\d+)\r*\n`),
		endToken: EndMarker(id),
	}
}

func (m *MarkerStreamParser) State() State { return m.state }

func (m *MarkerStreamParser) Feed(chunk []byte) FeedResult {
	if m.state == StateDone || len(chunk) == 0 {
		return FeedResult{}
	}
	m.pending += string(chunk)

	if m.state == StateSkipEcho {
		clean := StripANSI(m.pending)
		loc := m.start.FindStringIndex(clean)
		if loc == nil {
			// keep just enough to recognise a marker split across chunks
			if keep := 2 * len(m.endToken); len(m.pending) > keep {
				m.pending = m.pending[len(m.pending)-keep:]
			}
			return FeedResult{}
		}
		m.pending = m.pending[rawOffset(m.pending, loc[1]):]
		m.state = StateCapturing
	}

	var res FeedResult
	if loc := m.end.FindStringSubmatchIndex(m.pending); loc != nil {
		res.NewContent = m.emit(m.pending[:loc[0]])
		m.exitCode, _ = strconv.Atoi(m.pending[loc[2]:loc[3]])
		m.pending = ""
		m.state = StateDone
		res.Complete = true
		res.ExitCode = m.exitCode
		return res
	}

	hold := len(m.pending)
	if i := strings.Index(m.pending, m.endToken); i >= 0 {
		hold = i
	} else {
		hold = partialSuffixStart(m.pending, m.endToken)
	}
	cut := safeBoundary(m.pending[:hold])
	res.NewContent = m.emit(m.pending[:cut])
	m.pending = m.pending[cut:]
	return res
}

func (m *MarkerStreamParser) ExitCode() int { return m.exitCode }

func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}
