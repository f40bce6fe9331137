package stream

import (
	"strings"
	"unicode/utf8"
)

type Mode string

const (
	ModeDualSignal Mode = "dual_signal"
	ModeBoundary   Mode = "boundary"
)

type State string

const (
	StateSkipEcho  State = "skip_echo"
	StateCapturing State = "capturing"
	StateDone      State = "done"
)

// Protocol isolates how completion is signalled on an interactive session.
type Protocol interface {
	Mode() Mode
	// SetupCommand is written once per session before the first command.
	// Empty when the protocol needs no session configuration.
	SetupCommand() string
	// Prepare returns the text to type for command and the parser that
	// recognises its completion.
	Prepare(command string, maxBytes int) (string, Parser)
}

// Parser turns a chunked terminal byte stream into output and a completion signal.
type Parser interface {
	Feed(chunk []byte) FeedResult
	State() State
	Output() string
	Raw() string
	Truncated() bool
}

type FeedResult struct {
	NewContent string
	// Complete is true exactly once, on the chunk that finished the command.
	Complete bool
	ExitCode int
}

// capture accumulates emitted output under a byte ceiling.
type capture struct {
	max       int
	out       strings.Builder
	raw       strings.Builder
	truncated bool
}

func newCapture(maxBytes int) capture {
	return capture{max: maxBytes}
}

// emit cleans a segment that is known not to end inside an escape sequence.
func (c *capture) emit(segment string) string {
	if segment == "" {
		return ""
	}
	switch {
	case c.max <= 0:
		c.raw.WriteString(segment)
	case c.raw.Len() < c.max:
		room := c.max - c.raw.Len()
		if len(segment) > room {
			c.raw.WriteString(segment[:room])
		} else {
			c.raw.WriteString(segment)
		}
	}

	clean := Clean(segment)
	if c.max <= 0 {
		c.out.WriteString(clean)
		return clean
	}

	room := c.max - c.out.Len()
	if room <= 0 {
		c.truncated = c.truncated || clean != ""
		return ""
	}
	if len(clean) > room {
		cut := room
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		clean = clean[:cut]
		c.truncated = true
	}
	c.out.WriteString(clean)
	return clean
}

func (c *capture) Output() string  { return c.out.String() }
func (c *capture) Raw() string     { return c.raw.String() }
func (c *capture) Truncated() bool { return c.truncated }
