package events

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kardolus/shellpilot/agent/types"
)

// ConsoleSink streams command output verbatim and prints every other event
// on its own line.
type ConsoleSink struct {
	mu         sync.Mutex
	out        io.Writer
	showOutput bool
	midLine    bool
}

func NewConsoleSink(out io.Writer, showOutput bool) *ConsoleSink {
	return &ConsoleSink{out: out, showOutput: showOutput}
}

func (c *ConsoleSink) Publish(ev types.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Kind == types.EventOutput {
		if !c.showOutput || ev.Chunk == "" {
			return
		}
		_, _ = io.WriteString(c.out, ev.Chunk)
		c.midLine = !strings.HasSuffix(ev.Chunk, "\n")
		return
	}
	if ev.Kind == types.EventIdleWarning || ev.Kind == types.EventPromptDetected {
		return
	}

	if c.midLine {
		_, _ = io.WriteString(c.out, "\n")
		c.midLine = false
	}
	_, _ = fmt.Fprintln(c.out, Format(ev))
}
