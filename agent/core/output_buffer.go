package core

import (
	"sync"
	"unicode/utf8"
)

const (
	DefaultMaxOutputBytes = 2 * 1024 * 1024

	defaultTruncationBanner = "…(truncated)\n"
)

// OutputBuffer accumulates a command's output as a rolling window: once the
// cap is reached the oldest bytes are dropped and a banner marks the cut.
type OutputBuffer struct {
	mu        sync.Mutex
	max       int
	b         []byte
	banner    []byte
	truncated bool
}

func NewOutputBuffer(maxBytes int) *OutputBuffer {
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &OutputBuffer{
		max:    maxBytes,
		b:      make([]byte, 0, minInt(maxBytes, 4096)),
		banner: []byte(defaultTruncationBanner),
	}
}

func (o *OutputBuffer) AppendString(s string) {
	if o == nil || s == "" {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.max <= 0 {
		o.truncated = true
		return
	}
	o.b = append(o.b, s...)
	o.enforceCapLocked()
}

func (o *OutputBuffer) String() string {
	if o == nil {
		return ""
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return string(o.b)
}

// Tail returns at most n trailing bytes, never splitting a UTF-8 sequence.
func (o *OutputBuffer) Tail(n int) string {
	if o == nil || n <= 0 {
		return ""
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.b) <= n {
		return string(o.b)
	}
	start := len(o.b) - n
	for start < len(o.b) && !utf8.RuneStart(o.b[start]) {
		start++
	}
	return string(o.b[start:])
}

func (o *OutputBuffer) Len() int {
	if o == nil {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.b)
}

func (o *OutputBuffer) Truncated() bool {
	if o == nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.truncated
}

func (o *OutputBuffer) Reset() {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.b = o.b[:0]
	o.truncated = false
}

func (o *OutputBuffer) enforceCapLocked() {
	if len(o.b) <= o.max {
		return
	}
	o.truncated = true

	// Keep most recent bytes, leaving room for the banner when it fits.
	room := o.max
	if len(o.banner) < o.max {
		room -= len(o.banner)
	}
	keep := o.b[len(o.b)-room:]
	for len(keep) > 0 && !utf8.RuneStart(keep[0]) {
		keep = keep[1:]
	}

	tmp := make([]byte, 0, o.max)
	if len(o.banner) < o.max {
		tmp = append(tmp, o.banner...)
	}
	tmp = append(tmp, keep...)
	o.b = tmp
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
