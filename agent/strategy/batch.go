package strategy

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/idle"
	"github.com/kardolus/shellpilot/agent/types"
	"go.uber.org/zap"
)

// BatchStrategy runs each command on an isolated exec channel. Output is only
// known once the channel closes.
type BatchStrategy struct {
	shell  RemoteShell
	clock  core.Clock
	logger *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[*Handle]struct{}
	disposed bool
}

func NewBatchStrategy(shell RemoteShell, opts ...Option) *BatchStrategy {
	o := defaultOptions(opts)
	return &BatchStrategy{
		shell:    shell,
		clock:    o.clock,
		logger:   o.logger,
		inflight: map[*Handle]struct{}{},
	}
}

func (b *BatchStrategy) Execute(ctx context.Context, command string, cfg ExecConfig) (*Handle, error) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil, ErrDisposed
	}
	h := newHandle()
	b.inflight[h] = struct{}{}
	b.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	aborted := make(chan struct{})
	var abortOnce sync.Once
	h.abort = func() { abortOnce.Do(func() { close(aborted) }) }

	im := idle.New(cfg.Idle, func() string { return "" }, cfg.idle, idle.WithClock(b.clock), idle.WithLogger(b.logger))
	h.resetHard = im.ResetHardTimer

	type outcome struct {
		res ExecResult
		err error
	}
	results := make(chan outcome, 1)

	start := b.clock.Now()
	im.Start()
	go func() {
		res, err := b.shell.ExecOneShot(runCtx, command)
		results <- outcome{res: res, err: err}
	}()

	go func() {
		defer cancel()
		defer im.Dispose()

		timedOut := make(chan struct{})
		t := b.clock.AfterFunc(cfg.timeout(), func() { close(timedOut) })
		defer t.Stop()

		r := types.CommandResult{Command: command, Timestamp: start}
		select {
		case o := <-results:
			if o.err != nil {
				r.ExitCode = types.ExitTransport
				r.Stderr = o.err.Error()
				r.Stdout = o.res.Stdout
			} else {
				r.ExitCode = o.res.ExitCode
				r.Stdout = o.res.Stdout
				r.Stderr = o.res.Stderr
			}
		case <-timedOut:
			r.ExitCode = types.ExitTimeout
			r.TimedOut = true
			r.Stderr = fmt.Sprintf("command timed out after %s", cfg.timeout())
		case <-aborted:
			r.ExitCode = types.ExitInterrupted
			r.Stderr = "command aborted"
		case <-ctx.Done():
			r.ExitCode = types.ExitInterrupted
			r.Stderr = "command cancelled: " + ctx.Err().Error()
		}

		r.Stdout, r.Truncated = capBytes(r.Stdout, cfg.MaxOutputBytes)
		r.Duration = b.clock.Now().Sub(start)
		cfg.output(r.Stdout)

		b.mu.Lock()
		delete(b.inflight, h)
		b.mu.Unlock()

		h.resolve(r)
		b.logger.Debugf("batch command=%q exit=%d duration=%s", command, r.ExitCode, r.Duration)
	}()

	return h, nil
}

func (b *BatchStrategy) Dispose() {
	b.mu.Lock()
	b.disposed = true
	handles := make([]*Handle, 0, len(b.inflight))
	for h := range b.inflight {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	for _, h := range handles {
		h.Abort()
	}
}

// capBytes keeps the first max bytes of s without splitting a rune.
func capBytes(s string, max int) (string, bool) {
	if max <= 0 || len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
