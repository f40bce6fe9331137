package strategy

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/idle"
	"github.com/kardolus/shellpilot/agent/stream"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/internal"
)

const interruptByte = "\x03"

// WithShell names the remote login shell; it decides the detection mode.
func WithShell(name string) Option {
	return func(o *options) { o.shellName = name }
}

// WithPromptPattern overrides the regular expression a prompt must match.
func WithPromptPattern(p string) Option {
	return func(o *options) { o.promptPattern = p }
}

// WithEcho says whether the session echoes typed input back.
func WithEcho(on bool) Option {
	return func(o *options) { o.echo = on }
}

// WithTag fixes the dual-signal marker tag instead of generating one.
func WithTag(tag string) Option {
	return func(o *options) { o.tag = tag }
}

// WithNonce fixes the boundary marker prefix instead of generating one.
func WithNonce(nonce string) Option {
	return func(o *options) { o.nonce = nonce }
}

func WithInterruptGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.interruptGrace = d
		}
	}
}

func WithSetupTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.setupTimeout = d
		}
	}
}

// LiveSessionStrategy types commands into an open interactive session where
// stdout and stderr arrive merged, as on a real terminal.
type LiveSessionStrategy struct {
	shell RemoteShell
	opts  options

	mu       sync.Mutex
	protocol stream.Protocol
	running  *liveRun
	disposed bool
}

func NewLiveSessionStrategy(shell RemoteShell, opts ...Option) *LiveSessionStrategy {
	o := defaultOptions(opts)
	if o.tag == "" {
		o.tag = internal.GenerateUniqueSlug("sp")
	}
	if o.nonce == "" {
		o.nonce = internal.GenerateUniqueSlug("b")
	}
	return &LiveSessionStrategy{
		shell:    shell,
		opts:     o,
		protocol: stream.NewBoundary(o.nonce),
	}
}

// Setup selects the detection mode once per session. Known shells get the
// prompt hook, which is verified by waiting for its first marker; anything
// else, or a failed verification, falls back to boundary markers.
func (l *LiveSessionStrategy) Setup(ctx context.Context) (stream.Mode, error) {
	logger := l.opts.logger

	if !stream.SupportsDualSignal(l.opts.shellName) {
		logger.Debugf("shell %q has no prompt hook, using boundary markers", l.opts.shellName)
		return l.useBoundary(), nil
	}

	var prompt *regexp.Regexp
	if l.opts.promptPattern != "" {
		re, err := regexp.Compile(l.opts.promptPattern)
		if err != nil {
			return "", fmt.Errorf("invalid prompt pattern %q: %w", l.opts.promptPattern, err)
		}
		prompt = re
	}

	dual, err := stream.NewDualSignal(l.opts.shellName, l.opts.tag, prompt, stream.WithEcho(l.opts.echo))
	if err != nil {
		return l.useBoundary(), nil
	}

	l.mu.Lock()
	l.protocol = dual
	l.mu.Unlock()

	h, err := l.Execute(ctx, dual.SetupCommand(), ExecConfig{Timeout: l.opts.setupTimeout})
	if err != nil {
		return "", err
	}
	res := h.Wait()
	if res.TimedOut || res.ExitCode == types.ExitInterrupted || res.ExitCode == types.ExitTransport {
		logger.Warnf("prompt hook verification failed (exit=%d), using boundary markers", res.ExitCode)
		return l.useBoundary(), nil
	}

	logger.Debugf("prompt hook verified for %s", l.opts.shellName)
	return stream.ModeDualSignal, nil
}

func (l *LiveSessionStrategy) useBoundary() stream.Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.protocol = stream.NewBoundary(l.opts.nonce)
	return stream.ModeBoundary
}

func (l *LiveSessionStrategy) Mode() stream.Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.protocol.Mode()
}

func (l *LiveSessionStrategy) Execute(ctx context.Context, command string, cfg ExecConfig) (*Handle, error) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return nil, ErrDisposed
	}
	if l.running != nil {
		l.mu.Unlock()
		return nil, ErrBusy
	}
	wire, parser := l.protocol.Prepare(command, cfg.MaxOutputBytes)
	run := &liveRun{
		owner:   l,
		command: command,
		cfg:     cfg,
		parser:  parser,
		dual:    l.protocol.Mode() == stream.ModeDualSignal,
		buf:     core.NewOutputBuffer(bufferSize(cfg.MaxOutputBytes)),
		handle:  newHandle(),
		start:   l.opts.clock.Now(),
	}
	l.running = run
	l.mu.Unlock()

	run.start0(ctx, wire)
	return run.handle, nil
}

// Dispose aborts an in-flight command. While idle it still sends an interrupt
// so no half-typed input is left on the line.
func (l *LiveSessionStrategy) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	run := l.running
	l.mu.Unlock()

	if run != nil {
		run.interrupt(types.ExitInterrupted, "session disposed")
		return
	}
	if err := l.shell.WriteRaw([]byte(interruptByte)); err != nil {
		l.opts.logger.Debugf("interrupt on dispose failed: %v", err)
	}
}

func bufferSize(max int) int {
	if max <= 0 {
		return core.DefaultMaxOutputBytes
	}
	return max
}

func (l *LiveSessionStrategy) release(run *liveRun) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running == run {
		l.running = nil
	}
}

type liveRun struct {
	owner   *LiveSessionStrategy
	command string
	cfg     ExecConfig
	parser  stream.Parser
	dual    bool
	buf     *core.OutputBuffer
	handle  *Handle
	start   time.Time

	mu           sync.Mutex
	finished     bool
	interrupting bool
	removeObs    func()
	idle         *idle.Manager
	timer        core.Timer
	stopWatch    chan struct{}
}

func (r *liveRun) start0(ctx context.Context, wire string) {
	o := r.owner.opts

	r.stopWatch = make(chan struct{})
	r.idle = idle.New(r.cfg.Idle, func() string { return r.buf.Tail(tailBytes) }, r.cfg.idle,
		idle.WithClock(o.clock), idle.WithLogger(o.logger))
	r.handle.abort = func() { r.interrupt(types.ExitInterrupted, "command aborted") }
	r.handle.resetHard = r.idle.ResetHardTimer

	r.mu.Lock()
	r.removeObs = r.owner.shell.AddOutputObserver(r.observe)
	r.timer = o.clock.AfterFunc(r.cfg.timeout(), func() {
		r.interrupt(types.ExitTimeout, fmt.Sprintf("command timed out after %s", r.cfg.timeout()))
	})
	r.mu.Unlock()

	r.idle.Start()

	go func() {
		select {
		case <-ctx.Done():
			r.interrupt(types.ExitInterrupted, "command cancelled: "+ctx.Err().Error())
		case <-r.stopWatch:
		}
	}()

	if err := r.owner.shell.WriteRaw([]byte(wire + "\n")); err != nil {
		r.finish(types.ExitTransport, "write to session failed: "+err.Error(), false)
	}
}

func (r *liveRun) observe(chunk []byte) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	res := r.parser.Feed(chunk)
	interrupting := r.interrupting
	r.mu.Unlock()

	if len(chunk) > 0 {
		r.idle.Touch()
	}
	if res.NewContent != "" {
		r.buf.AppendString(res.NewContent)
		r.cfg.output(res.NewContent)
	}
	if !res.Complete {
		return
	}
	if r.dual && r.cfg.OnPrompt != nil {
		r.cfg.OnPrompt()
	}
	if interrupting {
		// the interrupt path resolves with its own code once the grace period ends
		return
	}
	r.finish(res.ExitCode, "", false)
}

// interrupt sends ^C and resolves with code after a short grace period, so the
// shell can settle and late output is still captured.
func (r *liveRun) interrupt(code int, reason string) {
	r.mu.Lock()
	if r.finished || r.interrupting {
		r.mu.Unlock()
		return
	}
	r.interrupting = true
	r.mu.Unlock()

	o := r.owner.opts
	if err := r.owner.shell.WriteRaw([]byte(interruptByte)); err != nil {
		o.logger.Debugf("interrupt failed: %v", err)
	}

	timedOut := code == types.ExitTimeout
	if o.interruptGrace <= 0 {
		r.finish(code, reason, timedOut)
		return
	}
	o.clock.AfterFunc(o.interruptGrace, func() { r.finish(code, reason, timedOut) })
}

func (r *liveRun) finish(code int, stderr string, timedOut bool) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	remove := r.removeObs
	timer := r.timer
	output := r.parser.Output()
	truncated := r.parser.Truncated()
	r.mu.Unlock()

	if remove != nil {
		remove()
	}
	if timer != nil {
		timer.Stop()
	}
	r.idle.Dispose()
	close(r.stopWatch)
	r.owner.release(r)

	o := r.owner.opts
	result := types.CommandResult{
		Command:   r.command,
		ExitCode:  code,
		Stdout:    output,
		Stderr:    stderr,
		Duration:  o.clock.Now().Sub(r.start),
		TimedOut:  timedOut,
		Truncated: truncated,
		Timestamp: r.start,
	}
	o.logger.Debugf("live command=%q exit=%d duration=%s", r.command, code, result.Duration)
	r.handle.resolve(result)
}
