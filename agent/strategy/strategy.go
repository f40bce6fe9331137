package strategy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/idle"
	"github.com/kardolus/shellpilot/agent/types"
	"go.uber.org/zap"
)

var (
	ErrBusy     = errors.New("a command is already running on this session")
	ErrDisposed = errors.New("strategy has been disposed")
)

// RemoteShell is the transport capability a strategy drives.
//
// Observers receive raw output chunks in order. A remove func must be safe to
// call from inside an observer callback.
//
//go:generate mockgen -destination=remoteshellmocks_test.go -package=strategy_test github.com/kardolus/shellpilot/agent/strategy RemoteShell
type RemoteShell interface {
	WriteRaw(p []byte) error
	AddOutputObserver(fn func([]byte)) (remove func())
	ExecOneShot(ctx context.Context, command string) (ExecResult, error)
}

type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

//go:generate mockgen -destination=../executor/strategymocks_test.go -package=executor_test github.com/kardolus/shellpilot/agent/strategy Strategy
type Strategy interface {
	Execute(ctx context.Context, command string, cfg ExecConfig) (*Handle, error)
	Dispose()
}

type ExecConfig struct {
	Timeout        time.Duration
	MaxOutputBytes int
	Idle           idle.Config

	OnOutput func(chunk string)
	OnPrompt func()
	OnIdle   func(idle.Event)
}

const (
	DefaultTimeout        = 300 * time.Second
	DefaultInterruptGrace = 500 * time.Millisecond
	DefaultSetupTimeout   = 5 * time.Second

	tailBytes = 2048
)

// Handle is one in-flight command. It resolves exactly once.
type Handle struct {
	done   chan struct{}
	once   sync.Once
	result types.CommandResult

	abort     func()
	resetHard func()
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{}), abort: func() {}, resetHard: func() {}}
}

// NewResolvedHandle returns a handle that is already done with r.
func NewResolvedHandle(r types.CommandResult) *Handle {
	h := newHandle()
	h.resolve(r)
	return h
}

func (h *Handle) resolve(r types.CommandResult) bool {
	resolved := false
	h.once.Do(func() {
		h.result = r
		resolved = true
		close(h.done)
	})
	return resolved
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the command resolves.
func (h *Handle) Wait() types.CommandResult {
	<-h.done
	return h.result
}

// Abort interrupts the command; it resolves with exit code 130.
func (h *Handle) Abort() { h.abort() }

// ResetHardTimer gives a stalled command another full stall window.
func (h *Handle) ResetHardTimer() { h.resetHard() }

func (c ExecConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c ExecConfig) output(s string) {
	if c.OnOutput != nil && s != "" {
		c.OnOutput(s)
	}
}

func (c ExecConfig) idle(ev idle.Event) {
	if c.OnIdle != nil {
		c.OnIdle(ev)
	}
}

type Option func(*options)

type options struct {
	clock          core.Clock
	logger         *zap.SugaredLogger
	shellName      string
	tag            string
	nonce          string
	promptPattern  string
	echo           bool
	interruptGrace time.Duration
	setupTimeout   time.Duration
}

func WithClock(c core.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func defaultOptions(opts []Option) options {
	o := options{
		clock:          core.NewRealClock(),
		logger:         zap.NewNop().Sugar(),
		echo:           true,
		interruptGrace: DefaultInterruptGrace,
		setupTimeout:   DefaultSetupTimeout,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
