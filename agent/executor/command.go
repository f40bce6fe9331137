package executor

import (
	"context"
	"sync"
	"time"

	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/idle"
	"github.com/kardolus/shellpilot/agent/strategy"
	"github.com/kardolus/shellpilot/agent/types"
)

type CommandConfig struct {
	Timeout        time.Duration
	MaxOutputBytes int
	Idle           idle.Config
}

type Callbacks struct {
	OnOutput func(chunk string)
	OnPrompt func()
	OnIdle   func(idle.Event)
}

// CommandExecutor runs one command at a time on a strategy and keeps the
// output seen so far.
type CommandExecutor struct {
	strategy strategy.Strategy
	cfg      CommandConfig
	clock    core.Clock

	mu     sync.Mutex
	handle *strategy.Handle
	output *core.OutputBuffer
}

func NewCommandExecutor(s strategy.Strategy, cfg CommandConfig, clock core.Clock) *CommandExecutor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = core.DefaultMaxOutputBytes
	}
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &CommandExecutor{
		strategy: s,
		cfg:      cfg,
		clock:    clock,
		output:   core.NewOutputBuffer(cfg.MaxOutputBytes),
	}
}

// Execute blocks until the command resolves. Strategy errors become a
// result with the transport exit code.
func (c *CommandExecutor) Execute(ctx context.Context, command string, cb Callbacks) types.CommandResult {
	c.output.Reset()
	return c.run(ctx, command, cb, true)
}

// ExecuteAside runs a follow-up command, such as a verification, and leaves
// the accumulated output of the previous command in place.
func (c *CommandExecutor) ExecuteAside(ctx context.Context, command string, cb Callbacks) types.CommandResult {
	return c.run(ctx, command, cb, false)
}

func (c *CommandExecutor) run(ctx context.Context, command string, cb Callbacks, accumulate bool) types.CommandResult {
	h, err := c.strategy.Execute(ctx, command, strategy.ExecConfig{
		Timeout:        c.cfg.Timeout,
		MaxOutputBytes: c.cfg.MaxOutputBytes,
		Idle:           c.cfg.Idle,
		OnOutput: func(chunk string) {
			if accumulate {
				c.output.AppendString(chunk)
			}
			if cb.OnOutput != nil {
				cb.OnOutput(chunk)
			}
		},
		OnPrompt: cb.OnPrompt,
		OnIdle:   cb.OnIdle,
	})
	if err != nil {
		return types.CommandResult{
			Command:   command,
			ExitCode:  types.ExitTransport,
			Stderr:    err.Error(),
			Timestamp: c.clock.Now(),
		}
	}

	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()

	res := h.Wait()

	c.mu.Lock()
	c.handle = nil
	c.mu.Unlock()

	return res
}

// Abort interrupts the running command, if any.
func (c *CommandExecutor) Abort() {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h != nil {
		h.Abort()
	}
}

func (c *CommandExecutor) ResetHardTimer() {
	c.mu.Lock()
	h := c.handle
	c.mu.Unlock()

	if h != nil {
		h.ResetHardTimer()
	}
}

func (c *CommandExecutor) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

func (c *CommandExecutor) AccumulatedOutput() string {
	return c.output.String()
}

func (c *CommandExecutor) Tail(n int) string {
	return c.output.Tail(n)
}

func (c *CommandExecutor) Dispose() {
	c.strategy.Dispose()
}
