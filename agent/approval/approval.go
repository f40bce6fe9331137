package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/kardolus/shellpilot/agent/types"
)

const maxPromptAttempts = 3

//go:generate mockgen -destination=../executor/gatemocks_test.go -package=executor_test github.com/kardolus/shellpilot/agent/approval Gate
type Gate interface {
	RequestApproval(ctx context.Context, req types.ApprovalRequest) (types.ApprovalDecision, error)
}

// StaticGate answers every request with the same decision.
type StaticGate struct {
	decision types.ApprovalDecision
}

func NewStaticGate(d types.ApprovalDecision) *StaticGate {
	return &StaticGate{decision: d}
}

func (g *StaticGate) RequestApproval(ctx context.Context, _ types.ApprovalRequest) (types.ApprovalDecision, error) {
	if err := ctx.Err(); err != nil {
		return types.DecisionReject, err
	}
	return g.decision, nil
}

type LineReader interface {
	Readline() (string, error)
	Close() error
}

// TerminalGate asks the operator on the terminal.
type TerminalGate struct {
	out       io.Writer
	newReader func(prompt string) (LineReader, error)
}

type TerminalOption func(*TerminalGate)

func WithOutput(w io.Writer) TerminalOption {
	return func(g *TerminalGate) {
		if w != nil {
			g.out = w
		}
	}
}

func WithLineReader(fn func(prompt string) (LineReader, error)) TerminalOption {
	return func(g *TerminalGate) {
		if fn != nil {
			g.newReader = fn
		}
	}
}

func NewTerminalGate(opts ...TerminalOption) *TerminalGate {
	g := &TerminalGate{
		out: os.Stderr,
		newReader: func(prompt string) (LineReader, error) {
			return readline.NewEx(&readline.Config{
				Prompt:          prompt,
				InterruptPrompt: "^C",
				EOFPrompt:       "reject",
			})
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// RequestApproval blocks until the operator answers or ctx is done. End of
// input and ^C count as a rejection.
func (g *TerminalGate) RequestApproval(ctx context.Context, req types.ApprovalRequest) (types.ApprovalDecision, error) {
	if err := ctx.Err(); err != nil {
		return types.DecisionReject, err
	}

	fmt.Fprintf(g.out, "\nApproval required for step %s (%s)\n  $ %s\n", req.StepID, req.RiskLevel, req.Command)
	if req.Reason != "" {
		fmt.Fprintf(g.out, "  reason:  %s\n", req.Reason)
	}
	if req.Warning != "" {
		fmt.Fprintf(g.out, "  warning: %s\n", req.Warning)
	}

	rl, err := g.newReader("[a]pprove / [r]eject / [s]kip > ")
	if err != nil {
		return types.DecisionReject, fmt.Errorf("failed to open prompt: %w", err)
	}

	type answer struct {
		decision types.ApprovalDecision
		err      error
	}
	ch := make(chan answer, 1)
	go func() {
		d, err := g.ask(rl)
		ch <- answer{d, err}
	}()

	select {
	case <-ctx.Done():
		_ = rl.Close()
		return types.DecisionReject, ctx.Err()
	case a := <-ch:
		_ = rl.Close()
		return a.decision, a.err
	}
}

func (g *TerminalGate) ask(rl LineReader) (types.ApprovalDecision, error) {
	for i := 0; i < maxPromptAttempts; i++ {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return types.DecisionReject, nil
			}
			return types.DecisionReject, err
		}
		if d, ok := ParseDecision(line); ok {
			return d, nil
		}
		fmt.Fprintln(g.out, "please answer a, r or s")
	}
	return types.DecisionReject, nil
}

func ParseDecision(s string) (types.ApprovalDecision, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a", "approve", "y", "yes":
		return types.DecisionApprove, true
	case "r", "reject", "n", "no":
		return types.DecisionReject, true
	case "s", "skip":
		return types.DecisionSkip, true
	}
	return "", false
}
