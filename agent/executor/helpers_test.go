package executor_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/strategy"
	"github.com/kardolus/shellpilot/agent/types"
)

type execFunc func(ctx context.Context, command string, cfg strategy.ExecConfig) (*strategy.Handle, error)

func succeed(stdout string) execFunc {
	return finish(0, stdout)
}

func finish(exit int, stdout string) execFunc {
	return func(_ context.Context, command string, cfg strategy.ExecConfig) (*strategy.Handle, error) {
		if cfg.OnOutput != nil && stdout != "" {
			cfg.OnOutput(stdout)
		}
		return strategy.NewResolvedHandle(types.CommandResult{
			Command:   command,
			ExitCode:  exit,
			Stdout:    stdout,
			Duration:  10 * time.Millisecond,
			Timestamp: time.Now(),
		}), nil
	}
}

func newPlan(c risk.Classifier, commands ...string) types.Plan {
	p := types.Plan{ID: "plan-1", Goal: "keep the app running", Status: types.PlanPending}
	for i, cmd := range commands {
		p.Steps = append(p.Steps, types.Step{
			ID:          fmt.Sprintf("s%d", i+1),
			Index:       i,
			Description: "run " + cmd,
			Command:     cmd,
			Risk:        c.Classify(cmd),
			Status:      types.StepPending,
			Origin:      types.OriginPlanned,
		})
	}
	return p
}

type recorder struct {
	mu     sync.Mutex
	events []types.ProgressEvent
}

func (r *recorder) emit(ev types.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []types.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) count(kind types.EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last() types.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) first(kind types.EventKind) (types.ProgressEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return types.ProgressEvent{}, false
}

func terminalCount(kinds []types.EventKind) int {
	n := 0
	for _, k := range kinds {
		if k.Terminal() {
			n++
		}
	}
	return n
}
