package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/llm"
	"go.uber.org/zap"
)

const (
	MaxInsertedSteps = 3

	promptOutputBytes = 3000
)

// Analyzer decides how to recover from a failed or stalled step. It never
// returns an error: anything unexpected becomes an abort with a diagnostic.
//
//go:generate mockgen -destination=../executor/analyzermocks_test.go -package=executor_test github.com/kardolus/shellpilot/agent/brain Analyzer
type Analyzer interface {
	AnalyzeFailure(ctx context.Context, step types.Step, result types.StepResult, history *Context) types.AgentCorrection
	AnalyzeStall(ctx context.Context, step types.Step, idle types.IdleEvent, history *Context) types.AgentCorrection
}

type Brain struct {
	llm    llm.LLM
	logger *zap.SugaredLogger
}

var _ Analyzer = (*Brain)(nil)

func New(l llm.LLM, logger *zap.SugaredLogger) *Brain {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Brain{llm: l, logger: logger}
}

const failureSystemPrompt = `You are the recovery module of an agent that runs shell commands on a remote host.
A step failed. Decide the single next action.

Return ONLY a JSON object:
{"action": "retry" | "modify" | "insert_steps" | "skip" | "abort",
 "reasoning": "one or two sentences",
 "command": "replacement command (modify, optional for retry)",
 "steps": [{"description": "...", "command": "...", "expected_output": "..."}]}

Rules:
- retry: the failure looks transient; the same command runs again.
- modify: the command itself is wrong; give the corrected command.
- insert_steps: something is missing first (a package, a directory); give 1 to 3 steps that run before the failed one.
- skip: the step is not needed for the goal.
- abort: the goal cannot be reached safely or you are unsure.
- Never propose destructive commands to make a step pass.`

const stallSystemPrompt = `You are the recovery module of an agent that runs shell commands on a remote host.
The running command has produced no output for a while. Its latest output is shown.
Decide the single next action.

Return ONLY a JSON object:
{"action": "wait" | "retry" | "modify" | "insert_steps" | "skip" | "abort",
 "reasoning": "one or two sentences",
 "command": "replacement command (modify)",
 "steps": [{"description": "...", "command": "...", "expected_output": "..."}]}

Rules:
- wait: the command is still making progress (downloads, builds, migrations).
- modify: the command is waiting for input; give a non-interactive variant (e.g. add -y, DEBIAN_FRONTEND=noninteractive).
- Any action other than wait interrupts the running command.`

func (b *Brain) AnalyzeFailure(ctx context.Context, step types.Step, result types.StepResult, history *Context) (out types.AgentCorrection) {
	defer b.recoverTo(&out)

	r := result.Result
	var msg strings.Builder
	writeSituation(&msg, step, history)
	fmt.Fprintf(&msg, "Attempt: %d\nExit code: %d\nTimed out: %t\n", result.Attempt, r.ExitCode, r.TimedOut)
	if s := strings.TrimSpace(r.Stdout); s != "" {
		fmt.Fprintf(&msg, "Output:\n%s\n", tail(s, promptOutputBytes))
	}
	if s := strings.TrimSpace(r.Stderr); s != "" {
		fmt.Fprintf(&msg, "Stderr:\n%s\n", tail(s, promptOutputBytes))
	}
	if a := result.Assessment.Reason; a != "" {
		fmt.Fprintf(&msg, "Assessment: %s\n", a)
	}

	return b.decide(ctx, failureSystemPrompt, msg.String(), false)
}

func (b *Brain) AnalyzeStall(ctx context.Context, step types.Step, idle types.IdleEvent, history *Context) (out types.AgentCorrection) {
	defer b.recoverTo(&out)

	var msg strings.Builder
	writeSituation(&msg, step, history)
	fmt.Fprintf(&msg, "Silent for: %.0f seconds\n", idle.SilenceSeconds())
	if s := strings.TrimSpace(idle.Tail); s != "" {
		fmt.Fprintf(&msg, "Latest output:\n%s\n", tail(s, promptOutputBytes))
	} else {
		msg.WriteString("Latest output: (none)\n")
	}

	return b.decide(ctx, stallSystemPrompt, msg.String(), true)
}

func (b *Brain) recoverTo(out *types.AgentCorrection) {
	if r := recover(); r != nil {
		b.logger.Warnf("brain: recovered from panic: %v", r)
		*out = abort(fmt.Sprintf("internal error during analysis: %v", r))
	}
}

func writeSituation(b *strings.Builder, step types.Step, history *Context) {
	if history != nil && history.Goal() != "" {
		fmt.Fprintf(b, "Goal: %s\n", history.Goal())
	}
	fmt.Fprintf(b, "History:\n%s\n\n", history.Render())
	fmt.Fprintf(b, "Step %d: %s\nCommand: %s\n", step.Index+1, step.Description, step.Command)
	if step.ExpectedOutput != "" {
		fmt.Fprintf(b, "Expected output: %s\n", step.ExpectedOutput)
	}
}

func (b *Brain) decide(ctx context.Context, system, message string, stall bool) types.AgentCorrection {
	if b.llm == nil {
		return abort("no language model configured; cannot analyze the failure")
	}

	out, err := b.llm.Complete(ctx, system, []llm.Message{{Role: llm.UserRole, Content: message}})
	if err != nil {
		b.logger.Debugf("brain: llm error=%v", err)
		return abort(fmt.Sprintf("language model unavailable: %v", err))
	}

	c, err := ParseCorrection(out.Text, stall)
	if err != nil {
		b.logger.Debugf("brain: unusable reply=%q err=%v", tail(out.Text, 500), err)
		return abort(fmt.Sprintf("could not understand the recovery decision: %v", err))
	}
	b.logger.Debugf("brain: action=%s reasoning=%q", c.Action, c.Reasoning)
	return c
}

type correctionJSON struct {
	Action    string            `json:"action"`
	Reasoning string            `json:"reasoning"`
	Command   string            `json:"command"`
	Steps     []types.ProtoStep `json:"steps"`
}

// ParseCorrection turns a model reply into a correction that is either fully
// valid or an abort. wait is accepted only when stall is set.
func ParseCorrection(raw string, stall bool) (types.AgentCorrection, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return types.AgentCorrection{}, err
	}
	var cj correctionJSON
	if err := json.Unmarshal([]byte(obj), &cj); err != nil {
		return types.AgentCorrection{}, fmt.Errorf("invalid json: %w", err)
	}

	reasoning := strings.TrimSpace(cj.Reasoning)
	if reasoning == "" {
		reasoning = "no reasoning given"
	}
	action := types.CorrectionAction(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(cj.Action)), "-", "_"))
	command := strings.TrimSpace(cj.Command)

	switch action {
	case types.ActionRetry:
		return types.AgentCorrection{Action: action, Reasoning: reasoning, Command: command}, nil
	case types.ActionModify:
		if command == "" {
			return abort("modify without a replacement command: " + reasoning), nil
		}
		return types.AgentCorrection{Action: action, Reasoning: reasoning, Command: command}, nil
	case types.ActionInsertSteps:
		steps := validProtoSteps(cj.Steps)
		if len(steps) == 0 {
			return abort("insert_steps without any valid step: " + reasoning), nil
		}
		return types.AgentCorrection{Action: action, Reasoning: reasoning, Steps: steps}, nil
	case types.ActionSkip, types.ActionAbort:
		return types.AgentCorrection{Action: action, Reasoning: reasoning}, nil
	case types.ActionWait:
		if stall {
			return types.AgentCorrection{Action: action, Reasoning: reasoning}, nil
		}
	}
	return abort(fmt.Sprintf("unknown action %q: %s", cj.Action, reasoning)), nil
}

func validProtoSteps(in []types.ProtoStep) []types.ProtoStep {
	var out []types.ProtoStep
	for _, p := range in {
		cmd := strings.TrimSpace(p.Command)
		if cmd == "" {
			continue
		}
		desc := strings.TrimSpace(p.Description)
		if desc == "" {
			desc = cmd
		}
		out = append(out, types.ProtoStep{Description: desc, Command: cmd, ExpectedOutput: strings.TrimSpace(p.ExpectedOutput)})
		if len(out) == MaxInsertedSteps {
			break
		}
	}
	return out
}

func abort(reason string) types.AgentCorrection {
	return types.AgentCorrection{Action: types.ActionAbort, Reasoning: reason}
}
