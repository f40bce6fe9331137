package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/llm"
)

//go:generate mockgen -destination=../executor/assessormocks_test.go -package=executor_test github.com/kardolus/shellpilot/agent/brain Assessor
type Assessor interface {
	Assess(ctx context.Context, step types.Step, result types.CommandResult) (types.Assessment, error)
}

// LLMAssessor asks the model whether a command achieved its step.
type LLMAssessor struct {
	llm llm.LLM
}

var _ Assessor = (*LLMAssessor)(nil)

func NewLLMAssessor(l llm.LLM) *LLMAssessor {
	return &LLMAssessor{llm: l}
}

const assessSystemPrompt = `You judge whether a shell command achieved its step.
Return ONLY a JSON object:
{"succeeded": true|false, "confidence": "high"|"medium"|"low", "reason": "one sentence",
 "next_action": "continue"|"retry"|"revise-plan"|"ask-user"|"abort"}
A non-zero exit code is usually a failure unless the output shows the goal was met (e.g. "already installed").`

func (a *LLMAssessor) Assess(ctx context.Context, step types.Step, result types.CommandResult) (types.Assessment, error) {
	if a.llm == nil {
		return types.Assessment{}, llm.ErrNoProvider
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "Step: %s\nCommand: %s\nExit code: %d\nTimed out: %t\n", step.Description, result.Command, result.ExitCode, result.TimedOut)
	if step.ExpectedOutput != "" {
		fmt.Fprintf(&msg, "Expected output: %s\n", step.ExpectedOutput)
	}
	fmt.Fprintf(&msg, "Output:\n%s\n", tail(strings.TrimSpace(result.Stdout), promptOutputBytes))
	if s := strings.TrimSpace(result.Stderr); s != "" {
		fmt.Fprintf(&msg, "Stderr:\n%s\n", tail(s, promptOutputBytes))
	}

	out, err := a.llm.Complete(ctx, assessSystemPrompt, []llm.Message{{Role: llm.UserRole, Content: msg.String()}})
	if err != nil {
		return types.Assessment{}, err
	}
	return ParseAssessment(out.Text)
}

type assessmentJSON struct {
	Succeeded  *bool  `json:"succeeded"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
	NextAction string `json:"next_action"`
}

func ParseAssessment(raw string) (types.Assessment, error) {
	obj, err := extractJSON(raw)
	if err != nil {
		return types.Assessment{}, err
	}
	var aj assessmentJSON
	if err := json.Unmarshal([]byte(obj), &aj); err != nil {
		return types.Assessment{}, fmt.Errorf("invalid json: %w", err)
	}
	if aj.Succeeded == nil {
		return types.Assessment{}, fmt.Errorf("assessment missing succeeded")
	}

	out := types.Assessment{Succeeded: *aj.Succeeded, Reason: strings.TrimSpace(aj.Reason)}

	switch c := types.Confidence(strings.ToLower(strings.TrimSpace(aj.Confidence))); c {
	case types.ConfidenceHigh, types.ConfidenceMedium, types.ConfidenceLow:
		out.Confidence = c
	default:
		out.Confidence = types.ConfidenceMedium
	}

	switch n := types.NextAction(strings.ToLower(strings.TrimSpace(aj.NextAction))); n {
	case types.NextContinue, types.NextRetry, types.NextRevisePlan, types.NextAskUser, types.NextAbort:
		out.NextAction = n
	default:
		out.NextAction = types.NextRetry
		if out.Succeeded {
			out.NextAction = types.NextContinue
		}
	}
	return out, nil
}

// HeuristicAssessment judges a result by its exit code alone.
func HeuristicAssessment(r types.CommandResult) types.Assessment {
	if r.ExitCode == 0 && !r.TimedOut {
		return types.Assessment{
			Succeeded:  true,
			Confidence: types.ConfidenceLow,
			Reason:     "exit code 0",
			NextAction: types.NextContinue,
		}
	}
	reason := fmt.Sprintf("exit code %d", r.ExitCode)
	if r.TimedOut {
		reason = "command timed out"
	}
	return types.Assessment{
		Succeeded:  false,
		Confidence: types.ConfidenceLow,
		Reason:     reason,
		NextAction: types.NextRetry,
	}
}
