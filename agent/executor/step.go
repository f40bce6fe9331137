package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/kardolus/shellpilot/agent/approval"
	"github.com/kardolus/shellpilot/agent/brain"
	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/idle"
	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/types"
	"go.uber.org/zap"
)

const verifyTailBytes = 300

// StepExecutor runs a single step: risk check, approval, execution,
// optional verification and assessment.
type StepExecutor struct {
	classifier risk.Classifier
	gate       approval.Gate
	commands   *CommandExecutor
	assessor   brain.Assessor
	clock      core.Clock
	logger     *zap.SugaredLogger
}

type StepOption func(*StepExecutor)

// WithAssessor enables outcome assessment; without one the exit code decides.
func WithAssessor(a brain.Assessor) StepOption {
	return func(s *StepExecutor) {
		s.assessor = a
	}
}

func WithStepClock(c core.Clock) StepOption {
	return func(s *StepExecutor) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithStepLogger(l *zap.SugaredLogger) StepOption {
	return func(s *StepExecutor) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStepExecutor builds a step executor. A nil gate rejects every request.
func NewStepExecutor(classifier risk.Classifier, gate approval.Gate, commands *CommandExecutor, opts ...StepOption) *StepExecutor {
	s := &StepExecutor{
		classifier: classifier,
		gate:       gate,
		commands:   commands,
		clock:      core.NewRealClock(),
		logger:     zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *StepExecutor) Commands() *CommandExecutor { return s.commands }

// ExecuteStep always returns a result; every outcome is also reported
// through emit. onIdle, if set, sees the running command's idle events.
func (s *StepExecutor) ExecuteStep(ctx context.Context, step types.Step, attempt int, emit types.Emitter, onIdle func(idle.Event)) types.StepResult {
	ev := func(kind types.EventKind) types.ProgressEvent {
		return types.ProgressEvent{Kind: kind, Time: s.clock.Now(), StepID: step.ID, StepIndex: step.Index, Attempt: attempt}
	}
	out := types.StepResult{StepID: step.ID, StepIndex: step.Index, Attempt: attempt}

	assessment := s.assessRisk(step)
	s.logger.Debugf("step: id=%q attempt=%d risk=%s category=%s", step.ID, attempt, assessment.Level, assessment.Category)

	if assessment.Blocked() {
		out.Result = s.notRun(step.Command, "blocked: "+assessment.Reason)
		out.Assessment = types.Assessment{
			Confidence: types.ConfidenceHigh,
			Reason:     "command blocked: " + assessment.Reason,
			NextAction: types.NextRevisePlan,
		}
		e := ev(types.EventStepFailed)
		e.Message = out.Assessment.Reason
		e.Risk = &assessment
		e.Result = &out
		emit.Emit(e)
		return out
	}

	if assessment.NeedsApproval() {
		decision := s.requestApproval(ctx, step, assessment, emit, ev)
		switch decision {
		case types.DecisionSkip:
			out.Skipped = true
			out.Result = s.notRun(step.Command, "skipped by user")
			out.Assessment = types.Assessment{
				Confidence: types.ConfidenceHigh,
				Reason:     "skipped by user",
				NextAction: types.NextContinue,
			}
			e := ev(types.EventStepSkipped)
			e.Message = out.Assessment.Reason
			e.Result = &out
			emit.Emit(e)
			return out
		case types.DecisionApprove:
		default:
			out.Result = s.notRun(step.Command, "rejected by user")
			out.Assessment = types.Assessment{
				Confidence: types.ConfidenceHigh,
				Reason:     "rejected by user",
				NextAction: types.NextAskUser,
			}
			e := ev(types.EventStepFailed)
			e.Message = out.Assessment.Reason
			e.Result = &out
			emit.Emit(e)
			return out
		}
	}

	started := ev(types.EventStepStarted)
	started.Message = step.Description
	started.Risk = &assessment
	emit.Emit(started)

	out.Result = s.commands.Execute(ctx, step.Command, s.callbacks(emit, ev, onIdle))

	verifyFailure := ""
	if out.Result.ExitCode == 0 && !out.Result.TimedOut && step.VerifyCommand != "" && ctx.Err() == nil {
		verifyFailure = s.verify(ctx, step, emit, ev)
	}

	switch {
	case verifyFailure != "":
		out.Assessment = types.Assessment{
			Confidence: types.ConfidenceHigh,
			Reason:     verifyFailure,
			NextAction: types.NextRetry,
		}
	case s.assessor == nil || ctx.Err() != nil:
		out.Assessment = brain.HeuristicAssessment(out.Result)
	default:
		a, err := s.assessor.Assess(ctx, step, out.Result)
		if err != nil {
			s.logger.Debugf("step: assessment failed, falling back to exit code: %v", err)
			a = brain.HeuristicAssessment(out.Result)
		}
		out.Assessment = a
	}

	kind := types.EventStepCompleted
	if !out.Assessment.Succeeded {
		kind = types.EventStepFailed
	}
	e := ev(kind)
	e.Message = out.Assessment.Reason
	e.Result = &out
	emit.Emit(e)
	return out
}

// assessRisk reclassifies the command; the stored assessment can only raise the level.
func (s *StepExecutor) assessRisk(step types.Step) types.RiskAssessment {
	if s.classifier == nil {
		return step.Risk
	}
	return risk.Stricter(s.classifier.Classify(step.Command), step.Risk)
}

func (s *StepExecutor) requestApproval(ctx context.Context, step types.Step, a types.RiskAssessment, emit types.Emitter, ev func(types.EventKind) types.ProgressEvent) types.ApprovalDecision {
	needed := ev(types.EventApprovalNeeded)
	needed.Message = step.Command
	needed.Risk = &a
	emit.Emit(needed)

	decision := types.DecisionReject
	if s.gate != nil {
		d, err := s.gate.RequestApproval(ctx, types.ApprovalRequest{
			StepID:    step.ID,
			Command:   step.Command,
			RiskLevel: a.Level,
			Warning:   a.Warning,
			Reason:    a.Reason,
		})
		if err != nil {
			s.logger.Debugf("step: approval failed: %v", err)
		} else {
			decision = d
		}
	}

	received := ev(types.EventApprovalReceived)
	received.Decision = &decision
	received.Message = string(decision)
	emit.Emit(received)
	return decision
}

func (s *StepExecutor) callbacks(emit types.Emitter, ev func(types.EventKind) types.ProgressEvent, onIdle func(idle.Event)) Callbacks {
	return Callbacks{
		OnOutput: func(chunk string) {
			e := ev(types.EventOutput)
			e.Chunk = chunk
			emit.Emit(e)
		},
		OnPrompt: func() {
			emit.Emit(ev(types.EventPromptDetected))
		},
		OnIdle: func(i idle.Event) {
			kind := types.EventIdleWarning
			if i.Kind == idle.KindStalled {
				kind = types.EventIdleStalled
			}
			e := ev(kind)
			e.Idle = &i.Idle
			e.Message = fmt.Sprintf("no output for %.0fs", i.Idle.SilenceSeconds())
			emit.Emit(e)
			if onIdle != nil {
				onIdle(i)
			}
		},
	}
}

// verify runs the step's verification command and returns a failure reason,
// or "" when it passed or could not be run safely.
func (s *StepExecutor) verify(ctx context.Context, step types.Step, emit types.Emitter, ev func(types.EventKind) types.ProgressEvent) string {
	if s.classifier != nil {
		if a := s.classifier.Classify(step.VerifyCommand); a.Blocked() || a.NeedsApproval() {
			s.logger.Debugf("step: verification %q not run, risk=%s", step.VerifyCommand, a.Level)
			return ""
		}
	}

	res := s.commands.ExecuteAside(ctx, step.VerifyCommand, Callbacks{
		OnOutput: func(chunk string) {
			e := ev(types.EventOutput)
			e.Chunk = chunk
			emit.Emit(e)
		},
	})
	if res.ExitCode == 0 && !res.TimedOut {
		return ""
	}

	reason := fmt.Sprintf("verification `%s` failed with exit code %d", step.VerifyCommand, res.ExitCode)
	if t := strings.TrimSpace(lastBytes(res.Stdout+res.Stderr, verifyTailBytes)); t != "" {
		reason += ": " + t
	}
	return reason
}

func (s *StepExecutor) notRun(command, stderr string) types.CommandResult {
	return types.CommandResult{
		Command:   command,
		ExitCode:  types.ExitNotRun,
		Stderr:    stderr,
		Timestamp: s.clock.Now(),
	}
}

func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
