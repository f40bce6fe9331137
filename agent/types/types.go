package types

import (
	"time"
)

type ExecutionMode string

const (
	ModeManual         ExecutionMode = "manual"
	ModeLinear         ExecutionMode = "linear"
	ModeSelfCorrecting ExecutionMode = "self_correcting"
)

func ParseExecutionMode(s string) (ExecutionMode, bool) {
	switch ExecutionMode(s) {
	case ModeManual, ModeLinear, ModeSelfCorrecting:
		return ExecutionMode(s), true
	case "":
		return ModeSelfCorrecting, true
	}
	return "", false
}

type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanPaused    PlanStatus = "paused"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepRunning          StepStatus = "running"
	StepCompleted        StepStatus = "completed"
	StepFailed           StepStatus = "failed"
	StepSkipped          StepStatus = "skipped"
	StepAwaitingApproval StepStatus = "awaiting_approval"
)

type StepOrigin string

const (
	OriginPlanned StepOrigin = "planned"
	OriginAgent   StepOrigin = "agent"
)

type Plan struct {
	ID           string     `json:"id" yaml:"id"`
	Goal         string     `json:"goal" yaml:"goal"`
	Steps        []Step     `json:"steps" yaml:"steps"`
	CurrentIndex int        `json:"current_index" yaml:"current_index"`
	Status       PlanStatus `json:"status" yaml:"status"`
	Rollback     []string   `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// Clone returns a deep copy; mutations on the copy never reach the original.
func (p Plan) Clone() Plan {
	out := p
	if p.Steps != nil {
		out.Steps = make([]Step, len(p.Steps))
		copy(out.Steps, p.Steps)
	}
	if p.Rollback != nil {
		out.Rollback = append([]string(nil), p.Rollback...)
	}
	return out
}

// StepIndex returns the position of the step with the given id, or -1.
func (p Plan) StepIndex(id string) int {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

type Step struct {
	ID             string         `json:"id" yaml:"id"`
	Index          int            `json:"index" yaml:"index"`
	Description    string         `json:"description" yaml:"description"`
	Command        string         `json:"command" yaml:"command"`
	Risk           RiskAssessment `json:"risk" yaml:"risk"`
	Status         StepStatus     `json:"status" yaml:"status"`
	ExpectedOutput string         `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
	VerifyCommand  string         `json:"verify_command,omitempty" yaml:"verify_command,omitempty"`
	Origin         StepOrigin     `json:"origin,omitempty" yaml:"origin,omitempty"`
}

type CommandResult struct {
	Command   string        `json:"command"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Duration  time.Duration `json:"duration"`
	TimedOut  bool          `json:"timed_out"`
	Truncated bool          `json:"truncated,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	ExitNotRun      = -1
	ExitTimeout     = 124
	ExitInterrupted = 130
	ExitTransport   = 255
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type NextAction string

const (
	NextContinue   NextAction = "continue"
	NextRetry      NextAction = "retry"
	NextRevisePlan NextAction = "revise-plan"
	NextAskUser    NextAction = "ask-user"
	NextAbort      NextAction = "abort"
)

type Assessment struct {
	Succeeded  bool       `json:"succeeded"`
	Confidence Confidence `json:"confidence"`
	Reason     string     `json:"reason"`
	NextAction NextAction `json:"next_action"`
}

type StepResult struct {
	StepID     string        `json:"step_id"`
	StepIndex  int           `json:"step_index"`
	Attempt    int           `json:"attempt"`
	Result     CommandResult `json:"result"`
	Assessment Assessment    `json:"assessment"`
	// Skipped is set when the step was intentionally not run (approval "skip").
	Skipped bool `json:"skipped,omitempty"`
}

type CorrectionAction string

const (
	ActionRetry       CorrectionAction = "retry"
	ActionModify      CorrectionAction = "modify"
	ActionInsertSteps CorrectionAction = "insert_steps"
	ActionSkip        CorrectionAction = "skip"
	ActionAbort       CorrectionAction = "abort"
	// ActionWait is only produced by stall analysis.
	ActionWait CorrectionAction = "wait"
)

type ProtoStep struct {
	Description    string `json:"description" yaml:"description"`
	Command        string `json:"command" yaml:"command"`
	ExpectedOutput string `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
}

type AgentCorrection struct {
	Action    CorrectionAction `json:"action"`
	Reasoning string           `json:"reasoning"`
	Command   string           `json:"command,omitempty"`
	Steps     []ProtoStep      `json:"steps,omitempty"`
}

type IdleEvent struct {
	Silence time.Duration `json:"silence"`
	Tail    string        `json:"tail"`
}

func (e IdleEvent) SilenceSeconds() float64 {
	return e.Silence.Seconds()
}

type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
	DecisionSkip    ApprovalDecision = "skip"
)

type ApprovalRequest struct {
	StepID    string    `json:"step_id"`
	Command   string    `json:"command"`
	RiskLevel RiskLevel `json:"risk_level"`
	Warning   string    `json:"warning,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// SessionInfo describes the remote session a plan runs against.
type SessionInfo struct {
	Host  string `json:"host"`
	User  string `json:"user"`
	Shell string `json:"shell"`
	OS    string `json:"os,omitempty"`
}
