package types

import "time"

type EventKind string

// The closed set of progress events a run can produce.
const (
	EventStepStarted      EventKind = "step_started"
	EventStepCompleted    EventKind = "step_completed"
	EventStepFailed       EventKind = "step_failed"
	EventStepSkipped      EventKind = "step_skipped"
	EventOutput           EventKind = "output"
	EventApprovalNeeded   EventKind = "approval_needed"
	EventApprovalReceived EventKind = "approval_received"
	EventPlanStarted      EventKind = "plan_started"
	EventPlanCompleted    EventKind = "plan_completed"
	EventPlanCancelled    EventKind = "plan_cancelled"
	EventPlanFailed       EventKind = "plan_failed"
	EventPlanRevised      EventKind = "plan_revised"
	EventPlanPaused       EventKind = "plan_paused"
	EventPlanResumed      EventKind = "plan_resumed"
	EventAgentThinking    EventKind = "agent_thinking"
	EventAgentStuck       EventKind = "agent_stuck"
	EventBudgetWarning    EventKind = "budget_warning"
	EventBudgetExhausted  EventKind = "budget_exhausted"
	EventRetryAttempt     EventKind = "retry_attempt"
	EventIdleWarning      EventKind = "idle_warning"
	EventIdleStalled      EventKind = "idle_stalled"
	EventPromptDetected   EventKind = "prompt_detected"
)

// Terminal reports whether the event ends a run.
func (k EventKind) Terminal() bool {
	switch k {
	case EventPlanCompleted, EventPlanCancelled, EventPlanFailed, EventBudgetExhausted:
		return true
	}
	return false
}

type ProgressEvent struct {
	Kind       EventKind         `json:"kind"`
	Time       time.Time         `json:"time"`
	PlanID     string            `json:"plan_id,omitempty"`
	StepID     string            `json:"step_id,omitempty"`
	StepIndex  int               `json:"step_index"`
	Attempt    int               `json:"attempt"`
	Message    string            `json:"message,omitempty"`
	Chunk      string            `json:"chunk,omitempty"`
	Result     *StepResult       `json:"result,omitempty"`
	Correction *AgentCorrection  `json:"correction,omitempty"`
	Idle       *IdleEvent        `json:"idle,omitempty"`
	Risk       *RiskAssessment   `json:"risk,omitempty"`
	Decision   *ApprovalDecision `json:"decision,omitempty"`
}

type Emitter func(ProgressEvent)

// Emit tolerates a nil emitter.
func (e Emitter) Emit(ev ProgressEvent) {
	if e == nil {
		return
	}
	e(ev)
}
