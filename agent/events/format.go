package events

import (
	"fmt"
	"strings"

	"github.com/kardolus/shellpilot/agent/types"
)

// Format renders one event as a transcript line. Output chunks render as
// their raw text.
func Format(ev types.ProgressEvent) string {
	step := fmt.Sprintf("step %d [%s]", ev.StepIndex+1, ev.StepID)

	switch ev.Kind {
	case types.EventOutput:
		return ev.Chunk
	case types.EventPlanStarted:
		return "Plan started: " + ev.Message
	case types.EventPlanCompleted:
		return "Plan completed: " + ev.Message
	case types.EventPlanFailed:
		return "Plan failed: " + ev.Message
	case types.EventPlanCancelled:
		return "Plan cancelled: " + ev.Message
	case types.EventPlanPaused:
		return fmt.Sprintf("Paused before step %d", ev.StepIndex+1)
	case types.EventPlanResumed:
		return "Resumed"
	case types.EventPlanRevised:
		return fmt.Sprintf("Plan revised at %s: %s", step, ev.Message)
	case types.EventStepStarted:
		line := fmt.Sprintf("Running %s: %s", step, ev.Message)
		if ev.Risk != nil {
			line += fmt.Sprintf(" (risk: %s)", ev.Risk.Level)
		}
		return line
	case types.EventStepCompleted:
		return fmt.Sprintf("Completed %s%s", step, durationSuffix(ev))
	case types.EventStepFailed:
		return fmt.Sprintf("Failed %s: %s%s", step, ev.Message, durationSuffix(ev))
	case types.EventStepSkipped:
		return fmt.Sprintf("Skipped %s: %s", step, ev.Message)
	case types.EventApprovalNeeded:
		line := fmt.Sprintf("Approval needed for %s: %s", step, ev.Message)
		if ev.Risk != nil && ev.Risk.Warning != "" {
			line += " (" + ev.Risk.Warning + ")"
		}
		return line
	case types.EventApprovalReceived:
		return fmt.Sprintf("Decision for %s: %s", step, ev.Message)
	case types.EventRetryAttempt:
		return fmt.Sprintf("Retrying %s: %s", step, ev.Message)
	case types.EventAgentThinking:
		return fmt.Sprintf("Agent is %s for %s", ev.Message, step)
	case types.EventAgentStuck:
		return "Agent is stuck: " + ev.Message
	case types.EventBudgetWarning:
		return "Budget warning: " + ev.Message
	case types.EventBudgetExhausted:
		return "Budget exhausted: " + ev.Message
	case types.EventIdleWarning, types.EventIdleStalled:
		line := fmt.Sprintf("%s %s: %s", strings.ReplaceAll(string(ev.Kind), "_", " "), step, ev.Message)
		return strings.ToUpper(line[:1]) + line[1:]
	case types.EventPromptDetected:
		return fmt.Sprintf("Prompt detected in %s", step)
	}
	return fmt.Sprintf("%s: %s", ev.Kind, ev.Message)
}

func durationSuffix(ev types.ProgressEvent) string {
	if ev.Result == nil || ev.Result.Result.Duration <= 0 {
		return ""
	}
	return fmt.Sprintf(" in %s", ev.Result.Result.Duration.Round(1e6))
}
