package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/types"
)

// ValidationError reports a proposal or plan file that cannot become a plan.
type ValidationError struct {
	Index   int // -1 for plan-level problems
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid plan: %s %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid plan: step %d %s %s", e.Index, e.Field, e.Message)
}

type proposal struct {
	Goal     string         `json:"goal" yaml:"goal"`
	Steps    []proposedStep `json:"steps" yaml:"steps"`
	Rollback []string       `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

type proposedStep struct {
	ID               string `json:"id,omitempty" yaml:"id,omitempty"`
	Description      string `json:"description" yaml:"description"`
	Command          string `json:"command" yaml:"command"`
	RiskLevel        string `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	RiskReason       string `json:"risk_reason,omitempty" yaml:"risk_reason,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	Warning          string `json:"warning,omitempty" yaml:"warning,omitempty"`
	ExpectedOutput   string `json:"expected_output,omitempty" yaml:"expected_output,omitempty"`
	VerifyCommand    string `json:"verify_command,omitempty" yaml:"verify_command,omitempty"`
}

// ParseProposal turns a planner reply into a validated plan.
func ParseProposal(raw, fallbackGoal string, classifier risk.Classifier) (types.Plan, error) {
	raw = cleanPlannerOutput(raw)
	if raw == "" {
		return types.Plan{}, errors.New("planner returned empty response")
	}

	var p proposal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return types.Plan{}, fmt.Errorf("failed to parse planner JSON: %w", err)
	}
	if strings.TrimSpace(p.Goal) == "" {
		p.Goal = fallbackGoal
	}
	return buildPlan(p, classifier)
}

func cleanPlannerOutput(raw string) string {
	raw = strings.TrimSpace(raw)

	// If wrapped in ```...```
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)

		// Remove optional language tag (only if the first line IS a language tag)
		if i := strings.IndexByte(raw, '\n'); i != -1 {
			firstLine := strings.ToLower(strings.TrimSpace(raw[:i]))
			if firstLine == "json" || firstLine == "application/json" {
				raw = raw[i+1:]
			}
		}

		raw = strings.TrimSpace(raw)
		raw = strings.TrimSuffix(raw, "```")
		raw = strings.TrimSpace(raw)
	}

	// prose around the object
	if !strings.HasPrefix(raw, "{") {
		start, end := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}')
		if start >= 0 && end > start {
			raw = raw[start : end+1]
		}
	}

	return raw
}

// buildPlan validates p and assigns ids, indices and risk. Each step's risk is
// the stricter of the classifier's verdict and the reported one.
func buildPlan(p proposal, classifier risk.Classifier) (types.Plan, error) {
	goal := strings.TrimSpace(p.Goal)
	if goal == "" {
		return types.Plan{}, ValidationError{Index: -1, Field: "goal", Message: "is missing"}
	}
	if len(p.Steps) == 0 {
		return types.Plan{}, ValidationError{Index: -1, Field: "steps", Message: "are empty"}
	}

	plan := types.Plan{
		ID:     uuid.New().String(),
		Goal:   goal,
		Status: types.PlanPending,
		Steps:  make([]types.Step, 0, len(p.Steps)),
	}
	for _, rb := range p.Rollback {
		if rb = strings.TrimSpace(rb); rb != "" {
			plan.Rollback = append(plan.Rollback, rb)
		}
	}

	seen := map[string]bool{}
	for i, s := range p.Steps {
		cmd := strings.TrimSpace(s.Command)
		if cmd == "" {
			return types.Plan{}, ValidationError{Index: i, Field: "command", Message: "is missing"}
		}
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			desc = cmd
		}
		id := strings.TrimSpace(s.ID)
		if id == "" {
			id = fmt.Sprintf("step-%d", i+1)
		}
		if seen[id] {
			return types.Plan{}, ValidationError{Index: i, Field: "id", Message: fmt.Sprintf("%q is duplicated", id)}
		}
		seen[id] = true

		reported := types.RiskAssessment{
			Level:            types.RiskLevel(strings.ToLower(strings.TrimSpace(s.RiskLevel))),
			Reason:           strings.TrimSpace(s.RiskReason),
			RequiresApproval: s.RequiresApproval,
			Warning:          strings.TrimSpace(s.Warning),
		}

		plan.Steps = append(plan.Steps, types.Step{
			ID:             id,
			Index:          i,
			Description:    desc,
			Command:        cmd,
			Risk:           risk.Stricter(classifier.Classify(cmd), reported),
			Status:         types.StepPending,
			ExpectedOutput: strings.TrimSpace(s.ExpectedOutput),
			VerifyCommand:  strings.TrimSpace(s.VerifyCommand),
			Origin:         types.OriginPlanned,
		})
	}
	return plan, nil
}

func toProposal(plan types.Plan) proposal {
	p := proposal{Goal: plan.Goal, Rollback: plan.Rollback}
	for _, s := range plan.Steps {
		p.Steps = append(p.Steps, proposedStep{
			ID:               s.ID,
			Description:      s.Description,
			Command:          s.Command,
			RiskLevel:        string(s.Risk.Level),
			RiskReason:       s.Risk.Reason,
			RequiresApproval: s.Risk.RequiresApproval,
			Warning:          s.Risk.Warning,
			ExpectedOutput:   s.ExpectedOutput,
			VerifyCommand:    s.VerifyCommand,
		})
	}
	return p
}
