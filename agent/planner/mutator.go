package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/internal"
)

const MaxProtoSteps = 3

var ErrStepNotFound = errors.New("step not found")

// Mutator edits an in-flight plan. Every edit returns a new plan value; the
// input plan is never modified.
type Mutator struct {
	classifier risk.Classifier
	budget     core.Budget
	newID      func() string
}

type MutatorOption func(*Mutator)

func WithIDGenerator(fn func() string) MutatorOption {
	return func(m *Mutator) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewMutator builds a mutator. A nil budget leaves inserted steps uncapped.
func NewMutator(classifier risk.Classifier, budget core.Budget, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		classifier: classifier,
		budget:     budget,
		newID:      func() string { return internal.GenerateUniqueSlug("agent-") },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ReplaceStepCommand swaps the command of one step and reclassifies it. The
// rest of the step is left as it was.
func (m *Mutator) ReplaceStepCommand(plan types.Plan, stepID, command string) (types.Plan, error) {
	idx := plan.StepIndex(stepID)
	if idx < 0 {
		return plan, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return plan, errors.New("replacement command is empty")
	}

	out := plan.Clone()
	out.Steps[idx].Command = command
	out.Steps[idx].Risk = m.classify(command)
	return out, nil
}

// InsertStepsBefore splices up to MaxProtoSteps new steps in front of stepID
// and re-indexes the plan. It returns the number actually inserted, which is
// zero when stepID is unknown or no proto step carries a command.
func (m *Mutator) InsertStepsBefore(plan types.Plan, stepID string, protos []types.ProtoStep) (types.Plan, int, error) {
	idx := plan.StepIndex(stepID)
	if idx < 0 {
		return plan, 0, nil
	}

	var valid []types.ProtoStep
	for _, p := range protos {
		if strings.TrimSpace(p.Command) == "" {
			continue
		}
		valid = append(valid, p)
		if len(valid) == MaxProtoSteps {
			break
		}
	}
	if len(valid) == 0 {
		return plan, 0, nil
	}

	n := len(valid)
	if m.budget != nil {
		granted, err := m.budget.ReserveInsertedSteps(n)
		if err != nil {
			return plan, 0, err
		}
		n = granted
	}
	valid = valid[:n]

	inserted := make([]types.Step, 0, n)
	for _, p := range valid {
		cmd := strings.TrimSpace(p.Command)
		desc := strings.TrimSpace(p.Description)
		if desc == "" {
			desc = cmd
		}
		inserted = append(inserted, types.Step{
			ID:             m.newID(),
			Description:    desc,
			Command:        cmd,
			Risk:           m.classify(cmd),
			Status:         types.StepPending,
			ExpectedOutput: strings.TrimSpace(p.ExpectedOutput),
			Origin:         types.OriginAgent,
		})
	}

	out := plan.Clone()
	steps := make([]types.Step, 0, len(out.Steps)+n)
	steps = append(steps, out.Steps[:idx]...)
	steps = append(steps, inserted...)
	steps = append(steps, out.Steps[idx:]...)
	for i := range steps {
		steps[i].Index = i
	}
	out.Steps = steps
	return out, n, nil
}

func (m *Mutator) classify(command string) types.RiskAssessment {
	if m.classifier == nil {
		return types.RiskAssessment{Level: types.RiskCaution, Category: risk.CategoryUnknown, Reason: "not classified"}
	}
	return m.classifier.Classify(command)
}
