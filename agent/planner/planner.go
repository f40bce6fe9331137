package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/internal/fsio"
	"github.com/kardolus/shellpilot/llm"
	"go.uber.org/zap"
)

type Planner interface {
	Plan(ctx context.Context, goal string, session types.SessionInfo) (types.Plan, error)
}

type LoggingPlanner struct {
	inner  Planner
	log    *zap.SugaredLogger
	writer fsio.Writer

	// artifacts (overwritten every run)
	rawPath        string
	normalizedPath string
}

func NewLoggingPlanner(inner Planner, logs *core.Logs, writer fsio.Writer) *LoggingPlanner {
	lp := &LoggingPlanner{
		inner:  inner,
		log:    zap.NewNop().Sugar(),
		writer: writer,
	}

	if logs == nil {
		return lp
	}
	if logs.DebugLogger != nil {
		lp.log = logs.DebugLogger
	}
	if logs.Dir != "" && writer != nil {
		lp.rawPath = filepath.Join(logs.Dir, "plan.json")
		lp.normalizedPath = filepath.Join(logs.Dir, "plan.normalized.json")
	}
	return lp
}

func (p *LoggingPlanner) Plan(ctx context.Context, goal string, session types.SessionInfo) (types.Plan, error) {
	p.log.Debugf("planner: start goal_len=%d host=%s", len(strings.TrimSpace(goal)), session.Host)

	plan, err := p.inner.Plan(ctx, goal, session)
	if err != nil {
		p.log.Debugf("planner: error=%v", err)
		return types.Plan{}, err
	}

	p.writeNormalized(plan)

	p.log.Debugf("planner: ok steps=%d", len(plan.Steps))
	return plan, nil
}

// WriteRaw stores the unparsed planner reply. Failures are only logged.
func (p *LoggingPlanner) WriteRaw(raw string) {
	if p.rawPath == "" {
		return
	}
	if err := p.writer.WriteFile(p.rawPath, []byte(raw)); err != nil {
		p.log.Debugf("planner: failed to write raw plan: %v", err)
	}
}

func (p *LoggingPlanner) writeNormalized(plan types.Plan) {
	if p.normalizedPath == "" {
		return
	}
	b, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		p.log.Debugf("planner: failed to marshal normalized plan: %v", err)
		return
	}
	if err := p.writer.WriteFile(p.normalizedPath, b); err != nil {
		p.log.Debugf("planner: failed to write normalized plan: %v", err)
	}
}

type DefaultPlanner struct {
	llm        llm.LLM
	classifier risk.Classifier

	onRaw func(raw string) // optional
}

type PlannerOption func(*DefaultPlanner)

func WithPlannerRawSink(fn func(string)) PlannerOption {
	return func(p *DefaultPlanner) {
		p.onRaw = fn
	}
}

func NewDefaultPlanner(l llm.LLM, classifier risk.Classifier, opts ...PlannerOption) *DefaultPlanner {
	p := &DefaultPlanner{llm: l, classifier: classifier}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *DefaultPlanner) Plan(ctx context.Context, goal string, session types.SessionInfo) (types.Plan, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return types.Plan{}, errors.New("missing goal")
	}
	if p.llm == nil {
		return types.Plan{}, llm.ErrNoProvider
	}

	c, err := p.llm.Complete(ctx, plannerSystemPrompt, []llm.Message{
		{Role: llm.UserRole, Content: buildPlanningPrompt(goal, session)},
	})
	if err != nil {
		return types.Plan{}, err
	}

	if p.onRaw != nil {
		p.onRaw(c.Text)
	}

	return ParseProposal(c.Text, goal, p.classifier)
}

const plannerSystemPrompt = `You are the planning module of an operations agent that runs shell commands on a remote host.
Convert the user's goal into an explicit, minimal sequence of shell commands.

CRITICAL OUTPUT RULES:
- Return ONLY raw JSON.
- Do NOT use markdown or code fences.
- The FIRST non-whitespace character MUST be '{'.
- The LAST non-whitespace character MUST be '}'.

Return JSON matching this schema:

{
  "goal": "string",
  "steps": [
    {
      "description": "string",
      "command": "string",
      "risk_level": "safe" | "caution" | "dangerous" | "blocked",
      "risk_reason": "string",
      "requires_approval": true | false,
      "warning": "string",
      "expected_output": "string",
      "verify_command": "string"
    }
  ],
  "rollback": ["string"]
}

Rules:
- One shell command per step; commands must be non-interactive.
- Prefer read-only checks before changes.
- verify_command is optional and must be read-only.
- rollback lists commands that undo the plan's changes, in order.`

func buildPlanningPrompt(goal string, s types.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	if s.Host != "" {
		fmt.Fprintf(&b, "Host: %s\n", s.Host)
	}
	if s.User != "" {
		fmt.Fprintf(&b, "User: %s\n", s.User)
	}
	if s.Shell != "" {
		fmt.Fprintf(&b, "Shell: %s\n", s.Shell)
	}
	if s.OS != "" {
		fmt.Fprintf(&b, "OS: %s\n", s.OS)
	}
	return b.String()
}
