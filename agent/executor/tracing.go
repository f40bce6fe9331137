package executor

import (
	"context"

	"github.com/kardolus/shellpilot/agent/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (e *PlanExecutor) startRunSpan(ctx context.Context, plan types.Plan, cfg RunConfig) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "plan.run")
	span.SetAttributes(
		attribute.String("run.id", cfg.RunID),
		attribute.String("plan.id", plan.ID),
		attribute.String("plan.goal", plan.Goal),
		attribute.String("plan.mode", string(cfg.Mode)),
		attribute.Int("plan.steps", len(plan.Steps)),
		attribute.String("session.host", cfg.Session.Host),
	)
	return ctx, span
}

func (e *PlanExecutor) endRunSpan(span trace.Span, status types.PlanStatus, reason string) {
	span.SetAttributes(attribute.String("plan.status", string(status)))
	if status != types.PlanCompleted {
		span.SetStatus(codes.Error, reason)
	}
	span.End()
}

func (e *PlanExecutor) startStepSpan(ctx context.Context, step types.Step, attempt int) (context.Context, trace.Span) {
	ctx, span := e.tracer.Start(ctx, "plan.step")
	span.SetAttributes(
		attribute.String("step.id", step.ID),
		attribute.Int("step.index", step.Index),
		attribute.Int("step.attempt", attempt),
		attribute.String("step.risk", string(step.Risk.Level)),
		attribute.String("step.origin", string(step.Origin)),
	)
	return ctx, span
}

func (e *PlanExecutor) endStepSpan(span trace.Span, res types.StepResult) {
	span.SetAttributes(
		attribute.Int("step.exit_code", res.Result.ExitCode),
		attribute.Bool("step.succeeded", res.Assessment.Succeeded),
		attribute.Bool("step.timed_out", res.Result.TimedOut),
	)
	if !res.Assessment.Succeeded && !res.Skipped {
		span.SetStatus(codes.Error, res.Assessment.Reason)
	}
	span.End()
}
