package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kardolus/shellpilot/agent/brain"
	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/idle"
	"github.com/kardolus/shellpilot/agent/planner"
	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/internal"
	"github.com/kardolus/shellpilot/llm"
	"github.com/kardolus/shellpilot/records"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	eventBuffer = 64
	tracerName  = "github.com/kardolus/shellpilot/agent/executor"
)

var ErrAlreadyRunning = errors.New("executor is already running a plan")

type RunConfig struct {
	// RunID names the run in records and logs; generated when empty.
	RunID   string
	Mode    types.ExecutionMode
	Session types.SessionInfo
	Limits  core.BudgetLimits
	Context brain.ContextConfig
}

// Outcome is the final state of one run.
type Outcome struct {
	Plan    types.Plan
	Status  types.PlanStatus
	Reason  string
	Results []types.StepResult
	Record  records.Record
}

// PlanExecutor drives a plan to a terminal state. It runs one plan at a time.
type PlanExecutor struct {
	steps      *StepExecutor
	analyzer   brain.Analyzer
	classifier risk.Classifier
	summarizer llm.LLM
	metered    *llm.Metered
	store      records.Store
	clock      core.Clock
	logger     *zap.SugaredLogger
	tracer     trace.Tracer

	mu      sync.Mutex
	running bool
	plan    types.Plan
	paused  bool
	resume  chan struct{}
	cancel  context.CancelFunc
	stopped bool
}

type Option func(*PlanExecutor)

// WithAnalyzer enables self-correction. Without one, a self-correcting run
// gives up on the first failure.
func WithAnalyzer(a brain.Analyzer) Option {
	return func(e *PlanExecutor) {
		e.analyzer = a
	}
}

// WithSummarizer sets the LLM used to condense the run history.
func WithSummarizer(l llm.LLM) Option {
	return func(e *PlanExecutor) {
		e.summarizer = l
	}
}

// WithMeteredLLM charges the run budget for tokens spent through m and
// copies the usage into the run record.
func WithMeteredLLM(m *llm.Metered) Option {
	return func(e *PlanExecutor) {
		e.metered = m
	}
}

func WithRecordStore(s records.Store) Option {
	return func(e *PlanExecutor) {
		e.store = s
	}
}

func WithClassifier(c risk.Classifier) Option {
	return func(e *PlanExecutor) {
		e.classifier = c
	}
}

func WithClock(c core.Clock) Option {
	return func(e *PlanExecutor) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *PlanExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *PlanExecutor) {
		if t != nil {
			e.tracer = t
		}
	}
}

func NewPlanExecutor(steps *StepExecutor, opts ...Option) *PlanExecutor {
	e := &PlanExecutor{
		steps:  steps,
		clock:  core.NewRealClock(),
		logger: zap.NewNop().Sugar(),
		tracer: otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs plan in the background. The channel carries every progress
// event and is closed right after the single terminal event. Callers must
// drain it.
func (e *PlanExecutor) Execute(ctx context.Context, plan types.Plan, cfg RunConfig) <-chan types.ProgressEvent {
	ch := make(chan types.ProgressEvent, eventBuffer)

	var (
		mu     sync.Mutex
		closed bool
	)
	emit := func(ev types.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		ch <- ev
	}

	go func() {
		e.Run(ctx, plan, cfg, emit)

		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}

// Plan returns a snapshot of the plan as the current run sees it.
func (e *PlanExecutor) Plan() types.Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan.Clone()
}

// Pause parks the run before its next step. It reports false when no run is active.
func (e *PlanExecutor) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return false
	}
	if !e.paused {
		e.paused = true
		e.resume = make(chan struct{})
	}
	return true
}

func (e *PlanExecutor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		e.paused = false
		close(e.resume)
	}
}

// Cancel stops the run: the running command is interrupted and the loop
// ends before the next step or correction.
func (e *PlanExecutor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *PlanExecutor) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Run drives plan to a terminal state, reporting progress through emit.
// Nothing escapes it: failures, budget exhaustion and panics all end in a
// terminal event and an Outcome.
func (e *PlanExecutor) Run(ctx context.Context, plan types.Plan, cfg RunConfig, emit types.Emitter) (out Outcome) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		emit.Emit(types.ProgressEvent{Kind: types.EventPlanFailed, Time: e.clock.Now(), PlanID: plan.ID, Message: ErrAlreadyRunning.Error()})
		return Outcome{Plan: plan, Status: types.PlanFailed, Reason: ErrAlreadyRunning.Error()}
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.stopped = false
	e.paused = false
	e.cancel = cancel
	e.plan = plan.Clone()
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		if e.paused {
			e.paused = false
			close(e.resume)
		}
		e.mu.Unlock()
	}()

	var r *run
	defer func() {
		rec := recover()
		if rec != nil {
			e.logger.Errorf("executor: recovered from panic: %v", rec)
		}
		if r == nil {
			reason := fmt.Sprintf("run aborted: %v", rec)
			emit.Emit(types.ProgressEvent{Kind: types.EventPlanCancelled, Time: e.clock.Now(), PlanID: plan.ID, Message: reason})
			out = Outcome{Plan: plan.Clone(), Status: types.PlanFailed, Reason: reason}
			return
		}
		if rec != nil {
			r.finish(types.PlanFailed, types.EventPlanCancelled, fmt.Sprintf("run aborted: %v", rec), "")
		}
		out = r.outcome()
	}()

	r = e.newRun(runCtx, plan, cfg, emit)
	r.loop()
	return out
}

func (e *PlanExecutor) setPlan(p types.Plan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plan = p.Clone()
}

func (e *PlanExecutor) isStopped(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped || ctx.Err() != nil
}

// waitIfPaused blocks while the run is paused. It reports false when the run
// was cancelled meanwhile.
func (e *PlanExecutor) waitIfPaused(ctx context.Context, onPause, onResume func()) bool {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return true
	}
	ch := e.resume
	e.mu.Unlock()

	onPause()
	select {
	case <-ch:
	case <-ctx.Done():
		return false
	}
	if e.isStopped(ctx) {
		return false
	}
	onResume()
	return true
}

// run is the state of one Run call.
type run struct {
	e       *PlanExecutor
	ctx     context.Context
	cfg     RunConfig
	emit    types.Emitter
	plan    types.Plan
	budget  *core.RunBudget
	mutator *planner.Mutator
	history *brain.Context
	span    trace.Span

	results     []types.StepResult
	record      records.Record
	corrections int
	inserted    int
	usageStart  llm.Usage
	callsStart  int

	status    types.PlanStatus
	reason    string
	finished  bool
	emitMu    sync.Mutex
	stepIndex int
}

func (e *PlanExecutor) newRun(ctx context.Context, plan types.Plan, cfg RunConfig, emit types.Emitter) *run {
	if cfg.RunID == "" {
		cfg.RunID = internal.GenerateRunID()
	}
	if cfg.Mode == "" {
		cfg.Mode = types.ModeSelfCorrecting
	}
	now := e.clock.Now()

	budget := core.NewRunBudget(cfg.Limits)
	budget.Start(now)

	r := &run{
		e:       e,
		cfg:     cfg,
		emit:    emit,
		plan:    plan.Clone(),
		budget:  budget,
		mutator: planner.NewMutator(e.classifier, budget),
		history: brain.NewContext(plan.Goal, e.summarizer, cfg.Context, e.logger),
		status:  types.PlanRunning,
	}
	if e.metered != nil {
		e.metered.SetCharger(budget)
		r.usageStart, r.callsStart = e.metered.Usage()
	}

	r.ctx, r.span = e.startRunSpan(ctx, plan, cfg)
	r.record = records.Record{
		RunID:     cfg.RunID,
		PlanID:    plan.ID,
		Goal:      plan.Goal,
		Host:      cfg.Session.Host,
		Mode:      string(cfg.Mode),
		StartedAt: now,
	}
	return r
}

// send stamps and forwards one event. Nothing is sent after the terminal event.
func (r *run) send(ev types.ProgressEvent) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.finished {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = r.e.clock.Now()
	}
	ev.PlanID = r.plan.ID
	if ev.Kind.Terminal() {
		r.finished = true
	}
	r.emit.Emit(ev)
}

// stepEmitter tracks approval state on the plan snapshot while forwarding.
func (r *run) stepEmitter(i int) types.Emitter {
	return func(ev types.ProgressEvent) {
		switch ev.Kind {
		case types.EventApprovalNeeded:
			r.setStatus(i, types.StepAwaitingApproval)
		case types.EventApprovalReceived:
			r.setStatus(i, types.StepRunning)
		}
		r.send(ev)
	}
}

func (r *run) setStatus(i int, s types.StepStatus) {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	if i < len(r.e.plan.Steps) {
		r.e.plan.Steps[i].Status = s
	}
}

func (r *run) commit() {
	r.plan.CurrentIndex = r.stepIndex
	r.plan.Status = r.status
	r.e.setPlan(r.plan)
}

func (r *run) loop() {
	r.plan.Status = types.PlanRunning
	r.commit()
	r.send(types.ProgressEvent{Kind: types.EventPlanStarted, Message: r.plan.Goal, StepIndex: r.plan.CurrentIndex})
	r.e.logger.Infof("Starting plan %q with %d steps in %s mode", r.plan.Goal, len(r.plan.Steps), r.cfg.Mode)

	first := true
	for r.stepIndex = r.plan.CurrentIndex; r.stepIndex < len(r.plan.Steps); {
		i := r.stepIndex
		if r.e.isStopped(r.ctx) {
			r.cancelled()
			return
		}

		if r.cfg.Mode == types.ModeManual && !first {
			r.e.Pause()
		}
		if !r.e.waitIfPaused(r.ctx, r.onPause, r.onResume) {
			r.cancelled()
			return
		}
		first = false

		step := r.plan.Steps[i]
		if step.Status == types.StepCompleted || step.Status == types.StepSkipped {
			r.stepIndex++
			continue
		}

		if err := r.budget.AllowAttempt(step.ID); err != nil {
			r.exhausted(err)
			return
		}
		attempt := r.budget.Attempts(step.ID)
		if attempt > 1 {
			r.send(types.ProgressEvent{Kind: types.EventRetryAttempt, StepID: step.ID, StepIndex: i, Attempt: attempt,
				Message: fmt.Sprintf("attempt %d of %s", attempt, step.Command)})
		}

		r.plan.Steps[i].Status = types.StepRunning
		r.commit()

		res, stall := r.runStep(step, attempt)
		r.results = append(r.results, res)
		r.recordAttempt(step, res)
		r.history.Add(r.ctx, brain.Entry{
			StepID:      step.ID,
			StepIndex:   i,
			Attempt:     attempt,
			Description: step.Description,
			Command:     step.Command,
			ExitCode:    res.Result.ExitCode,
			Succeeded:   res.Assessment.Succeeded,
			Output:      res.Result.Stdout + res.Result.Stderr,
			Note:        res.Assessment.Reason,
		})

		switch {
		case res.Skipped:
			r.plan.Steps[i].Status = types.StepSkipped
			r.stepIndex++
			r.commit()
			continue
		case res.Assessment.Succeeded:
			r.plan.Steps[i].Status = types.StepCompleted
			r.stepIndex++
			r.commit()
			continue
		}

		r.plan.Steps[i].Status = types.StepFailed
		r.commit()

		if r.e.isStopped(r.ctx) {
			r.cancelled()
			return
		}
		if !r.recover(step, res, stall) {
			return
		}
	}

	r.finish(types.PlanCompleted, types.EventPlanCompleted, "all steps completed", "")
}

func (r *run) onPause() {
	r.status = types.PlanPaused
	r.commit()
	r.send(types.ProgressEvent{Kind: types.EventPlanPaused, StepIndex: r.stepIndex})
}

func (r *run) onResume() {
	r.status = types.PlanRunning
	r.commit()
	r.send(types.ProgressEvent{Kind: types.EventPlanResumed, StepIndex: r.stepIndex})
}

// runStep executes one attempt. In self-correcting mode a stalled command is
// analyzed while it runs; a non-wait decision aborts the command and is
// returned for the failure path.
func (r *run) runStep(step types.Step, attempt int) (types.StepResult, *types.AgentCorrection) {
	ctx, span := r.e.startStepSpan(r.ctx, step, attempt)

	var (
		wg      sync.WaitGroup
		busy    atomic.Bool
		stallMu sync.Mutex
		stall   *types.AgentCorrection
	)

	var onIdle func(idle.Event)
	if r.cfg.Mode == types.ModeSelfCorrecting && r.e.analyzer != nil {
		onIdle = func(ev idle.Event) {
			if ev.Kind != idle.KindStalled || !busy.CompareAndSwap(false, true) {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer busy.Store(false)

				r.send(types.ProgressEvent{Kind: types.EventAgentThinking, StepID: step.ID, StepIndex: step.Index, Attempt: attempt,
					Message: "analyzing stalled command"})
				c := r.e.analyzer.AnalyzeStall(ctx, step, ev.Idle, r.history)
				if c.Action == types.ActionWait {
					r.e.logger.Debugf("executor: stall analysis says wait: %s", c.Reasoning)
					r.e.steps.Commands().ResetHardTimer()
					return
				}
				stallMu.Lock()
				stall = &c
				stallMu.Unlock()
				r.e.steps.Commands().Abort()
			}()
		}
	}

	res := r.e.steps.ExecuteStep(ctx, step, attempt, r.stepEmitter(r.stepIndex), onIdle)
	wg.Wait()
	r.e.endStepSpan(span, res)

	stallMu.Lock()
	defer stallMu.Unlock()
	return res, stall
}

// recover decides what to do after a failed attempt. It reports false when
// the run has ended.
func (r *run) recover(step types.Step, res types.StepResult, stall *types.AgentCorrection) bool {
	reason := fmt.Sprintf("step %s failed: %s", step.ID, res.Assessment.Reason)

	if r.cfg.Mode != types.ModeSelfCorrecting {
		r.finish(types.PlanFailed, types.EventPlanFailed, reason, "")
		return false
	}
	if res.Result.ExitCode == types.ExitNotRun && res.Assessment.NextAction == types.NextAskUser {
		r.finish(types.PlanFailed, types.EventPlanFailed, reason, "")
		return false
	}
	if r.e.analyzer == nil {
		r.finish(types.PlanFailed, types.EventPlanFailed, reason+" (no agent configured)", "")
		return false
	}

	limits := r.budget.Snapshot(r.e.clock.Now()).Limits
	if used := r.budget.Attempts(step.ID); used >= limits.MaxRetriesPerStep {
		r.exhausted(core.BudgetExceededError{
			Kind:    core.BudgetKindStepRetries,
			Limit:   limits.MaxRetriesPerStep,
			Used:    used,
			Message: fmt.Sprintf("step %s retry budget exceeded", step.ID),
		})
		return false
	}
	if err := r.budget.AllowCorrection(); err != nil {
		r.exhausted(err)
		return false
	}
	r.corrections++
	if left := r.budget.CorrectionsRemaining(); left == 1 {
		r.send(types.ProgressEvent{Kind: types.EventBudgetWarning, StepID: step.ID, StepIndex: step.Index,
			Message: "one corrective action left"})
	}

	var c types.AgentCorrection
	if stall != nil {
		c = *stall
	} else {
		r.send(types.ProgressEvent{Kind: types.EventAgentThinking, StepID: step.ID, StepIndex: step.Index, Attempt: res.Attempt,
			Message: "analyzing failure"})
		c = r.e.analyzer.AnalyzeFailure(r.ctx, step, res, r.history)
	}

	if r.e.isStopped(r.ctx) {
		r.cancelled()
		return false
	}
	return r.apply(step, c)
}

func (r *run) apply(step types.Step, c types.AgentCorrection) bool {
	i := r.stepIndex
	r.e.logger.Infof("Agent decided to %s step %s: %s", c.Action, step.ID, c.Reasoning)

	revised := func(msg string) {
		if j := r.plan.StepIndex(step.ID); j >= 0 {
			r.plan.Steps[j].Status = types.StepPending
		}
		r.commit()
		r.send(types.ProgressEvent{Kind: types.EventPlanRevised, StepID: step.ID, StepIndex: r.stepIndex,
			Message: msg, Correction: &c})
	}

	switch c.Action {
	case types.ActionRetry, types.ActionModify:
		if c.Command != "" && c.Command != step.Command {
			p, err := r.mutator.ReplaceStepCommand(r.plan, step.ID, c.Command)
			if err != nil {
				return r.stuck(c, fmt.Sprintf("could not apply correction: %v", err))
			}
			r.plan = p
			revised(fmt.Sprintf("replaced command of %s with %q", step.ID, c.Command))
			return true
		}
		if c.Action == types.ActionModify {
			return r.stuck(c, "modify without a new command")
		}
		r.plan.Steps[i].Status = types.StepPending
		r.commit()
		return true

	case types.ActionInsertSteps:
		p, n, err := r.mutator.InsertStepsBefore(r.plan, step.ID, c.Steps)
		if err != nil {
			var be core.BudgetExceededError
			if errors.As(err, &be) {
				r.exhausted(be)
				return false
			}
			return r.stuck(c, fmt.Sprintf("could not insert steps: %v", err))
		}
		if n == 0 {
			return r.stuck(c, "correction inserted no steps")
		}
		r.plan = p
		r.inserted += n
		revised(fmt.Sprintf("inserted %d steps before %s", n, step.ID))
		return true

	case types.ActionSkip:
		r.plan.Steps[i].Status = types.StepSkipped
		r.stepIndex++
		r.commit()
		r.send(types.ProgressEvent{Kind: types.EventStepSkipped, StepID: step.ID, StepIndex: i,
			Message: c.Reasoning, Correction: &c})
		return true
	}

	return r.stuck(c, c.Reasoning)
}

func (r *run) stuck(c types.AgentCorrection, reason string) bool {
	if reason == "" {
		reason = "agent gave up"
	}
	r.send(types.ProgressEvent{Kind: types.EventAgentStuck, StepID: r.plan.Steps[r.stepIndex].ID, StepIndex: r.stepIndex,
		Message: reason, Correction: &c})
	r.finish(types.PlanFailed, types.EventPlanFailed, reason, "")
	return false
}

func (r *run) cancelled() {
	r.finish(types.PlanCancelled, types.EventPlanCancelled, "cancelled by user", "")
}

func (r *run) exhausted(err error) {
	kind := ""
	var be core.BudgetExceededError
	if errors.As(err, &be) {
		kind = be.Kind
	}
	r.finish(types.PlanFailed, types.EventBudgetExhausted, err.Error(), kind)
}

// finish ends the run once: it sets the final status, emits the terminal
// event and stores the record.
func (r *run) finish(status types.PlanStatus, kind types.EventKind, reason, budgetKind string) {
	r.emitMu.Lock()
	done := r.finished
	r.emitMu.Unlock()
	if done {
		return
	}

	r.status = status
	r.reason = reason
	r.commit()

	r.record.EndedAt = r.e.clock.Now()
	r.record.Status = string(status)
	r.record.Reason = reason
	r.record.BudgetExhausted = budgetKind
	r.record.Steps = len(r.plan.Steps)
	r.record.Corrections = r.corrections
	r.record.InsertedSteps = r.inserted
	if r.e.metered != nil {
		u, calls := r.e.metered.Usage()
		r.record.Tokens = records.Tokens{
			Prompt:     u.PromptTokens - r.usageStart.PromptTokens,
			Completion: u.CompletionTokens - r.usageStart.CompletionTokens,
			Total:      u.TotalTokens - r.usageStart.TotalTokens,
			Calls:      calls - r.callsStart,
		}
	}

	r.send(types.ProgressEvent{Kind: kind, StepIndex: r.stepIndex, Message: reason})
	r.e.logger.Infof("Plan %s: %s", status, reason)
	r.e.endRunSpan(r.span, status, reason)

	if r.e.store != nil {
		if err := r.e.store.Append(context.WithoutCancel(r.ctx), r.record); err != nil {
			r.e.logger.Warnf("executor: failed to store run record: %v", err)
		}
	}
}

func (r *run) recordAttempt(step types.Step, res types.StepResult) {
	r.record.Attempts = append(r.record.Attempts, records.Attempt{
		StepID:     step.ID,
		StepIndex:  res.StepIndex,
		Attempt:    res.Attempt,
		Command:    step.Command,
		ExitCode:   res.Result.ExitCode,
		Succeeded:  res.Assessment.Succeeded,
		Skipped:    res.Skipped,
		TimedOut:   res.Result.TimedOut,
		Reason:     res.Assessment.Reason,
		Duration:   res.Result.Duration,
		FinishedAt: r.e.clock.Now(),
	})
}

func (r *run) outcome() Outcome {
	return Outcome{
		Plan:    r.plan.Clone(),
		Status:  r.status,
		Reason:  r.reason,
		Results: append([]types.StepResult(nil), r.results...),
		Record:  r.record,
	}
}
