package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/kardolus/shellpilot/agent/brain"
	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/executor"
	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/strategy"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/llm"
	"github.com/kardolus/shellpilot/records"
	. "github.com/onsi/gomega"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"
)

//go:generate mockgen -destination=strategymocks_test.go -package=executor_test github.com/kardolus/shellpilot/agent/strategy Strategy
//go:generate mockgen -destination=analyzermocks_test.go -package=executor_test github.com/kardolus/shellpilot/agent/brain Analyzer
//go:generate mockgen -destination=gatemocks_test.go -package=executor_test github.com/kardolus/shellpilot/agent/approval Gate
//go:generate mockgen -destination=storemocks_test.go -package=executor_test github.com/kardolus/shellpilot/records Store

func TestUnitPlanExecutor(t *testing.T) {
	spec.Run(t, "Testing the plan executor", testPlanExecutor, spec.Report(report.Terminal{}))
}

func testPlanExecutor(t *testing.T, when spec.G, it spec.S) {
	var (
		mockCtrl     *gomock.Controller
		mockStrategy *MockStrategy
		mockAnalyzer *MockAnalyzer
		mockGate     *MockGate
		mockStore    *MockStore
		classifier   *risk.DefaultClassifier
		subject      *executor.PlanExecutor
		events       *recorder
		stored       []records.Record
		storedMu     sync.Mutex
		cfg          executor.RunConfig
	)

	build := func(opts ...executor.Option) {
		commands := executor.NewCommandExecutor(mockStrategy, executor.CommandConfig{}, nil)
		steps := executor.NewStepExecutor(classifier, mockGate, commands)
		base := []executor.Option{
			executor.WithAnalyzer(mockAnalyzer),
			executor.WithClassifier(classifier),
			executor.WithRecordStore(mockStore),
		}
		subject = executor.NewPlanExecutor(steps, append(base, opts...)...)
	}

	it.Before(func() {
		RegisterTestingT(t)
		mockCtrl = gomock.NewController(t)
		mockStrategy = NewMockStrategy(mockCtrl)
		mockAnalyzer = NewMockAnalyzer(mockCtrl)
		mockGate = NewMockGate(mockCtrl)
		mockStore = NewMockStore(mockCtrl)

		var err error
		classifier, err = risk.NewDefaultClassifier(risk.Limits{})
		Expect(err).NotTo(HaveOccurred())

		events = &recorder{}
		stored = nil
		mockStore.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r records.Record) error {
			storedMu.Lock()
			defer storedMu.Unlock()
			stored = append(stored, r)
			return nil
		}).AnyTimes()

		cfg = executor.RunConfig{
			RunID:   "run-test",
			Mode:    types.ModeSelfCorrecting,
			Session: types.SessionInfo{Host: "web-1"},
		}
		build()
	})

	it.After(func() {
		mockCtrl.Finish()
	})

	when("every step succeeds", func() {
		it("completes the plan and stores one record", func() {
			plan := newPlan(classifier, "uptime", "apt-get install -y nginx")
			Expect(plan.Steps[1].Risk.Level).To(Equal(types.RiskCaution))

			gomock.InOrder(
				mockStrategy.EXPECT().Execute(gomock.Any(), "uptime", gomock.Any()).DoAndReturn(succeed("up 3 days\n")),
				mockStrategy.EXPECT().Execute(gomock.Any(), "apt-get install -y nginx", gomock.Any()).DoAndReturn(succeed("done\n")),
			)

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanCompleted))
			Expect(out.Results).To(HaveLen(2))
			Expect(out.Results[1].Assessment.Succeeded).To(BeTrue())
			Expect(out.Plan.Steps[0].Status).To(Equal(types.StepCompleted))
			Expect(out.Plan.Steps[1].Status).To(Equal(types.StepCompleted))

			kinds := events.kinds()
			Expect(kinds[0]).To(Equal(types.EventPlanStarted))
			Expect(kinds[len(kinds)-1]).To(Equal(types.EventPlanCompleted))
			Expect(terminalCount(kinds)).To(Equal(1))
			Expect(events.count(types.EventStepStarted)).To(Equal(2))
			Expect(events.count(types.EventOutput)).To(Equal(2))
			Expect(events.last().PlanID).To(Equal("plan-1"))

			Expect(stored).To(HaveLen(1))
			Expect(stored[0].RunID).To(Equal("run-test"))
			Expect(stored[0].Status).To(Equal("completed"))
			Expect(stored[0].Host).To(Equal("web-1"))
			Expect(stored[0].Attempts).To(HaveLen(2))
			Expect(stored[0].EndedAt).NotTo(BeTemporally("<", stored[0].StartedAt))

			Expect(subject.Plan().Status).To(Equal(types.PlanCompleted))
		})

		it("streams events over a channel that closes after the terminal event", func() {
			plan := newPlan(classifier, "uptime")
			mockStrategy.EXPECT().Execute(gomock.Any(), "uptime", gomock.Any()).DoAndReturn(succeed(""))

			var kinds []types.EventKind
			for ev := range subject.Execute(context.Background(), plan, cfg) {
				kinds = append(kinds, ev.Kind)
			}
			Expect(kinds[len(kinds)-1]).To(Equal(types.EventPlanCompleted))
			Expect(terminalCount(kinds)).To(Equal(1))
		})
	})

	when("a step is blocked", func() {
		it("never runs it and fails the plan", func() {
			cfg.Mode = types.ModeLinear
			plan := newPlan(classifier, "rm -rf /", "uptime")

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(out.Results).To(HaveLen(1))
			Expect(out.Results[0].Result.ExitCode).To(Equal(types.ExitNotRun))
			Expect(out.Results[0].Assessment.NextAction).To(Equal(types.NextRevisePlan))
			Expect(events.last().Kind).To(Equal(types.EventPlanFailed))
			Expect(out.Plan.Steps[1].Status).To(Equal(types.StepPending))
		})
	})

	when("a step needs approval", func() {
		var plan types.Plan

		it.Before(func() {
			plan = newPlan(classifier, "rm -rf /var/www/old", "uptime")
			Expect(plan.Steps[0].Risk.NeedsApproval()).To(BeTrue())
		})

		it("runs it after approval", func() {
			mockGate.EXPECT().RequestApproval(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req types.ApprovalRequest) (types.ApprovalDecision, error) {
					Expect(req.StepID).To(Equal("s1"))
					Expect(req.RiskLevel).To(Equal(types.RiskDangerous))
					Expect(subject.Plan().Steps[0].Status).To(Equal(types.StepAwaitingApproval))
					return types.DecisionApprove, nil
				})
			mockStrategy.EXPECT().Execute(gomock.Any(), "rm -rf /var/www/old", gomock.Any()).DoAndReturn(succeed(""))
			mockStrategy.EXPECT().Execute(gomock.Any(), "uptime", gomock.Any()).DoAndReturn(succeed(""))

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanCompleted))

			received, ok := events.first(types.EventApprovalReceived)
			Expect(ok).To(BeTrue())
			Expect(*received.Decision).To(Equal(types.DecisionApprove))
		})

		it("fails without running it or asking the agent on reject", func() {
			mockGate.EXPECT().RequestApproval(gomock.Any(), gomock.Any()).Return(types.DecisionReject, nil)

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(out.Reason).To(ContainSubstring("rejected by user"))
			Expect(out.Results[0].Assessment.NextAction).To(Equal(types.NextAskUser))
		})

		it("skips it and carries on", func() {
			mockGate.EXPECT().RequestApproval(gomock.Any(), gomock.Any()).Return(types.DecisionSkip, nil)
			mockStrategy.EXPECT().Execute(gomock.Any(), "uptime", gomock.Any()).DoAndReturn(succeed(""))

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanCompleted))
			Expect(out.Plan.Steps[0].Status).To(Equal(types.StepSkipped))
			Expect(events.count(types.EventStepSkipped)).To(Equal(1))
		})
	})

	when("a step fails in linear mode", func() {
		it("stops without asking the agent", func() {
			cfg.Mode = types.ModeLinear
			plan := newPlan(classifier, "systemctl start app", "uptime")
			mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl start app", gomock.Any()).DoAndReturn(finish(5, "Unit app.service not found.\n"))

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(out.Reason).To(ContainSubstring("step s1 failed"))
			Expect(out.Plan.Steps[0].Status).To(Equal(types.StepFailed))
			Expect(events.last().Kind).To(Equal(types.EventPlanFailed))
		})
	})

	when("a step fails in self-correcting mode", func() {
		it("stops at the per-step retry limit with a budget event", func() {
			plan := newPlan(classifier, "systemctl start app")
			mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl start app", gomock.Any()).DoAndReturn(finish(1, "nope\n")).Times(3)
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(types.AgentCorrection{Action: types.ActionRetry, Reasoning: "flaky"}).Times(2)

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(out.Results).To(HaveLen(3))
			Expect(events.last().Kind).To(Equal(types.EventBudgetExhausted))
			Expect(events.count(types.EventRetryAttempt)).To(Equal(2))
			Expect(terminalCount(events.kinds())).To(Equal(1))
			Expect(stored[0].BudgetExhausted).To(Equal(core.BudgetKindStepRetries))
			Expect(stored[0].Corrections).To(Equal(2))
		})

		it("stops at the total corrections limit and warns first", func() {
			cfg.Limits = core.BudgetLimits{MaxRetriesPerStep: 10, MaxTotalCorrections: 2}
			plan := newPlan(classifier, "systemctl start app")
			mockStrategy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(finish(1, "")).Times(3)
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(types.AgentCorrection{Action: types.ActionRetry}).Times(2)

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(events.count(types.EventBudgetWarning)).To(Equal(1))
			Expect(events.last().Kind).To(Equal(types.EventBudgetExhausted))
			Expect(stored[0].BudgetExhausted).To(Equal(core.BudgetKindCorrections))
		})

		it("splices inserted steps in front of the failing step and retries it", func() {
			plan := newPlan(classifier, "uptime", "df -h", "systemctl start app")
			protos := []types.ProtoStep{
				{Description: "Install app", Command: "apt-get install -y app"},
				{Description: "Reload units", Command: "systemctl daemon-reload"},
			}

			gomock.InOrder(
				mockStrategy.EXPECT().Execute(gomock.Any(), "uptime", gomock.Any()).DoAndReturn(succeed("")),
				mockStrategy.EXPECT().Execute(gomock.Any(), "df -h", gomock.Any()).DoAndReturn(succeed("")),
				mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl start app", gomock.Any()).DoAndReturn(finish(5, "Unit app.service not found.\n")),
				mockStrategy.EXPECT().Execute(gomock.Any(), "apt-get install -y app", gomock.Any()).DoAndReturn(succeed("")),
				mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl daemon-reload", gomock.Any()).DoAndReturn(succeed("")),
				mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl start app", gomock.Any()).DoAndReturn(succeed("")),
			)
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, step types.Step, res types.StepResult, history *brain.Context) types.AgentCorrection {
					Expect(step.ID).To(Equal("s3"))
					Expect(step.Index).To(Equal(2))
					Expect(res.Result.ExitCode).To(Equal(5))
					Expect(history.Len()).To(Equal(3))
					return types.AgentCorrection{Action: types.ActionInsertSteps, Reasoning: "app is missing", Steps: protos}
				})

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanCompleted))

			steps := out.Plan.Steps
			Expect(steps).To(HaveLen(5))
			Expect(steps[2].Command).To(Equal("apt-get install -y app"))
			Expect(steps[3].Command).To(Equal("systemctl daemon-reload"))
			Expect(steps[2].Origin).To(Equal(types.OriginAgent))
			Expect(steps[3].Origin).To(Equal(types.OriginAgent))
			Expect(steps[4].ID).To(Equal("s3"))
			Expect(steps[4].Index).To(Equal(4))
			Expect(steps[4].Status).To(Equal(types.StepCompleted))

			revised, ok := events.first(types.EventPlanRevised)
			Expect(ok).To(BeTrue())
			Expect(revised.Correction.Action).To(Equal(types.ActionInsertSteps))
			Expect(stored[0].InsertedSteps).To(Equal(2))
			Expect(out.Results[len(out.Results)-1].Attempt).To(Equal(2))
		})

		it("retries with the replacement command of a modify correction", func() {
			plan := newPlan(classifier, "systemctl start app")
			gomock.InOrder(
				mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl start app", gomock.Any()).DoAndReturn(finish(5, "")),
				mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl start app.service", gomock.Any()).DoAndReturn(succeed("")),
			)
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(types.AgentCorrection{Action: types.ActionModify, Command: "systemctl start app.service", Reasoning: "full unit name"})

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanCompleted))
			Expect(out.Plan.Steps[0].Command).To(Equal("systemctl start app.service"))
			Expect(events.count(types.EventPlanRevised)).To(Equal(1))
		})

		it("moves on after a skip correction", func() {
			plan := newPlan(classifier, "systemctl start app", "uptime")
			mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl start app", gomock.Any()).DoAndReturn(finish(5, ""))
			mockStrategy.EXPECT().Execute(gomock.Any(), "uptime", gomock.Any()).DoAndReturn(succeed(""))
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(types.AgentCorrection{Action: types.ActionSkip, Reasoning: "optional"})

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanCompleted))
			Expect(out.Plan.Steps[0].Status).To(Equal(types.StepSkipped))
		})

		it("reports the agent as stuck on abort", func() {
			plan := newPlan(classifier, "systemctl start app", "uptime")
			mockStrategy.EXPECT().Execute(gomock.Any(), "systemctl start app", gomock.Any()).DoAndReturn(finish(5, ""))
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(types.AgentCorrection{Action: types.ActionAbort, Reasoning: "the unit file is corrupt"})

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(out.Reason).To(Equal("the unit file is corrupt"))

			kinds := events.kinds()
			Expect(kinds[len(kinds)-2]).To(Equal(types.EventAgentStuck))
			Expect(kinds[len(kinds)-1]).To(Equal(types.EventPlanFailed))
			Expect(events.count(types.EventAgentThinking)).To(Equal(1))
		})

		it("fails when an insert correction yields no steps", func() {
			plan := newPlan(classifier, "systemctl start app")
			mockStrategy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(finish(5, ""))
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(types.AgentCorrection{Action: types.ActionInsertSteps, Steps: []types.ProtoStep{{Description: "no command"}}})

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(out.Reason).To(Equal("correction inserted no steps"))
		})

		it("honours a cancel requested while the agent is thinking", func() {
			plan := newPlan(classifier, "systemctl start app")
			mockStrategy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(finish(5, "")).Times(1)
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(context.Context, types.Step, types.StepResult, *brain.Context) types.AgentCorrection {
					subject.Cancel()
					return types.AgentCorrection{Action: types.ActionModify, Command: "echo never"}
				})

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanCancelled))
			Expect(events.last().Kind).To(Equal(types.EventPlanCancelled))
			Expect(out.Plan.Steps[0].Command).To(Equal("systemctl start app"))
		})

		it("turns a panic into a cancelled event and a failed plan", func() {
			plan := newPlan(classifier, "systemctl start app")
			mockStrategy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(finish(5, ""))
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(context.Context, types.Step, types.StepResult, *brain.Context) types.AgentCorrection {
					panic("boom")
				})

			var out executor.Outcome
			Expect(func() { out = subject.Run(context.Background(), plan, cfg, events.emit) }).NotTo(Panic())
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(out.Reason).To(ContainSubstring("boom"))
			Expect(events.last().Kind).To(Equal(types.EventPlanCancelled))
			Expect(terminalCount(events.kinds())).To(Equal(1))
		})

		it("charges tokens spent by the agent to the run", func() {
			metered := llm.NewMetered(&fixedLLM{usage: llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}}, nil)
			build(executor.WithMeteredLLM(metered))

			plan := newPlan(classifier, "systemctl start app")
			mockStrategy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(finish(5, ""))
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, _ types.Step, _ types.StepResult, _ *brain.Context) types.AgentCorrection {
					_, _ = metered.Complete(ctx, "system", nil)
					return types.AgentCorrection{Action: types.ActionAbort, Reasoning: "give up"}
				})

			subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(stored[0].Tokens).To(Equal(records.Tokens{Prompt: 100, Completion: 20, Total: 120, Calls: 1}))
		})

		it("stops once the agent has spent its token limit", func() {
			metered := llm.NewMetered(&fixedLLM{usage: llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}}, nil)
			build(executor.WithMeteredLLM(metered))
			cfg.Limits = core.BudgetLimits{MaxRetriesPerStep: 10, MaxLLMTokens: 100}

			plan := newPlan(classifier, "systemctl start app")
			mockStrategy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(finish(5, "")).Times(2)
			mockAnalyzer.EXPECT().AnalyzeFailure(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, _ types.Step, _ types.StepResult, _ *brain.Context) types.AgentCorrection {
					_, _ = metered.Complete(ctx, "system", nil)
					return types.AgentCorrection{Action: types.ActionRetry, Reasoning: "try again"}
				})

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(events.last().Kind).To(Equal(types.EventBudgetExhausted))
			Expect(terminalCount(events.kinds())).To(Equal(1))
			Expect(stored[0].BudgetExhausted).To(Equal(core.BudgetKindLLMTokens))
		})

		it("gives up on the first failure without an analyzer", func() {
			build(executor.WithAnalyzer(nil))
			plan := newPlan(classifier, "systemctl start app")
			mockStrategy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(finish(5, ""))

			out := subject.Run(context.Background(), plan, cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanFailed))
			Expect(out.Reason).To(ContainSubstring("no agent configured"))
		})
	})

	when("pausing and cancelling", func() {
		it("pauses before every step after the first in manual mode", func() {
			cfg.Mode = types.ModeManual
			plan := newPlan(classifier, "uptime", "df -h", "free -m")
			mockStrategy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(succeed("")).Times(3)

			var kinds []types.EventKind
			for ev := range subject.Execute(context.Background(), plan, cfg) {
				kinds = append(kinds, ev.Kind)
				if ev.Kind == types.EventPlanPaused {
					Expect(subject.Paused()).To(BeTrue())
					Expect(subject.Plan().Status).To(Equal(types.PlanPaused))
					subject.Resume()
				}
			}

			paused, resumed := 0, 0
			for _, k := range kinds {
				switch k {
				case types.EventPlanPaused:
					paused++
				case types.EventPlanResumed:
					resumed++
				}
			}
			Expect(paused).To(Equal(2))
			Expect(resumed).To(Equal(2))
			Expect(kinds[len(kinds)-1]).To(Equal(types.EventPlanCompleted))
		})

		it("cancels a paused run", func() {
			cfg.Mode = types.ModeManual
			plan := newPlan(classifier, "uptime", "df -h")
			mockStrategy.EXPECT().Execute(gomock.Any(), "uptime", gomock.Any()).DoAndReturn(succeed(""))

			var last types.ProgressEvent
			for ev := range subject.Execute(context.Background(), plan, cfg) {
				last = ev
				if ev.Kind == types.EventPlanPaused {
					subject.Cancel()
				}
			}
			Expect(last.Kind).To(Equal(types.EventPlanCancelled))
			Expect(subject.Plan().Status).To(Equal(types.PlanCancelled))
		})

		it("reports a run cancelled through its context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			out := subject.Run(ctx, newPlan(classifier, "uptime"), cfg, events.emit)
			Expect(out.Status).To(Equal(types.PlanCancelled))
			Expect(out.Reason).To(Equal("cancelled by user"))
		})

		it("refuses to pause when nothing runs", func() {
			Expect(subject.Pause()).To(BeFalse())
		})

		it("refuses a second concurrent run", func() {
			cfg.Mode = types.ModeLinear
			started := make(chan struct{})
			release := make(chan struct{})
			mockStrategy.EXPECT().Execute(gomock.Any(), "uptime", gomock.Any()).DoAndReturn(
				func(context.Context, string, strategy.ExecConfig) (*strategy.Handle, error) {
					close(started)
					<-release
					return nil, errors.New("gone")
				})

			done := make(chan executor.Outcome, 1)
			go func() { done <- subject.Run(context.Background(), newPlan(classifier, "uptime"), cfg, nil) }()
			<-started

			second := &recorder{}
			out := subject.Run(context.Background(), newPlan(classifier, "df -h"), cfg, second.emit)
			Expect(out.Reason).To(Equal(executor.ErrAlreadyRunning.Error()))
			Expect(second.last().Kind).To(Equal(types.EventPlanFailed))

			close(release)
			Eventually(done, time.Second).Should(Receive())
		})
	})
}

type fixedLLM struct {
	usage llm.Usage
}

func (f *fixedLLM) Complete(context.Context, string, []llm.Message) (llm.Completion, error) {
	return llm.Completion{Text: "{}", Usage: f.usage}, nil
}

func (f *fixedLLM) CompleteRaw(context.Context, string) (llm.Completion, error) {
	return llm.Completion{Text: "{}", Usage: f.usage}, nil
}
