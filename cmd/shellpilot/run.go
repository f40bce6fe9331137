package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/kardolus/shellpilot/agent/approval"
	"github.com/kardolus/shellpilot/agent/brain"
	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/events"
	"github.com/kardolus/shellpilot/agent/executor"
	"github.com/kardolus/shellpilot/agent/planner"
	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/config"
	"github.com/kardolus/shellpilot/internal"
	"github.com/kardolus/shellpilot/internal/fsio"
	"github.com/kardolus/shellpilot/llm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	planFile   string
	savePlan   string
	dryRun     bool
	yes        bool
	hideOutput bool
}

// runBindings maps config keys to run flags.
var runBindings = map[string]string{
	"agent.mode":                  "mode",
	"agent.max_total_corrections": "max-corrections",
	"session.host":                "host",
	"session.port":                "port",
	"session.user":                "user",
	"session.key_file":            "key-file",
	"session.shell":               "shell",
	"session.strategy":            "strategy",
	"session.local":               "local",
	"llm.provider":                "provider",
	"llm.model":                   "model",
}

func (a *app) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Plan and run a goal, or run a plan file",
		Example: `  shellpilot run --host web-1 "install nginx and make sure it serves on port 80"
  shellpilot run --local --plan deploy.yaml --mode linear`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.manager.BindFlags(cmd, runBindings); err != nil {
				return err
			}
			goal := strings.TrimSpace(strings.Join(args, " "))
			if goal == "" && f.planFile == "" {
				return errors.New("you must specify a goal or a --plan file")
			}
			return a.run(cmd.Context(), goal, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.planFile, "plan", "", "Run the plan in this YAML or JSON file instead of asking the planner")
	flags.StringVar(&f.savePlan, "save-plan", "", "Write the plan to this file before running it")
	flags.BoolVar(&f.dryRun, "dry-run", false, "Print the plan and exit")
	flags.BoolVarP(&f.yes, "yes", "y", false, "Approve every command that needs approval")
	flags.BoolVar(&f.hideOutput, "quiet", false, "Do not stream command output")

	flags.String("mode", string(types.ModeSelfCorrecting), "Execution mode: manual, linear or self_correcting")
	flags.Int("max-corrections", core.DefaultMaxTotalCorrections, "Maximum agent corrections per run")
	flags.String("host", "", "Remote host")
	flags.Int("port", 22, "SSH port")
	flags.String("user", "", "SSH user")
	flags.String("key-file", "", "SSH private key")
	flags.String("shell", "bash", "Remote shell")
	flags.String("strategy", config.StrategyLive, "Execution strategy: live or batch")
	flags.Bool("local", false, "Run on a local shell instead of over SSH")
	flags.String("provider", llm.ProviderOpenAI, "LLM provider: openai, cohere or langchain")
	flags.String("model", llm.DefaultModel, "LLM model")

	return cmd
}

func (a *app) run(ctx context.Context, goal string, f runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := a.manager.Config
	runID := internal.GenerateRunID()

	logs, err := openLogs(runID)
	if err != nil {
		zap.S().Warnf("Run logs disabled: %v", err)
		logs = core.NopLogs()
	}
	defer logs.Close()
	logger := logs.DebugLogger

	classifier, err := risk.NewDefaultClassifier(cfg.RiskLimits())
	if err != nil {
		return err
	}

	var (
		metered *llm.Metered
		planLLM llm.LLM
	)
	if inner, err := newLLM(cfg, logger); err == nil {
		metered = llm.NewMetered(inner, nil)
		planLLM = metered
	} else if !errors.Is(err, llm.ErrNoProvider) {
		return err
	} else if f.planFile == "" {
		return fmt.Errorf("planning needs an LLM: set llm.api_key, llm.api_key_file or %s", config.APIKeyEnv)
	} else if cfg.ExecutionMode() == types.ModeSelfCorrecting {
		zap.S().Warnf("No LLM configured; failures will not be corrected")
	}

	sess, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	strat, err := newStrategy(ctx, cfg, sess, logger)
	if err != nil {
		return err
	}
	defer strat.Dispose()

	plan, err := a.loadPlan(ctx, goal, f, sess.info, classifier, planLLM, logs)
	if err != nil {
		return err
	}
	if f.savePlan != "" {
		if err := planner.SaveFile(fsio.NewRealWriter(), f.savePlan, plan); err != nil {
			return fmt.Errorf("failed to save plan: %w", err)
		}
	}
	if f.dryRun {
		a.printPlan(plan)
		return nil
	}

	store, closeStore, err := openStore(cfg.Records)
	if err != nil {
		return err
	}
	defer closeStore()

	var gate approval.Gate = approval.NewTerminalGate(approval.WithOutput(a.errOut))
	if f.yes {
		gate = approval.NewStaticGate(types.DecisionApprove)
	}

	commands := executor.NewCommandExecutor(strat, executor.CommandConfig{
		Timeout:        cfg.CommandTimeout(),
		MaxOutputBytes: cfg.Agent.MaxOutputBytes,
		Idle:           cfg.IdleConfig(),
	}, nil)

	stepOpts := []executor.StepOption{executor.WithStepLogger(logger)}
	planOpts := []executor.Option{
		executor.WithClassifier(classifier),
		executor.WithRecordStore(store),
		executor.WithLogger(logger),
	}
	if metered != nil {
		stepOpts = append(stepOpts, executor.WithAssessor(brain.NewLLMAssessor(metered)))
		planOpts = append(planOpts,
			executor.WithAnalyzer(brain.New(metered, logger)),
			executor.WithSummarizer(metered),
			executor.WithMeteredLLM(metered),
		)
	}
	steps := executor.NewStepExecutor(classifier, gate, commands, stepOpts...)
	pe := executor.NewPlanExecutor(steps, planOpts...)

	sink, closeSinks := a.sinks(cfg, runID, logs, !f.hideOutput)
	defer closeSinks()

	stop := cancelOnSignal(pe)
	defer stop()

	out := a.drive(ctx, pe, plan, executor.RunConfig{
		RunID:   runID,
		Mode:    cfg.ExecutionMode(),
		Session: sess.info,
		Limits:  cfg.BudgetLimits(),
		Context: cfg.ContextConfig(),
	}, sink)

	if logs.Dir != "" {
		fmt.Fprintf(a.errOut, "Run %s %s. Logs: %s\n", runID, out.Status, logs.Dir)
	}
	return outcomeError(out)
}

// drive runs the plan and feeds every event to sink. In manual mode the
// operator is asked before each step after the first.
func (a *app) drive(ctx context.Context, pe *executor.PlanExecutor, plan types.Plan, rc executor.RunConfig, sink events.Sink) executor.Outcome {
	evCh := make(chan types.ProgressEvent, 64)
	done := make(chan executor.Outcome, 1)
	go func() {
		done <- pe.Run(ctx, plan, rc, func(ev types.ProgressEvent) { evCh <- ev })
		close(evCh)
	}()

	for ev := range evCh {
		sink.Publish(ev)
		if ev.Kind == types.EventPlanPaused && rc.Mode == types.ModeManual {
			if a.confirmNext(plan.Steps, ev.StepIndex) {
				pe.Resume()
			} else {
				pe.Cancel()
			}
		}
	}
	return <-done
}

func (a *app) confirmNext(steps []types.Step, next int) bool {
	prompt := "Continue? [Enter/q] "
	if next >= 0 && next < len(steps) {
		prompt = fmt.Sprintf("Next: %s. Continue? [Enter/q] ", steps[next].Command)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt: prompt,
		Stdin:  a.in,
		Stdout: a.errOut,
	})
	if err != nil {
		return false
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "q", "quit", "n", "no":
		return false
	}
	return true
}

func (a *app) loadPlan(ctx context.Context, goal string, f runFlags, info types.SessionInfo, classifier risk.Classifier, l llm.LLM, logs *core.Logs) (types.Plan, error) {
	if f.planFile != "" {
		plan, err := planner.LoadFile(fsio.NewRealReader(), f.planFile, classifier)
		if err != nil {
			return types.Plan{}, err
		}
		if plan.Goal == "" {
			plan.Goal = goal
		}
		return plan, nil
	}

	writer := fsio.Writer(nil)
	if a.manager.Config.Agent.WritePlanJSON {
		writer = fsio.NewRealWriter()
	}
	var lp *planner.LoggingPlanner
	inner := planner.NewDefaultPlanner(l, classifier, planner.WithPlannerRawSink(func(raw string) { lp.WriteRaw(raw) }))
	lp = planner.NewLoggingPlanner(inner, logs, writer)

	fmt.Fprintf(a.errOut, "Planning %q...\n", goal)
	return lp.Plan(ctx, goal, info)
}

func (a *app) printPlan(plan types.Plan) {
	fmt.Fprintf(a.out, "Plan %s: %s\n", plan.ID, plan.Goal)
	for _, s := range plan.Steps {
		fmt.Fprintf(a.out, "%3d. [%s] %s\n", s.Index+1, s.Risk.Level, s.Command)
		if s.Description != "" {
			fmt.Fprintf(a.out, "     %s\n", s.Description)
		}
	}
	if len(plan.Rollback) > 0 {
		fmt.Fprintln(a.out, "Rollback:")
		for _, c := range plan.Rollback {
			fmt.Fprintf(a.out, "     %s\n", c)
		}
	}
}

func (a *app) sinks(cfg config.Config, runID string, logs *core.Logs, showOutput bool) (events.Sink, func()) {
	sinks := []events.Sink{
		events.NewConsoleSink(a.out, showOutput),
		events.NewLogSink(logs.HumanLogger),
	}
	closer := func() {}

	if cfg.Events.NATSURL != "" {
		ns, err := events.DialNATS(cfg.Events.NATSURL,
			events.WithSubjectPrefix(cfg.Events.Subject),
			events.WithRunID(runID),
			events.WithNATSLogger(logs.DebugLogger),
		)
		if err != nil {
			zap.S().Warnf("Not publishing events: %v", err)
		} else {
			sinks = append(sinks, ns)
			closer = func() { _ = ns.Close() }
		}
	}
	return events.NewFanout(sinks...), closer
}

func newLLM(cfg config.Config, logger *zap.SugaredLogger) (llm.LLM, error) {
	key, err := cfg.ResolveAPIKey()
	if err != nil {
		return nil, err
	}
	return llm.New(cfg.LLMSettings(key), llm.WithLogger(logger))
}

func openLogs(runID string) (*core.Logs, error) {
	home, err := internal.GetCacheHome()
	if err != nil {
		return nil, err
	}
	return core.NewLogs(home, runID)
}

// cancelOnSignal cancels the run on SIGINT or SIGTERM.
func cancelOnSignal(pe *executor.PlanExecutor) func() {
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			zap.S().Warnf("Interrupted, cancelling the run")
			pe.Cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func outcomeError(out executor.Outcome) error {
	switch out.Status {
	case types.PlanCompleted:
		return nil
	case types.PlanCancelled:
		return exitError{code: 130, msg: out.Reason}
	default:
		return exitError{code: 1, msg: out.Reason}
	}
}
