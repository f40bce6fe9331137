package records

import (
	"context"
	"sort"
	"time"
)

// Store is the append-only persistence of finished runs.
//
//go:generate mockgen -destination=../agent/executor/storemocks_test.go -package=executor_test github.com/kardolus/shellpilot/records Store
type Store interface {
	Append(ctx context.Context, r Record) error
	List(ctx context.Context) ([]Record, error)
}

type Record struct {
	RunID     string    `json:"run_id"`
	PlanID    string    `json:"plan_id"`
	Goal      string    `json:"goal"`
	Host      string    `json:"host,omitempty"`
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// Status is the final plan status; Reason explains it for anything but completed.
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	// BudgetExhausted names the circuit breaker that stopped the run, if any.
	BudgetExhausted string `json:"budget_exhausted,omitempty"`

	Steps         int       `json:"steps"`
	Attempts      []Attempt `json:"attempts"`
	Corrections   int       `json:"corrections"`
	InsertedSteps int       `json:"inserted_steps"`
	Tokens        Tokens    `json:"tokens"`
}

type Attempt struct {
	StepID     string        `json:"step_id"`
	StepIndex  int           `json:"step_index"`
	Attempt    int           `json:"attempt"`
	Command    string        `json:"command"`
	ExitCode   int           `json:"exit_code"`
	Succeeded  bool          `json:"succeeded"`
	Skipped    bool          `json:"skipped,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

type Tokens struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
	Calls      int `json:"calls"`
}

func (r Record) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

func sortByStart(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].StartedAt.Before(rs[j].StartedAt)
	})
}
