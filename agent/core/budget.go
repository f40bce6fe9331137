package core

import (
	"fmt"
	"sync"
	"time"
)

type Budget interface {
	Start(now time.Time)
	AllowAttempt(stepID string) error
	AllowCorrection() error
	ReserveInsertedSteps(n int) (int, error)
	ReleaseInsertedSteps(n int)
	ChargeLLMTokens(tokens int)
	Attempts(stepID string) int
	CorrectionsRemaining() int
	Snapshot(now time.Time) BudgetSnapshot
}

const (
	BudgetKindStepRetries   = "step_retries"
	BudgetKindCorrections   = "corrections"
	BudgetKindInsertedSteps = "inserted_steps"
	BudgetKindLLMTokens     = "llm_tokens"
)

const (
	DefaultMaxRetriesPerStep   = 3
	DefaultMaxTotalCorrections = 10
	DefaultMaxInsertedSteps    = 10
)

type BudgetLimits struct {
	// MaxRetriesPerStep caps the total attempts of a single step, the first one included.
	MaxRetriesPerStep   int
	MaxTotalCorrections int
	MaxInsertedSteps    int
	// MaxLLMTokens stops corrections once that many tokens were spent. Zero
	// means unlimited.
	MaxLLMTokens int
}

// WithDefaults fills non-positive limits.
func (l BudgetLimits) WithDefaults() BudgetLimits {
	if l.MaxRetriesPerStep <= 0 {
		l.MaxRetriesPerStep = DefaultMaxRetriesPerStep
	}
	if l.MaxTotalCorrections <= 0 {
		l.MaxTotalCorrections = DefaultMaxTotalCorrections
	}
	if l.MaxInsertedSteps <= 0 {
		l.MaxInsertedSteps = DefaultMaxInsertedSteps
	}
	return l
}

type BudgetSnapshot struct {
	StartedAt         time.Time
	Elapsed           time.Duration
	Limits            BudgetLimits
	AttemptsByStep    map[string]int
	CorrectionsUsed   int
	InsertedStepsUsed int
	LLMTokensUsed     int
}

// RunBudget holds the circuit breakers of one plan run.
type RunBudget struct {
	mu     sync.Mutex
	limits BudgetLimits

	started   bool
	startedAt time.Time

	attempts          map[string]int
	correctionsUsed   int
	insertedStepsUsed int
	llmTokensUsed     int
}

func NewRunBudget(limits BudgetLimits) *RunBudget {
	return &RunBudget{limits: limits.WithDefaults(), attempts: map[string]int{}}
}

func (b *RunBudget) Start(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.started = true
	b.startedAt = now
	b.attempts = map[string]int{}
	b.correctionsUsed = 0
	b.insertedStepsUsed = 0
	b.llmTokensUsed = 0
}

// AllowAttempt records one more attempt of stepID or refuses it once the
// per-step breaker is spent.
func (b *RunBudget) AllowAttempt(stepID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	used := b.attempts[stepID]
	if used >= b.limits.MaxRetriesPerStep {
		return BudgetExceededError{
			Kind:    BudgetKindStepRetries,
			Limit:   b.limits.MaxRetriesPerStep,
			Used:    used,
			Message: fmt.Sprintf("step %s retry budget exceeded", stepID),
		}
	}
	b.attempts[stepID] = used + 1
	return nil
}

// AllowCorrection spends one correction. It refuses once the corrections or
// the LLM tokens are used up.
func (b *RunBudget) AllowCorrection() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limits.MaxLLMTokens > 0 && b.llmTokensUsed >= b.limits.MaxLLMTokens {
		return BudgetExceededError{
			Kind:    BudgetKindLLMTokens,
			Limit:   b.limits.MaxLLMTokens,
			Used:    b.llmTokensUsed,
			Message: "llm token budget exceeded",
		}
	}
	if b.correctionsUsed+1 > b.limits.MaxTotalCorrections {
		return BudgetExceededError{
			Kind:    BudgetKindCorrections,
			Limit:   b.limits.MaxTotalCorrections,
			Used:    b.correctionsUsed,
			Message: "correction budget exceeded",
		}
	}
	b.correctionsUsed++
	return nil
}

// ReserveInsertedSteps grants up to n inserted steps. It errors only when
// nothing at all can be granted.
func (b *RunBudget) ReserveInsertedSteps(n int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return 0, nil
	}
	left := b.limits.MaxInsertedSteps - b.insertedStepsUsed
	if left <= 0 {
		return 0, BudgetExceededError{
			Kind:    BudgetKindInsertedSteps,
			Limit:   b.limits.MaxInsertedSteps,
			Used:    b.insertedStepsUsed,
			Message: "inserted steps budget exceeded",
		}
	}
	if n > left {
		n = left
	}
	b.insertedStepsUsed += n
	return n, nil
}

// ReleaseInsertedSteps returns a reservation that was not used.
func (b *RunBudget) ReleaseInsertedSteps(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.insertedStepsUsed -= n
	if b.insertedStepsUsed < 0 {
		b.insertedStepsUsed = 0
	}
}

func (b *RunBudget) ChargeLLMTokens(tokens int) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.llmTokensUsed += tokens
}

func (b *RunBudget) Attempts(stepID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[stepID]
}

func (b *RunBudget) CorrectionsRemaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limits.MaxTotalCorrections - b.correctionsUsed
}

func (b *RunBudget) Snapshot(now time.Time) BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		b.started = true
		b.startedAt = now
	}
	elapsed := now.Sub(b.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	attempts := make(map[string]int, len(b.attempts))
	for k, v := range b.attempts {
		attempts[k] = v
	}

	return BudgetSnapshot{
		StartedAt:         b.startedAt,
		Elapsed:           elapsed,
		Limits:            b.limits,
		AttemptsByStep:    attempts,
		CorrectionsUsed:   b.correctionsUsed,
		InsertedStepsUsed: b.insertedStepsUsed,
		LLMTokensUsed:     b.llmTokensUsed,
	}
}

// BudgetExceededError is a typed error so the executor can report which breaker tripped.
type BudgetExceededError struct {
	// "step_retries" | "corrections" | "inserted_steps" | "llm_tokens"
	Kind    string
	Limit   int
	Used    int
	Message string
}

func (e BudgetExceededError) Error() string {
	return fmt.Sprintf("%s: kind=%s limit=%d used=%d", e.Message, e.Kind, e.Limit, e.Used)
}
