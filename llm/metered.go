package llm

import (
	"context"
	"sync"
)

// TokenCharger receives the token usage of every completion.
type TokenCharger interface {
	ChargeLLMTokens(tokens int)
}

// Metered counts tokens across calls and forwards them to an optional charger.
type Metered struct {
	inner   LLM
	charger TokenCharger

	mu    sync.Mutex
	usage Usage
	calls int
}

var _ LLM = (*Metered)(nil)

func NewMetered(inner LLM, charger TokenCharger) *Metered {
	return &Metered{inner: inner, charger: charger}
}

func (m *Metered) Complete(ctx context.Context, system string, messages []Message) (Completion, error) {
	c, err := m.inner.Complete(ctx, system, messages)
	m.record(c.Usage)
	return c, err
}

func (m *Metered) CompleteRaw(ctx context.Context, prompt string) (Completion, error) {
	c, err := m.inner.CompleteRaw(ctx, prompt)
	m.record(c.Usage)
	return c, err
}

func (m *Metered) record(u Usage) {
	m.mu.Lock()
	m.calls++
	m.usage.PromptTokens += u.PromptTokens
	m.usage.CompletionTokens += u.CompletionTokens
	m.usage.TotalTokens += u.TotalTokens
	charger := m.charger
	m.mu.Unlock()

	if charger != nil && u.TotalTokens > 0 {
		charger.ChargeLLMTokens(u.TotalTokens)
	}
}

// Usage returns the accumulated usage and number of calls.
func (m *Metered) Usage() (Usage, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage, m.calls
}

// SetCharger swaps the charger, e.g. for the budget of a new run.
func (m *Metered) SetCharger(c TokenCharger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charger = c
}
