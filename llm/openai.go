package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kardolus/shellpilot/http"
)

type completionsRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
}

type completionsResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int    `json:"created"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
		Index        int     `json:"index"`
	} `json:"choices"`
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	caller http.Caller
	cfg    Config
}

var _ LLM = (*OpenAIProvider)(nil)

func NewOpenAIProvider(caller http.Caller, cfg Config) *OpenAIProvider {
	return &OpenAIProvider{caller: caller, cfg: cfg.withDefaults()}
}

func (p *OpenAIProvider) Complete(ctx context.Context, system string, messages []Message) (Completion, error) {
	return p.generate(ctx, withSystem(system, messages))
}

func (p *OpenAIProvider) CompleteRaw(ctx context.Context, prompt string) (Completion, error) {
	return p.generate(ctx, []Message{{Role: UserRole, Content: prompt}})
}

func (p *OpenAIProvider) generate(ctx context.Context, history []Message) (Completion, error) {
	req := completionsRequest{
		Messages:    history,
		Model:       p.cfg.Model,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		Stream:      false,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Completion{}, err
	}
	raw, err := p.caller.Post(ctx, p.cfg.URL+p.cfg.CompletionsPath, body)
	if err != nil {
		return Completion{}, err
	}
	var response completionsResponse
	if err := processResponse(raw, &response); err != nil {
		return Completion{}, err
	}
	if len(response.Choices) == 0 {
		return Completion{Usage: response.Usage}, errors.New("no responses returned")
	}
	return Completion{Text: response.Choices[0].Message.Content, Usage: response.Usage}, nil
}

func processResponse(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return errors.New(ErrEmptyResponse)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
