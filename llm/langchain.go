package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// LangChainProvider routes completions through a langchaingo model.
type LangChainProvider struct {
	model llms.Model
	cfg   Config
}

var _ LLM = (*LangChainProvider)(nil)

func NewLangChainProvider(cfg Config) (*LangChainProvider, error) {
	cfg = cfg.withDefaults()
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	}
	if cfg.URL != DefaultURL {
		opts = append(opts, openai.WithBaseURL(strings.TrimSuffix(cfg.URL, "/")+"/v1"))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return NewLangChainProviderFromModel(model, cfg), nil
}

func NewLangChainProviderFromModel(model llms.Model, cfg Config) *LangChainProvider {
	return &LangChainProvider{model: model, cfg: cfg}
}

func (p *LangChainProvider) Complete(ctx context.Context, system string, messages []Message) (Completion, error) {
	return p.generate(ctx, withSystem(system, messages))
}

func (p *LangChainProvider) CompleteRaw(ctx context.Context, prompt string) (Completion, error) {
	return p.generate(ctx, []Message{{Role: UserRole, Content: prompt}})
}

func (p *LangChainProvider) generate(ctx context.Context, history []Message) (Completion, error) {
	content := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		content = append(content, llms.MessageContent{
			Role:  lcRole(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}

	var callOpts []llms.CallOption
	if p.cfg.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(p.cfg.MaxTokens))
	}
	callOpts = append(callOpts, llms.WithTemperature(p.cfg.Temperature))

	resp, err := p.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return Completion{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return Completion{}, errors.New("no responses returned")
	}
	choice := resp.Choices[0]
	return Completion{Text: choice.Content, Usage: lcUsage(choice.GenerationInfo)}, nil
}

func lcRole(role string) schema.ChatMessageType {
	switch role {
	case SystemRole:
		return schema.ChatMessageTypeSystem
	case AssistantRole:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}

func lcUsage(info map[string]any) Usage {
	u := Usage{
		PromptTokens:     intFrom(info["PromptTokens"]),
		CompletionTokens: intFrom(info["CompletionTokens"]),
		TotalTokens:      intFrom(info["TotalTokens"]),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
