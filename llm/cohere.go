package llm

import (
	"context"
	"errors"

	co "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
)

type CohereProvider struct {
	client *cohereclient.Client
	model  string
}

var _ LLM = (*CohereProvider)(nil)

func NewCohereProvider(cfg Config) *CohereProvider {
	p := &CohereProvider{client: cohereclient.NewClient(cohereclient.WithToken(cfg.APIKey))}
	// the OpenAI default model means nothing to Cohere
	if cfg.Model != "" && cfg.Model != DefaultModel {
		p.model = cfg.Model
	}
	return p
}

func (p *CohereProvider) Complete(ctx context.Context, system string, messages []Message) (Completion, error) {
	return p.generate(ctx, withSystem(system, messages))
}

func (p *CohereProvider) CompleteRaw(ctx context.Context, prompt string) (Completion, error) {
	return p.generate(ctx, []Message{{Role: UserRole, Content: prompt}})
}

func (p *CohereProvider) generate(ctx context.Context, history []Message) (Completion, error) {
	if len(history) == 0 {
		return Completion{}, errors.New("no messages to send")
	}
	req := &co.ChatRequest{
		Message:     history[len(history)-1].Content,
		ChatHistory: coHistory(history[:len(history)-1]),
	}
	if p.model != "" {
		req.Model = &p.model
	}
	res, err := p.client.Chat(ctx, req)
	if err != nil {
		return Completion{}, err
	}
	return Completion{Text: res.Text, Usage: coUsage(res)}, nil
}

func coUsage(res *co.NonStreamedChatResponse) Usage {
	var u Usage
	if res.Meta == nil || res.Meta.BilledUnits == nil {
		return u
	}
	if in := res.Meta.BilledUnits.InputTokens; in != nil {
		u.PromptTokens = int(*in)
	}
	if out := res.Meta.BilledUnits.OutputTokens; out != nil {
		u.CompletionTokens = int(*out)
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func coHistory(history []Message) []*co.ChatMessage {
	var chatHistory []*co.ChatMessage
	for _, msg := range history {
		switch msg.Role {
		case AssistantRole:
			chatHistory = append(chatHistory, &co.ChatMessage{
				Role:    co.ChatMessageRoleChatbot,
				Message: msg.Content,
			})
		case SystemRole:
			chatHistory = append(chatHistory, &co.ChatMessage{
				Role:    co.ChatMessageRoleSystem,
				Message: msg.Content,
			})
		default:
			chatHistory = append(chatHistory, &co.ChatMessage{
				Role:    co.ChatMessageRoleUser,
				Message: msg.Content,
			})
		}
	}
	return chatHistory
}
