package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kardolus/shellpilot/http"
	"go.uber.org/zap"
)

const (
	AssistantRole = "assistant"
	SystemRole    = "system"
	UserRole      = "user"

	ProviderOpenAI    = "openai"
	ProviderCohere    = "cohere"
	ProviderLangChain = "langchain"

	DefaultURL             = "https://api.openai.com"
	DefaultCompletionsPath = "/v1/chat/completions"
	DefaultModel           = "gpt-4o-mini"
	DefaultAuthHeader      = "Authorization"
	DefaultAuthTokenPrefix = "Bearer "

	ErrEmptyResponse = "empty response"
)

var ErrNoProvider = errors.New("no llm provider configured")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Completion struct {
	Text  string
	Usage Usage
}

// LLM is the text completion capability. CompleteRaw sends the prompt as a
// single user message with no system prompt.
//
//go:generate mockgen -destination=llmmocks_test.go -package=llm_test github.com/kardolus/shellpilot/llm LLM
type LLM interface {
	Complete(ctx context.Context, system string, messages []Message) (Completion, error)
	CompleteRaw(ctx context.Context, prompt string) (Completion, error)
}

type Config struct {
	Provider        string
	Model           string
	APIKey          string
	URL             string
	CompletionsPath string
	AuthHeader      string
	AuthTokenPrefix string
	MaxTokens       int
	Temperature     float64
	SkipTLSVerify   bool
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.CompletionsPath == "" {
		c.CompletionsPath = DefaultCompletionsPath
	}
	if c.AuthHeader == "" {
		c.AuthHeader = DefaultAuthHeader
	}
	if c.AuthTokenPrefix == "" {
		c.AuthTokenPrefix = DefaultAuthTokenPrefix
	}
	return c
}

type Option func(*options)

type options struct {
	logger        *zap.SugaredLogger
	callerFactory func(http.Config) http.Caller
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCallerFactory replaces the REST caller used by the OpenAI-compatible provider.
func WithCallerFactory(f func(http.Config) http.Caller) Option {
	return func(o *options) {
		if f != nil {
			o.callerFactory = f
		}
	}
}

// New selects the provider named in cfg. A missing API key yields
// ErrNoProvider so callers can run without the agent loop.
func New(cfg Config, opts ...Option) (LLM, error) {
	o := options{
		logger:        zap.NewNop().Sugar(),
		callerFactory: func(c http.Config) http.Caller { return http.New(c) },
	}
	for _, fn := range opts {
		fn(&o)
	}

	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoProvider
	}

	o.logger.Debugf("llm provider=%s model=%s", cfg.Provider, cfg.Model)

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		caller := o.callerFactory(http.Config{
			APIKey:          cfg.APIKey,
			AuthHeader:      cfg.AuthHeader,
			AuthTokenPrefix: cfg.AuthTokenPrefix,
			SkipTLSVerify:   cfg.SkipTLSVerify,
		})
		return NewOpenAIProvider(caller, cfg), nil
	case ProviderCohere:
		return NewCohereProvider(cfg), nil
	case ProviderLangChain:
		return NewLangChainProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %v", cfg.Provider)
	}
}

func withSystem(system string, messages []Message) []Message {
	out := make([]Message, 0, len(messages)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, Message{Role: SystemRole, Content: system})
	}
	return append(out, messages...)
}
