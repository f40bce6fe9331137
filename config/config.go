package config

import (
	"time"

	"github.com/kardolus/shellpilot/agent/brain"
	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/idle"
	"github.com/kardolus/shellpilot/agent/risk"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/llm"
)

type Config struct {
	LLM     LLMConfig     `yaml:"llm" mapstructure:"llm"`
	Agent   AgentConfig   `yaml:"agent" mapstructure:"agent"`
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	Records RecordsConfig `yaml:"records" mapstructure:"records"`
	Events  EventsConfig  `yaml:"events" mapstructure:"events"`
}

type LLMConfig struct {
	Provider        string  `yaml:"provider" mapstructure:"provider"`
	Model           string  `yaml:"model" mapstructure:"model"`
	APIKey          string  `yaml:"api_key" mapstructure:"api_key"`
	APIKeyFile      string  `yaml:"api_key_file" mapstructure:"api_key_file"`
	URL             string  `yaml:"url" mapstructure:"url"`
	CompletionsPath string  `yaml:"completions_path" mapstructure:"completions_path"`
	AuthHeader      string  `yaml:"auth_header" mapstructure:"auth_header"`
	AuthTokenPrefix string  `yaml:"auth_token_prefix" mapstructure:"auth_token_prefix"`
	MaxTokens       int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature     float64 `yaml:"temperature" mapstructure:"temperature"`
	SkipTLSVerify   bool    `yaml:"skip_tls_verify" mapstructure:"skip_tls_verify"`
}

type AgentConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"`

	// Circuit breakers
	MaxRetriesPerStep   int `yaml:"max_retries_per_step" mapstructure:"max_retries_per_step"`
	MaxTotalCorrections int `yaml:"max_total_corrections" mapstructure:"max_total_corrections"`
	MaxInsertedSteps    int `yaml:"max_inserted_steps" mapstructure:"max_inserted_steps"`
	MaxLLMTokens        int `yaml:"max_llm_tokens" mapstructure:"max_llm_tokens"`

	// Command supervision
	IdleWarningSeconds    int `yaml:"idle_warning_seconds" mapstructure:"idle_warning_seconds"`
	IdleStallSeconds      int `yaml:"idle_stall_seconds" mapstructure:"idle_stall_seconds"`
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds" mapstructure:"command_timeout_seconds"`
	MaxOutputBytes        int `yaml:"max_output_bytes" mapstructure:"max_output_bytes"`

	// Risk policy
	Blacklist []string `yaml:"blacklist" mapstructure:"blacklist"`
	Whitelist []string `yaml:"whitelist" mapstructure:"whitelist"`

	// Agent memory
	ContextMaxEntries     int `yaml:"context_max_entries" mapstructure:"context_max_entries"`
	ContextSummarizeAt    int `yaml:"context_summarize_at" mapstructure:"context_summarize_at"`
	ContextSummarizeBatch int `yaml:"context_summarize_batch" mapstructure:"context_summarize_batch"`

	// Artifacts
	WritePlanJSON bool `yaml:"write_plan_json" mapstructure:"write_plan_json"`
}

type SessionConfig struct {
	Host          string `yaml:"host" mapstructure:"host"`
	Port          int    `yaml:"port" mapstructure:"port"`
	User          string `yaml:"user" mapstructure:"user"`
	KeyFile       string `yaml:"key_file" mapstructure:"key_file"`
	PasswordEnv   string `yaml:"password_env" mapstructure:"password_env"`
	KnownHosts    string `yaml:"known_hosts" mapstructure:"known_hosts"`
	Shell         string `yaml:"shell" mapstructure:"shell"`
	PromptPattern string `yaml:"prompt_pattern" mapstructure:"prompt_pattern"`
	Strategy      string `yaml:"strategy" mapstructure:"strategy"`
	Local         bool   `yaml:"local" mapstructure:"local"`
}

type RecordsConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	Path    string `yaml:"path" mapstructure:"path"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url" mapstructure:"nats_url"`
	Subject string `yaml:"subject" mapstructure:"subject"`
}

const (
	StrategyLive  = "live"
	StrategyBatch = "batch"

	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

func (c Config) BudgetLimits() core.BudgetLimits {
	return core.BudgetLimits{
		MaxRetriesPerStep:   c.Agent.MaxRetriesPerStep,
		MaxTotalCorrections: c.Agent.MaxTotalCorrections,
		MaxInsertedSteps:    c.Agent.MaxInsertedSteps,
		MaxLLMTokens:        c.Agent.MaxLLMTokens,
	}
}

func (c Config) IdleConfig() idle.Config {
	return idle.Config{
		WarningAfter: time.Duration(c.Agent.IdleWarningSeconds) * time.Second,
		StalledAfter: time.Duration(c.Agent.IdleStallSeconds) * time.Second,
	}
}

func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.Agent.CommandTimeoutSeconds) * time.Second
}

func (c Config) RiskLimits() risk.Limits {
	return risk.Limits{Blacklist: c.Agent.Blacklist, Whitelist: c.Agent.Whitelist}
}

func (c Config) ContextConfig() brain.ContextConfig {
	return brain.ContextConfig{
		MaxEntries:     c.Agent.ContextMaxEntries,
		SummarizeAt:    c.Agent.ContextSummarizeAt,
		SummarizeBatch: c.Agent.ContextSummarizeBatch,
	}
}

func (c Config) ExecutionMode() types.ExecutionMode {
	return types.ExecutionMode(c.Agent.Mode)
}

// LLMSettings maps the llm section; apiKey is the resolved secret.
func (c Config) LLMSettings(apiKey string) llm.Config {
	return llm.Config{
		Provider:        c.LLM.Provider,
		Model:           c.LLM.Model,
		APIKey:          apiKey,
		URL:             c.LLM.URL,
		CompletionsPath: c.LLM.CompletionsPath,
		AuthHeader:      c.LLM.AuthHeader,
		AuthTokenPrefix: c.LLM.AuthTokenPrefix,
		MaxTokens:       c.LLM.MaxTokens,
		Temperature:     c.LLM.Temperature,
		SkipTLSVerify:   c.LLM.SkipTLSVerify,
	}
}
