package config

import (
	"github.com/kardolus/shellpilot/agent/brain"
	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/internal"
	"github.com/kardolus/shellpilot/llm"
	"github.com/spf13/viper"
)

const (
	defaultCommandTimeoutSeconds = 300
	defaultSSHPort               = 22
	defaultShell                 = "bash"
	defaultMaxTokens             = 2048
	defaultTemperature           = 0.2
)

var defaults = map[string]interface{}{
	"llm.provider":          llm.ProviderOpenAI,
	"llm.model":             llm.DefaultModel,
	"llm.api_key":           "",
	"llm.api_key_file":      "",
	"llm.url":               llm.DefaultURL,
	"llm.completions_path":  llm.DefaultCompletionsPath,
	"llm.auth_header":       llm.DefaultAuthHeader,
	"llm.auth_token_prefix": llm.DefaultAuthTokenPrefix,
	"llm.max_tokens":        defaultMaxTokens,
	"llm.temperature":       defaultTemperature,
	"llm.skip_tls_verify":   false,

	"agent.mode":                    "self_correcting",
	"agent.max_retries_per_step":    core.DefaultMaxRetriesPerStep,
	"agent.max_total_corrections":   core.DefaultMaxTotalCorrections,
	"agent.max_inserted_steps":      core.DefaultMaxInsertedSteps,
	"agent.max_llm_tokens":          0,
	"agent.idle_warning_seconds":    15,
	"agent.idle_stall_seconds":      45,
	"agent.command_timeout_seconds": defaultCommandTimeoutSeconds,
	"agent.max_output_bytes":        core.DefaultMaxOutputBytes,
	"agent.blacklist":               []string{},
	"agent.whitelist":               []string{},
	"agent.context_max_entries":     brain.DefaultMaxEntries,
	"agent.context_summarize_at":    brain.DefaultSummarizeAt,
	"agent.context_summarize_batch": brain.DefaultSummarizeBatch,
	"agent.write_plan_json":         true,

	"session.host":           "",
	"session.port":           defaultSSHPort,
	"session.user":           "",
	"session.key_file":       "",
	"session.password_env":   "",
	"session.known_hosts":    "",
	"session.shell":          defaultShell,
	"session.prompt_pattern": "",
	"session.strategy":       StrategyLive,
	"session.local":          false,

	"records.backend": BackendFile,
	"records.path":    "",

	"events.nats_url": "",
	"events.subject":  internal.EventSubject,
}

// Every key needs a default so that SHELLPILOT_ variables can override it.
func registerDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Keys lists the known configuration keys.
func Keys() []string {
	out := make([]string, 0, len(defaults))
	for k := range defaults {
		out = append(out, k)
	}
	return out
}
