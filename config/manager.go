package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kardolus/shellpilot/agent/core"
	"github.com/kardolus/shellpilot/agent/idle"
	"github.com/kardolus/shellpilot/agent/types"
	"github.com/kardolus/shellpilot/internal"
	"github.com/kardolus/shellpilot/llm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager resolves the configuration from defaults, the config file, the
// SHELLPILOT_ environment and bound command flags, in increasing priority.
type Manager struct {
	v    *viper.Viper
	path string

	Config Config
}

type Option func(*Manager)

// WithConfigFile reads path instead of <config home>/config.yaml.
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.path = path
		}
	}
}

func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{v: viper.New()}
	for _, o := range opts {
		o(m)
	}

	if m.path == "" {
		home, err := internal.GetConfigHome()
		if err != nil {
			return nil, err
		}
		m.path = filepath.Join(home, internal.ConfigName+"."+internal.ConfigType)
	}

	registerDefaults(m.v)
	m.v.SetConfigFile(m.path)
	m.v.SetConfigType(internal.ConfigType)
	m.v.SetEnvPrefix(internal.EnvPrefix)
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.v.AutomaticEnv()

	if err := m.v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", m.path, err)
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}

// Path is the config file location, whether or not it exists.
func (m *Manager) Path() string { return m.path }

// BindFlags binds config keys to flags of cmd by name and reloads. Only flags
// the user actually set take priority over the file and environment.
func (m *Manager) BindFlags(cmd *cobra.Command, bindings map[string]string) error {
	for key, name := range bindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q for key %s", name, key)
		}
		if err := m.v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return m.load()
}

// Set overrides one key for this process only.
func (m *Manager) Set(key string, value interface{}) error {
	m.v.Set(key, value)
	return m.load()
}

func (m *Manager) load() error {
	var c Config
	if err := m.v.Unmarshal(&c); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	validated, err := Validate(c)
	if err != nil {
		return err
	}
	m.Config = validated
	return nil
}

// ShowConfig serializes the current configuration to YAML with the API key masked.
func (m *Manager) ShowConfig() (string, error) {
	c := m.Config
	if c.LLM.APIKey != "" {
		c.LLM.APIKey = "********"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Save writes the current configuration to the config file under an
// exclusive lock.
func (m *Manager) Save() error {
	data, err := yaml.Marshal(m.Config)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return withLock(m.path, func() error {
		return os.WriteFile(m.path, data, 0o600)
	})
}

// Validate fills non-positive limits with defaults and rejects values that
// cannot work.
func Validate(c Config) (Config, error) {
	limits := c.BudgetLimits().WithDefaults()
	c.Agent.MaxRetriesPerStep = limits.MaxRetriesPerStep
	c.Agent.MaxTotalCorrections = limits.MaxTotalCorrections
	c.Agent.MaxInsertedSteps = limits.MaxInsertedSteps

	if c.Agent.IdleWarningSeconds <= 0 {
		c.Agent.IdleWarningSeconds = int(idle.DefaultWarningAfter.Seconds())
	}
	if c.Agent.IdleStallSeconds <= c.Agent.IdleWarningSeconds {
		c.Agent.IdleStallSeconds = 3 * c.Agent.IdleWarningSeconds
	}
	if c.Agent.CommandTimeoutSeconds <= 0 {
		c.Agent.CommandTimeoutSeconds = defaultCommandTimeoutSeconds
	}
	if c.Agent.MaxOutputBytes <= 0 {
		c.Agent.MaxOutputBytes = core.DefaultMaxOutputBytes
	}

	mode, ok := types.ParseExecutionMode(c.Agent.Mode)
	if !ok {
		return c, fmt.Errorf("invalid agent.mode %q: must be manual, linear or self_correcting", c.Agent.Mode)
	}
	c.Agent.Mode = string(mode)

	switch c.Session.Strategy {
	case "":
		c.Session.Strategy = StrategyLive
	case StrategyLive, StrategyBatch:
	default:
		return c, fmt.Errorf("invalid session.strategy %q: must be live or batch", c.Session.Strategy)
	}

	switch c.Records.Backend {
	case "":
		c.Records.Backend = BackendFile
	case BackendFile, BackendSQLite:
	default:
		return c, fmt.Errorf("invalid records.backend %q: must be file or sqlite", c.Records.Backend)
	}

	switch c.LLM.Provider {
	case "", llm.ProviderOpenAI, llm.ProviderCohere, llm.ProviderLangChain:
	default:
		return c, fmt.Errorf("invalid llm.provider %q", c.LLM.Provider)
	}

	if c.Session.Port <= 0 {
		c.Session.Port = defaultSSHPort
	}
	return c, nil
}
