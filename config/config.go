// Package config provides unified configuration loading for the
// NovelDrive conversation core: defaults, YAML file, then environment
// variable overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tokoroten/noveldrive/document"
	"github.com/tokoroten/noveldrive/session"
	"github.com/tokoroten/noveldrive/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NOVELDRIVE"

// Config is the complete configuration of the conversation core.
type Config struct {
	// ListenAddr is the JSON API listen address.
	ListenAddr   string                 `yaml:"listen_addr"`
	LLM          LLMConfig              `yaml:"llm"`
	Store        session.Config         `yaml:"store"`
	Orchestrator OrchestratorConfig     `yaml:"orchestrator"`
	Summarizer   SummarizerConfig       `yaml:"summarizer"`
	Matcher      document.MatcherConfig `yaml:"matcher"`
	Log          LogConfig              `yaml:"log"`
	Metrics      MetricsConfig          `yaml:"metrics"`

	// Agents is the full set of configured personas; ActiveAgents names
	// the subset forming the initial roster (all agents when empty).
	Agents       []types.Agent `yaml:"agents"`
	ActiveAgents []string      `yaml:"active_agents"`
}

// LLMConfig configures the model adapter.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // openai, mock
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// OrchestratorConfig configures the turn loop.
type OrchestratorConfig struct {
	// ObserverMode lets the conversation continue without the user: a
	// user turn auto-times-out after UserTurnGracePeriod and an invalid
	// specific speaker self-continues instead of yielding.
	ObserverMode        bool          `yaml:"observer_mode"`
	UserTurnGracePeriod time.Duration `yaml:"user_turn_grace_period"`
	// PersistDebounce batches UpdateSession calls after turns.
	PersistDebounce time.Duration `yaml:"persist_debounce"`
	// MaxContextTokens budgets the prompt built for each turn.
	MaxContextTokens int `yaml:"max_context_tokens"`
	// TokenizerModel selects the tiktoken encoding used for budgeting.
	TokenizerModel string `yaml:"tokenizer_model"`
}

// SummarizerConfig configures conversation compaction.
type SummarizerConfig struct {
	// Threshold is the entry count past the last summary that triggers
	// a summarization.
	Threshold int `yaml:"threshold"`
	// KeepRecent entries are always preserved verbatim.
	KeepRecent int `yaml:"keep_recent"`
	Model      string `yaml:"model"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 1,
			Burst:             2,
		},
		Store: session.DefaultConfig(),
		Orchestrator: OrchestratorConfig{
			UserTurnGracePeriod: 30 * time.Second,
			PersistDebounce:     2 * time.Second,
			MaxContextTokens:    24000,
			TokenizerModel:      "gpt-4o",
		},
		Summarizer: SummarizerConfig{
			Threshold:  10,
			KeepRecent: 5,
		},
		Matcher: document.DefaultMatcherConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Addr:      ":9090",
			Namespace: "noveldrive",
		},
	}
}

// Load reads the YAML file at path (skipped when empty) over the defaults
// and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Summarizer.Threshold < 1 {
		return fmt.Errorf("summarizer threshold must be >= 1, got %d", c.Summarizer.Threshold)
	}
	if c.Summarizer.KeepRecent < 0 {
		return fmt.Errorf("summarizer keep_recent must be >= 0, got %d", c.Summarizer.KeepRecent)
	}
	if c.Matcher.MinSimilarity < 0 || c.Matcher.MinSimilarity > 1 {
		return fmt.Errorf("matcher min_similarity must be in [0,1], got %v", c.Matcher.MinSimilarity)
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent with empty id")
		}
		if a.ID == types.SpeakerUser || a.ID == types.SpeakerSystem {
			return fmt.Errorf("agent id %q is reserved", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	for _, id := range c.ActiveAgents {
		if !seen[id] {
			return fmt.Errorf("active agent %q is not configured", id)
		}
	}
	return nil
}

// InitialRoster returns the configured active roster, defaulting to every
// configured agent.
func (c *Config) InitialRoster() types.Roster {
	if len(c.ActiveAgents) > 0 {
		return types.Roster(c.ActiveAgents).Clone()
	}
	roster := make(types.Roster, 0, len(c.Agents))
	for _, a := range c.Agents {
		roster = append(roster, a.ID)
	}
	return roster
}

func applyEnvOverrides(cfg *Config) {
	if v := getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := getenv("STORE_TYPE"); v != "" {
		cfg.Store.Type = session.StoreType(v)
	}
	if v := getenv("STORE_SQLITE_PATH"); v != "" {
		cfg.Store.SQLite.Path = v
	}
	if v := getenv("STORE_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := getenv("OBSERVER_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Orchestrator.ObserverMode = b
		}
	}
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + "_" + key)
}
