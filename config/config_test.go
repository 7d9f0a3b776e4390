package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokoroten/noveldrive/session"
	"github.com/tokoroten/noveldrive/types"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.Summarizer.Threshold)
	assert.Equal(t, 5, cfg.Summarizer.KeepRecent)
	assert.Equal(t, 0.8, cfg.Matcher.MinSimilarity)
	assert.Equal(t, 30*time.Second, cfg.Matcher.Timeout)
	assert.Equal(t, session.StoreTypeMemory, cfg.Store.Type)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: mock
  model: test-model
store:
  type: sqlite
  sqlite:
    path: /tmp/test.db
summarizer:
  threshold: 20
  keep_recent: 8
orchestrator:
  observer_mode: true
agents:
  - id: writer
    display_name: Writer
    can_edit_document: true
    system_prompt: You write prose.
  - id: critic
    display_name: Critic
    system_prompt: You critique prose.
active_agents: [writer]
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, session.StoreTypeSQLite, cfg.Store.Type)
	assert.Equal(t, 20, cfg.Summarizer.Threshold)
	assert.True(t, cfg.Orchestrator.ObserverMode)
	require.Len(t, cfg.Agents, 2)
	assert.True(t, cfg.Agents[0].CanEditDocument)
	assert.False(t, cfg.Agents[1].CanEditDocument)
	assert.Equal(t, types.Roster{"writer"}, cfg.InitialRoster())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NOVELDRIVE_LLM_MODEL", "env-model")
	t.Setenv("NOVELDRIVE_STORE_TYPE", "redis")
	t.Setenv("NOVELDRIVE_OBSERVER_MODE", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, session.StoreTypeRedis, cfg.Store.Type)
	assert.True(t, cfg.Orchestrator.ObserverMode)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Summarizer.Threshold = 0 }},
		{"negative keep_recent", func(c *Config) { c.Summarizer.KeepRecent = -1 }},
		{"similarity out of range", func(c *Config) { c.Matcher.MinSimilarity = 1.5 }},
		{"empty agent id", func(c *Config) { c.Agents = []types.Agent{{}} }},
		{"reserved agent id", func(c *Config) { c.Agents = []types.Agent{{ID: "user"}} }},
		{"duplicate agent id", func(c *Config) { c.Agents = []types.Agent{{ID: "a"}, {ID: "a"}} }},
		{"unknown active agent", func(c *Config) { c.ActiveAgents = []string{"ghost"} }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		assert.Error(t, cfg.Validate(), tc.name)
	}
}

func TestInitialRoster_DefaultsToAllAgents(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Agents = []types.Agent{{ID: "a"}, {ID: "b"}}
	assert.Equal(t, types.Roster{"a", "b"}, cfg.InitialRoster())
}
