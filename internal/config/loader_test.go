package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, 3, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.LLM.RetryDelay)
	assert.Equal(t, 3*time.Minute, cfg.LLM.CallTimeout)
	assert.Len(t, cfg.LLM.FallbackModels, 3)
	assert.Equal(t, 3, cfg.Session.MaxRounds)
	assert.Equal(t, 200*time.Second, cfg.Session.ActorTimeout)
	assert.Equal(t, 360*time.Second, cfg.Session.ConclusionTimeout)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.BaseURL)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: debug
server:
  port: 9191
llm:
  api_key: file-key
  requests_per_minute: 10
session:
  max_rounds: 2
  actor_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
	assert.Equal(t, 10, cfg.LLM.RequestsPerMinute)
	assert.Equal(t, 2, cfg.Session.MaxRounds)
	assert.Equal(t, 30*time.Second, cfg.Session.ActorTimeout)
	// Untouched keys keep defaults.
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o644))

	t.Setenv("FINSIGHT_SERVER_PORT", "7070")
	t.Setenv("FINSIGHT_LLM_API_KEY", "env-key")

	cfg, err := NewLoader().WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative port", func(c *Config) { c.Server.Port = -1 }},
		{"huge port", func(c *Config) { c.Server.Port = 70000 }},
		{"negative rpm", func(c *Config) { c.LLM.RequestsPerMinute = -1 }},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -2 }},
		{"zero rounds", func(c *Config) { c.Session.MaxRounds = 0 }},
		{"negative rps", func(c *Config) { c.Market.RequestsPerSecond = -0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:  ServerConfig{Port: 8080},
				LLM:     LLMConfig{RequestsPerMinute: 3, MaxRetries: 3},
				Session: SessionConfig{MaxRounds: 3},
			}
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
