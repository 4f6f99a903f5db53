package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "FINSIGHT",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "FINSIGHT",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (FINSIGHT_*)
// 3. Project config (.finsight.yaml in current directory)
// 4. User config (~/.config/finsight/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".finsight")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "finsight"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Server defaults
	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	l.v.SetDefault("store.path", ".finsight/finsight.db")

	// LLM defaults
	l.v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	l.v.SetDefault("llm.requests_per_minute", 3)
	l.v.SetDefault("llm.max_retries", 3)
	l.v.SetDefault("llm.retry_delay", "2s")
	l.v.SetDefault("llm.call_timeout", "3m")
	l.v.SetDefault("llm.fallback_models", []string{
		"deepseek/deepseek-chat:free",
		"qwen/qwen-2.5-72b-instruct:free",
		"meta-llama/llama-3.3-70b-instruct:free",
	})

	// Session defaults
	l.v.SetDefault("session.max_rounds", 3)
	l.v.SetDefault("session.actor_timeout", "200s")
	l.v.SetDefault("session.conclusion_timeout", "360s")
	l.v.SetDefault("session.pacing_delay", "500ms")
	l.v.SetDefault("session.round_delay", "1s")

	// Market defaults
	l.v.SetDefault("market.quote_url", "")
	l.v.SetDefault("market.refresh_interval", "6h")
	l.v.SetDefault("market.requests_per_second", 2.0)
	l.v.SetDefault("market.request_timeout", "15s")

	// Prompt defaults
	l.v.SetDefault("prompts.roles_file", "")
}
