// Package config defines the application configuration and its loader.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the finsight service.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Session SessionConfig `mapstructure:"session"`
	Market  MarketConfig  `mapstructure:"market"`
	Prompts PromptsConfig `mapstructure:"prompts"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig controls the SQLite store.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// LLMConfig controls the model provider client and call policy.
type LLMConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Referer           string        `mapstructure:"referer"`
	AppTitle          string        `mapstructure:"app_title"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	FallbackModels    []string      `mapstructure:"fallback_models"`
}

// SessionConfig controls multi-round analysis sessions.
type SessionConfig struct {
	MaxRounds         int           `mapstructure:"max_rounds"`
	ActorTimeout      time.Duration `mapstructure:"actor_timeout"`
	ConclusionTimeout time.Duration `mapstructure:"conclusion_timeout"`
	PacingDelay       time.Duration `mapstructure:"pacing_delay"`
	RoundDelay        time.Duration `mapstructure:"round_delay"`
}

// MarketConfig controls the market data refresher.
type MarketConfig struct {
	QuoteURL          string        `mapstructure:"quote_url"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// PromptsConfig controls analyst prompt templates.
type PromptsConfig struct {
	RolesFile string `mapstructure:"roles_file"`
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must be >= 0, got %d", c.LLM.RequestsPerMinute)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be >= 0, got %d", c.LLM.MaxRetries)
	}
	if c.Session.MaxRounds < 1 {
		return fmt.Errorf("session.max_rounds must be >= 1, got %d", c.Session.MaxRounds)
	}
	if c.Market.RequestsPerSecond < 0 {
		return fmt.Errorf("market.requests_per_second must be >= 0, got %f", c.Market.RequestsPerSecond)
	}
	return nil
}
