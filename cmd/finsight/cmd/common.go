package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/finsight-ai/finsight/internal/analysis"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/logging"
)

// app bundles the shared wiring built from configuration.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	caller  *llm.Caller
	prompts *analysis.PromptStore
}

// buildApp loads configuration and constructs everything every command
// needs. Store and server wiring stay in the commands that use them.
func buildApp() (*app, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader = loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key is not set (FINSIGHT_LLM_API_KEY)")
	}

	client := llm.NewClient(llm.ClientConfig{
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Referer:  cfg.LLM.Referer,
		AppTitle: cfg.LLM.AppTitle,
	})
	limiter := llm.NewRateLimiter(cfg.LLM.RequestsPerMinute)
	caller := llm.NewCaller(client, limiter, llm.CallerConfig{
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryDelay:     cfg.LLM.RetryDelay,
		CallTimeout:    cfg.LLM.CallTimeout,
		FallbackModels: cfg.LLM.FallbackModels,
	}, logger)

	var promptOpts []analysis.PromptStoreOption
	if cfg.Prompts.RolesFile != "" {
		promptOpts = append(promptOpts, analysis.WithRolesFile(cfg.Prompts.RolesFile))
	}
	prompts, err := analysis.NewPromptStore(logger, promptOpts...)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		caller:  caller,
		prompts: prompts,
	}, nil
}

// sessionConfig translates config into session tuning.
func (a *app) sessionConfig() analysis.Config {
	return analysis.Config{
		MaxRounds:         a.cfg.Session.MaxRounds,
		ActorTimeout:      a.cfg.Session.ActorTimeout,
		ConclusionTimeout: a.cfg.Session.ConclusionTimeout,
		PacingDelay:       a.cfg.Session.PacingDelay,
		RoundDelay:        a.cfg.Session.RoundDelay,
	}
}
