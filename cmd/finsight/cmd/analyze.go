package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/finsight-ai/finsight/internal/analysis"
	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/store"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a one-shot analysis and stream progress to the terminal",
	Long: `Runs a complete multi-round analysis for one stock and prints every
progress event as it happens. The stock's fact sheet comes from the
local store when available.

Actors are given as actor=model pairs, for example:

  finsight analyze --code 600519 --name "Kweichow Moutai" \
    --actor technical=deepseek/deepseek-chat:free \
    --actor fundamental=qwen/qwen-2.5-72b-instruct:free`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("code", "", "stock code (required)")
	analyzeCmd.Flags().String("name", "", "stock name (required unless stored)")
	analyzeCmd.Flags().StringArray("actor", nil, "actor=model assignment (repeatable)")
	analyzeCmd.Flags().Int("rounds", 0, "discussion rounds (overrides config)")
	_ = analyzeCmd.MarkFlagRequired("code")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	code, _ := cmd.Flags().GetString("code")
	name, _ := cmd.Flags().GetString("name")
	actorFlags, _ := cmd.Flags().GetStringArray("actor")
	rounds, _ := cmd.Flags().GetInt("rounds")

	roster, err := parseRoster(actorFlags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target := analysis.Target{Code: code, Name: name}
	if st, err := store.New(a.cfg.Store.Path); err == nil {
		if stock, err := st.GetStock(ctx, code); err == nil {
			if target.Name == "" {
				target.Name = stock.Name
			}
			if candles, err := st.RecentCandles(ctx, stock.ID, "1d", core.FactSheetLimit); err == nil {
				target.FactSheet = core.FormatFactSheet(candles)
			}
		}
		_ = st.Close()
	}
	if target.FactSheet == "" {
		target.FactSheet = core.FormatFactSheet(nil)
	}

	cfg := a.sessionConfig()
	if rounds > 0 {
		cfg.MaxRounds = rounds
	}

	taskID := uuid.NewString()
	session := analysis.NewSession(taskID, roster, target, cfg, a.caller, a.prompts, a.logger)

	for ev := range session.Run(ctx) {
		printEvent(cmd, ev)
	}
	return session.Err()
}

// parseRoster converts actor=model flags into a roster.
func parseRoster(flags []string) (core.Roster, error) {
	if len(flags) == 0 {
		return nil, fmt.Errorf("at least one --actor actor=model is required")
	}
	roster := core.Roster{}
	for _, f := range flags {
		actor, model, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --actor %q, expected actor=model", f)
		}
		roster = append(roster, core.Assignment{
			Actor: strings.TrimSpace(actor),
			Model: strings.TrimSpace(model),
		})
	}
	return roster, nil
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	out := cmd.OutOrStdout()
	switch e := ev.(type) {
	case events.InfoEvent:
		fmt.Fprintf(out, "[info] %s\n", e.Message)
	case events.WarningEvent:
		fmt.Fprintf(out, "[warn] %s\n", e.Message)
	case events.ErrorEvent:
		fmt.Fprintf(out, "[error] %s\n", e.Message)
	case events.ProgressEvent:
		fmt.Fprintf(out, "[round %d] %s (%s) analyzing...\n", e.Round, e.Actor, e.Model)
	case events.RetryEvent:
		fmt.Fprintf(out, "[retry] %s attempt %d/%d in %s\n", e.Model, e.Attempt, e.MaxAttempts, e.Delay)
	case events.FallbackEvent:
		fmt.Fprintf(out, "[fallback] %s -> %s\n", e.FromModel, e.ToModel)
	case events.AnalysisEvent:
		fmt.Fprintf(out, "\n--- %s (round %d, %s) ---\n%s\n\n", e.Actor, e.Round, e.Stats.Model, e.Content)
	case events.ConclusionEvent:
		fmt.Fprintf(out, "\n=== Conclusion (%s) ===\n%s\n\n", e.Stats.Model, e.Content)
	case events.CompleteEvent:
		fmt.Fprintf(out, "[done] %s\n", e.Message)
	}
}
