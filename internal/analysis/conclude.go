package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/llm"
)

// systemPromptSynthesis frames the conclusion call.
const systemPromptSynthesis = "You are a professional stock analysis synthesis expert."

// runConclusion synthesizes the final verdict from every round's
// results. Failures here never fail the session: partial actor output
// has already been delivered, so the session still completes.
func (s *Session) runConclusion(ctx context.Context, transcript *core.Transcript) {
	model := s.roster.ConclusionModel()

	s.emit(events.NewInfoEvent(s.taskID, "generating final conclusion", events.DetailConclusionStart))
	s.logger.Info("generating conclusion", "model", model, "results", transcript.Len())

	prompt, err := s.prompts.RenderConclusion(ConclusionPromptParams{
		StockName:    s.target.Name,
		StockCode:    s.target.Code,
		AnalysisText: synthesisText(transcript),
	})
	if err != nil {
		s.emit(events.NewErrorEvent(s.taskID, "", err))
		return
	}

	obs := &llm.Observer{
		OnRetry: func(model string, attempt, maxAttempts int, delay time.Duration, err error) {
			s.emit(events.NewRetryEvent(s.taskID, model, attempt, maxAttempts, delay, err))
		},
		OnFallback: func(from, to string) {
			s.emit(events.NewFallbackEvent(s.taskID, from, to))
		},
	}

	// The synthesis prompt is larger and slower than actor prompts, so
	// it gets its own, wider budget.
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ConclusionTimeout)
	defer cancel()

	result, err := s.caller.Call(callCtx, model, systemPromptSynthesis, prompt, obs)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = core.ErrTimeout(fmt.Sprintf("conclusion timed out after %s", s.cfg.ConclusionTimeout)).WithCause(err)
		}
		s.logger.Error("conclusion generation failed", "error", err)
		s.emit(events.NewErrorEvent(s.taskID, "", err))
		return
	}

	s.emit(events.NewConclusionEvent(s.taskID, result.Content, result.Stats))
	s.logger.Info("conclusion generated",
		"model", result.Stats.Model,
		"chars", result.Stats.CharCount,
		"elapsed_s", result.Stats.Elapsed,
	)
}

// synthesisText renders all round results as role-labelled sections
// for the synthesis prompt.
func synthesisText(transcript *core.Transcript) string {
	var b strings.Builder
	for _, r := range transcript.Results() {
		fmt.Fprintf(&b, "## %s (round %d)\n%s\n\n", r.Actor, r.Round, r.Content)
	}
	return b.String()
}
