package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/llm"
)

// transcriptInstruction is appended to every prompt after round one.
const transcriptInstruction = "\n\nEarlier discussion rounds produced the " +
	"observations below. Build on them where you agree and refute them " +
	"explicitly where you do not:\n\n"

// actorOutcome is the result of one actor invocation in one round.
// Exactly one of result/fatal is set when the actor produced something
// or the session must stop; both nil means the actor was skipped.
type actorOutcome struct {
	result *core.RoundResult
	fatal  error
}

// runActor drives a single actor for a single round: prompt assembly,
// the model call, and every progress event for that actor.
func (s *Session) runActor(ctx context.Context, a core.Assignment, round int, transcript *core.Transcript) actorOutcome {
	log := s.logger.WithActor(a.Actor).WithModel(a.Model)

	if a.Actor == "" || a.Model == "" {
		s.emit(events.NewWarningEvent(s.taskID, a.Actor, "actor or model not specified, skipping"))
		return actorOutcome{}
	}
	if !s.prompts.Has(a.Actor) {
		s.emit(events.NewWarningEvent(s.taskID, a.Actor,
			fmt.Sprintf("no prompt template for actor %q, skipping", a.Actor)))
		return actorOutcome{}
	}

	s.emit(events.NewProgressEvent(s.taskID, a.Actor, a.Model, round,
		fmt.Sprintf("running %s analysis with %s", a.Actor, a.Model)))

	prompt, err := s.prompts.RenderRole(a.Actor, RolePromptParams{
		StockName: s.target.Name,
		StockCode: s.target.Code,
		FactSheet: s.target.FactSheet,
	})
	if err != nil {
		s.emit(events.NewErrorEvent(s.taskID, a.Actor, err))
		return actorOutcome{}
	}
	if round > 1 {
		prompt += transcriptInstruction + transcript.Text()
	}

	s.emit(events.NewInfoEvent(s.taskID,
		fmt.Sprintf("%s prompt ready, %d characters", a.Actor, len(prompt)),
		events.DetailPromptReady))
	s.emit(events.NewInfoEvent(s.taskID,
		fmt.Sprintf("requesting %s for %s analysis", a.Model, a.Actor),
		events.DetailAPIRequestStart))

	obs := &llm.Observer{
		OnRetry: func(model string, attempt, maxAttempts int, delay time.Duration, err error) {
			s.emit(events.NewRetryEvent(s.taskID, model, attempt, maxAttempts, delay, err))
		},
		OnFallback: func(from, to string) {
			s.emit(events.NewFallbackEvent(s.taskID, from, to))
		},
	}

	// Outer wall-clock budget for the whole actor-round, wider than the
	// per-request timeout so retries get a chance.
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ActorTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.caller.Call(callCtx, a.Model, systemPromptAnalyst, prompt, obs)
	if err != nil {
		if ctx.Err() != nil {
			// Session itself cancelled; let the caller unwind.
			return actorOutcome{fatal: ctx.Err()}
		}
		if core.IsCategory(err, core.ErrCatAuth) {
			log.Error("authentication failed, aborting session", "error", err)
			s.emit(events.NewErrorEvent(s.taskID, a.Actor, err))
			return actorOutcome{fatal: err}
		}
		if callCtx.Err() == context.DeadlineExceeded {
			log.Warn("actor timed out, skipping for this round", "timeout", s.cfg.ActorTimeout)
			s.emit(events.NewWarningEvent(s.taskID, a.Actor,
				fmt.Sprintf("%s analysis timed out after %s, skipped this round", a.Actor, s.cfg.ActorTimeout)))
			return actorOutcome{}
		}
		log.Error("actor analysis failed", "error", err)
		s.emit(events.NewErrorEvent(s.taskID, a.Actor, err))
		return actorOutcome{}
	}

	elapsed := time.Since(start)
	ev := events.NewInfoEvent(s.taskID,
		fmt.Sprintf("%s analysis request completed in %.2fs", a.Actor, elapsed.Seconds()),
		events.DetailAPIRequestComplete)
	ev.Elapsed = fmt.Sprintf("%.2f", elapsed.Seconds())
	s.emit(ev)

	s.emit(events.NewAnalysisEvent(s.taskID, a.Actor, round, result.Content, result.Stats))
	log.Info("actor analysis completed",
		"round", round,
		"chars", result.Stats.CharCount,
		"elapsed", elapsed,
	)

	return actorOutcome{result: &core.RoundResult{
		Actor:   a.Actor,
		Content: result.Content,
		Round:   round,
	}}
}

// systemPromptAnalyst frames every actor call.
const systemPromptAnalyst = "You are a professional stock analysis AI assistant."
