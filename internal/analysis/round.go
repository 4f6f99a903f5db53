package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/events"
)

// runRounds drives every active assignment through up to MaxRounds
// discussion rounds, accumulating successes into the transcript.
// Returns a fatal error only when the session must stop (auth failure
// or cancellation); a bootstrap failure (round 1 with no output) is
// reported through roundsFailed.
func (s *Session) runRounds(ctx context.Context, actors []core.Assignment, transcript *core.Transcript) (roundsRun int, fatal error) {
	for round := 1; round <= s.cfg.MaxRounds; round++ {
		successes := 0

		for i, a := range actors {
			outcome := s.runActor(ctx, a, round, transcript)
			if outcome.fatal != nil {
				return round, outcome.fatal
			}
			if outcome.result != nil {
				transcript.Append(*outcome.result)
				successes++
			}

			// Pacing keeps downstream event delivery observable; the
			// last actor of a round does not need it.
			if i < len(actors)-1 {
				if err := s.sleep(ctx, s.cfg.PacingDelay); err != nil {
					return round, err
				}
			}
		}

		if successes == 0 {
			if round == 1 {
				// Nothing to seed the transcript with; the session
				// cannot bootstrap.
				err := core.ErrNoResults("no analyst produced output in round 1")
				s.emit(events.NewErrorEvent(s.taskID, "", err))
				s.markFailed(err)
				return round, nil
			}
			s.logger.Warn("round produced no results, concluding with prior rounds", "round", round)
			s.emit(events.NewWarningEvent(s.taskID, "",
				fmt.Sprintf("round %d produced no results, concluding with earlier rounds", round)))
			return round, nil
		}

		if round < s.cfg.MaxRounds {
			s.emit(events.NewInfoEvent(s.taskID,
				fmt.Sprintf("round %d complete, starting round %d", round, round+1),
				events.DetailRoundComplete))
			if err := s.sleep(ctx, s.cfg.RoundDelay); err != nil {
				return round, err
			}
		}

		roundsRun = round
	}
	return roundsRun, nil
}

// sleep waits for d or until the context is cancelled.
func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
