// Package analysis runs multi-round, multi-actor stock assessments:
// each active roster entry is prompted once per round, successful
// outputs accumulate into a shared transcript, and a synthesis call
// produces the final verdict. All progress is surfaced as an ordered
// event stream.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/logging"
)

// Config holds session tuning knobs.
type Config struct {
	MaxRounds         int           // discussion rounds; 1 means single pass
	ActorTimeout      time.Duration // wall clock per actor-round
	ConclusionTimeout time.Duration // wall clock for synthesis
	PacingDelay       time.Duration // between actors within a round
	RoundDelay        time.Duration // between rounds
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxRounds:         3,
		ActorTimeout:      200 * time.Second,
		ConclusionTimeout: 360 * time.Second,
		PacingDelay:       500 * time.Millisecond,
		RoundDelay:        time.Second,
	}
}

// Target is the entity under analysis plus its pre-formatted fact
// sheet (recent price history as text).
type Target struct {
	Code      string
	Name      string
	FactSheet string
}

// Session drives one complete analysis: validation, rounds,
// conclusion, and exactly one terminal event. Not restartable.
type Session struct {
	taskID  string
	roster  core.Roster
	target  Target
	cfg     Config
	caller  *llm.Caller
	prompts *PromptStore
	logger  *logging.Logger

	out chan events.Event

	mu      sync.Mutex
	err     error
	started bool
}

// NewSession creates a session. taskID stamps every emitted event.
func NewSession(taskID string, roster core.Roster, target Target, cfg Config, caller *llm.Caller, prompts *PromptStore, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = 1
	}
	return &Session{
		taskID:  taskID,
		roster:  roster,
		target:  target,
		cfg:     cfg,
		caller:  caller,
		prompts: prompts,
		logger:  logger.WithTask(taskID),
		out:     make(chan events.Event, 16),
	}
}

// Run starts the session and returns its ordered event stream. The
// channel is closed after the terminal event. Run may be called once.
func (s *Session) Run(ctx context.Context) <-chan events.Event {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		closed := make(chan events.Event)
		close(closed)
		return closed
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.out)
		s.run(ctx)
	}()
	return s.out
}

// Err reports the session's terminal error, if any, once the event
// channel has closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) markFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// emit delivers an event to the consumer in emission order.
func (s *Session) emit(ev events.Event) {
	s.out <- ev
}

func (s *Session) run(ctx context.Context) {
	// Unrecoverable input errors produce a single error event and
	// nothing else.
	if err := s.validate(); err != nil {
		s.markFailed(err)
		s.emit(events.NewErrorEvent(s.taskID, "", err))
		return
	}

	actors := s.roster.Active()
	s.emit(events.NewInfoEvent(s.taskID,
		fmt.Sprintf("starting analysis of %s (%s)", s.target.Name, s.target.Code),
		events.DetailStart))
	s.logger.Info("analysis session started",
		"stock", s.target.Code,
		"actors", len(actors),
		"max_rounds", s.cfg.MaxRounds,
	)

	transcript := &core.Transcript{}
	rounds, fatal := s.runRounds(ctx, actors, transcript)

	switch {
	case fatal != nil && ctx.Err() != nil:
		// Cancelled from outside; close without a terminal event, the
		// driver marks the task failed.
		s.markFailed(fatal)
		return
	case fatal != nil:
		// Auth failure: already surfaced as an error event; the
		// conclusion would fail the same way, so skip it.
		s.markFailed(fatal)
	case transcript.Len() > 0:
		s.runConclusion(ctx, transcript)
	}

	s.emit(events.NewCompleteEvent(s.taskID, transcript.Len(), rounds,
		fmt.Sprintf("analysis complete: %d results over %d round(s)", transcript.Len(), rounds)))
	s.logger.Info("analysis session finished",
		"results", transcript.Len(),
		"rounds", rounds,
		"failed", s.Err() != nil,
	)
}

func (s *Session) validate() error {
	if s.target.Code == "" || s.target.Name == "" {
		return core.ErrInput(core.CodeMissingStock, "stock code and name are required")
	}
	return s.roster.Validate()
}
