// Package core defines the domain types shared across the analysis
// pipeline: rosters, round results, transcripts and call statistics.
package core

import (
	"fmt"
	"strings"
)

// ConclusionModelSentinel is the reserved actor tag whose roster entry
// overrides the model used for conclusion synthesis instead of running
// as an analyst.
const ConclusionModelSentinel = "conclusion_model"

// Assignment pairs an analyst persona with the model that drives it.
type Assignment struct {
	Actor string `json:"actor"`
	Model string `json:"model"`
}

// IsSentinel reports whether this entry is the conclusion-model override.
func (a Assignment) IsSentinel() bool {
	return a.Actor == ConclusionModelSentinel
}

// Roster is the caller-supplied list of assignments for a session.
type Roster []Assignment

// Active returns the assignments that actually run as analysts,
// preserving roster order.
func (r Roster) Active() []Assignment {
	active := make([]Assignment, 0, len(r))
	for _, a := range r {
		if !a.IsSentinel() {
			active = append(active, a)
		}
	}
	return active
}

// ConclusionModel resolves the model for conclusion synthesis:
// the sentinel entry wins, else the first active assignment's model.
func (r Roster) ConclusionModel() string {
	for _, a := range r {
		if a.IsSentinel() && a.Model != "" {
			return a.Model
		}
	}
	for _, a := range r {
		if !a.IsSentinel() {
			return a.Model
		}
	}
	return ""
}

// Validate checks that the roster can bootstrap a session.
func (r Roster) Validate() error {
	if len(r.Active()) == 0 {
		return ErrInput(CodeEmptyRoster, "at least one analyst assignment is required")
	}
	return nil
}

// RoundResult is the durable output of one actor invocation in one
// round. Immutable once produced.
type RoundResult struct {
	Actor   string `json:"actor"`
	Content string `json:"content"`
	Round   int    `json:"round"`
}

// Transcript accumulates round results as labeled text used as
// conversational context for subsequent rounds. Append-only; it grows
// for the lifetime of the session and is never truncated.
type Transcript struct {
	results []RoundResult
}

// Append records a result. Results arrive in (round, roster-position)
// order, so no sorting is needed.
func (t *Transcript) Append(res RoundResult) {
	t.results = append(t.results, res)
}

// Results returns all recorded results in order.
func (t *Transcript) Results() []RoundResult {
	out := make([]RoundResult, len(t.results))
	copy(out, t.results)
	return out
}

// Len returns the number of recorded results.
func (t *Transcript) Len() int { return len(t.results) }

// Text renders the transcript grouped by round with actor labels.
func (t *Transcript) Text() string {
	var b strings.Builder
	lastRound := 0
	for _, r := range t.results {
		if r.Round != lastRound {
			fmt.Fprintf(&b, "=== Round %d ===\n", r.Round)
			lastRound = r.Round
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", r.Actor, r.Content)
	}
	return b.String()
}

// CallStats holds simple metrics about one completed model call.
type CallStats struct {
	CharCount int     `json:"character_count"`
	WordCount int     `json:"word_count"`
	Elapsed   float64 `json:"time_taken_seconds"`
	Model     string  `json:"model"`
}

// NewCallStats computes stats from response content.
func NewCallStats(content, model string, elapsedSeconds float64) CallStats {
	return CallStats{
		CharCount: len(content),
		WordCount: len(strings.Fields(content)),
		Elapsed:   elapsedSeconds,
		Model:     model,
	}
}
