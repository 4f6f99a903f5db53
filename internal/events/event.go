// Package events defines the closed set of progress events emitted by
// an analysis session and fanned out to subscribers by the hub.
package events

import (
	"time"

	"github.com/finsight-ai/finsight/internal/core"
)

// Event is the base interface for all progress events.
type Event interface {
	EventType() string
	TaskID() string
	Timestamp() time.Time
}

// Event type constants.
const (
	TypeInfo       = "info"
	TypeWarning    = "warning"
	TypeError      = "error"
	TypeProgress   = "progress"
	TypeRetry      = "retry"
	TypeFallback   = "fallback"
	TypeAnalysis   = "analysis"
	TypeConclusion = "conclusion"
	TypeComplete   = "complete"
	TypeHeartbeat  = "heartbeat"
)

// Detail markers carried by info events so clients can track the
// pipeline without parsing free-form messages.
const (
	DetailStart              = "start"
	DetailPromptReady        = "prompt_ready"
	DetailAPIRequestStart    = "api_request_start"
	DetailAPIRequestComplete = "api_request_complete"
	DetailRoundComplete      = "round_complete"
	DetailConclusionStart    = "conclusion_start"
)

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type string    `json:"type"`
	Task string    `json:"task_id,omitempty"`
	Time time.Time `json:"timestamp"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) TaskID() string       { return e.Task }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType, taskID string) BaseEvent {
	return BaseEvent{
		Type: eventType,
		Task: taskID,
		Time: time.Now(),
	}
}

// InfoEvent carries advisory pipeline messages.
type InfoEvent struct {
	BaseEvent
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Elapsed string `json:"time_taken,omitempty"`
}

// NewInfoEvent creates an info event.
func NewInfoEvent(taskID, message, detail string) InfoEvent {
	return InfoEvent{
		BaseEvent: NewBaseEvent(TypeInfo, taskID),
		Message:   message,
		Detail:    detail,
	}
}

// WarningEvent signals a skipped actor or degraded round.
type WarningEvent struct {
	BaseEvent
	Actor   string `json:"actor,omitempty"`
	Message string `json:"message"`
}

// NewWarningEvent creates a warning event.
func NewWarningEvent(taskID, actor, message string) WarningEvent {
	return WarningEvent{
		BaseEvent: NewBaseEvent(TypeWarning, taskID),
		Actor:     actor,
		Message:   message,
	}
}

// ErrorEvent reports a failure absorbed by the session.
type ErrorEvent struct {
	BaseEvent
	Actor    string `json:"actor,omitempty"`
	Message  string `json:"error"`
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
}

// NewErrorEvent creates an error event from a domain error.
func NewErrorEvent(taskID, actor string, err error) ErrorEvent {
	ev := ErrorEvent{
		BaseEvent: NewBaseEvent(TypeError, taskID),
		Actor:     actor,
		Category:  string(core.GetCategory(err)),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	return ev
}

// ProgressEvent marks the start of one actor's analysis.
type ProgressEvent struct {
	BaseEvent
	Actor   string `json:"actor"`
	Model   string `json:"model"`
	Round   int    `json:"round"`
	Message string `json:"message"`
}

// NewProgressEvent creates a progress event.
func NewProgressEvent(taskID, actor, model string, round int, message string) ProgressEvent {
	return ProgressEvent{
		BaseEvent: NewBaseEvent(TypeProgress, taskID),
		Actor:     actor,
		Model:     model,
		Round:     round,
		Message:   message,
	}
}

// RetryEvent is emitted before a retry of a transient provider fault.
type RetryEvent struct {
	BaseEvent
	Model       string        `json:"model"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
	Error       string        `json:"error"`
}

// NewRetryEvent creates a retry event.
func NewRetryEvent(taskID, model string, attempt, maxAttempts int, delay time.Duration, err error) RetryEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return RetryEvent{
		BaseEvent:   NewBaseEvent(TypeRetry, taskID),
		Model:       model,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Delay:       delay,
		Error:       errStr,
	}
}

// FallbackEvent is emitted when the caller moves to an alternate model.
type FallbackEvent struct {
	BaseEvent
	FromModel string `json:"from_model"`
	ToModel   string `json:"to_model"`
}

// NewFallbackEvent creates a fallback event.
func NewFallbackEvent(taskID, fromModel, toModel string) FallbackEvent {
	return FallbackEvent{
		BaseEvent: NewBaseEvent(TypeFallback, taskID),
		FromModel: fromModel,
		ToModel:   toModel,
	}
}

// AnalysisEvent carries one actor's finished analysis.
type AnalysisEvent struct {
	BaseEvent
	Actor   string         `json:"actor"`
	Round   int            `json:"round"`
	Content string         `json:"content"`
	Stats   core.CallStats `json:"stats"`
}

// NewAnalysisEvent creates an analysis event.
func NewAnalysisEvent(taskID, actor string, round int, content string, stats core.CallStats) AnalysisEvent {
	return AnalysisEvent{
		BaseEvent: NewBaseEvent(TypeAnalysis, taskID),
		Actor:     actor,
		Round:     round,
		Content:   content,
		Stats:     stats,
	}
}

// ConclusionEvent carries the synthesized verdict.
type ConclusionEvent struct {
	BaseEvent
	Content string         `json:"content"`
	Stats   core.CallStats `json:"stats"`
}

// NewConclusionEvent creates a conclusion event.
func NewConclusionEvent(taskID, content string, stats core.CallStats) ConclusionEvent {
	return ConclusionEvent{
		BaseEvent: NewBaseEvent(TypeConclusion, taskID),
		Content:   content,
		Stats:     stats,
	}
}

// CompleteEvent is the single terminal event of a session.
type CompleteEvent struct {
	BaseEvent
	Actors  int    `json:"actors"`
	Rounds  int    `json:"rounds"`
	Message string `json:"message"`
}

// NewCompleteEvent creates a complete event.
func NewCompleteEvent(taskID string, actors, rounds int, message string) CompleteEvent {
	return CompleteEvent{
		BaseEvent: NewBaseEvent(TypeComplete, taskID),
		Actors:    actors,
		Rounds:    rounds,
		Message:   message,
	}
}

// HeartbeatEvent keeps pull-queue transports alive when no real event
// has arrived recently. Never emitted by a session.
type HeartbeatEvent struct {
	BaseEvent
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent(taskID string) HeartbeatEvent {
	return HeartbeatEvent{BaseEvent: NewBaseEvent(TypeHeartbeat, taskID)}
}
