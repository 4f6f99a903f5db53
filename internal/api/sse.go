package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/hub"
)

// handleTaskEvents streams a task's progress as Server-Sent Events.
// The stream ends after the terminal complete event, a terminal error,
// or client disconnect. Heartbeats keep proxies from timing the
// connection out while the session is between events.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	queue := s.hub.SubscribePull(taskID)
	defer s.hub.UnsubscribePull(queue)

	ctx := r.Context()
	s.logger.Info("SSE client connected", "task_id", taskID, "remote_addr", r.RemoteAddr)

	s.sendSSEEvent(w, flusher, "connected", map[string]string{
		"task_id": taskID,
		"status":  "connected",
	})

	// A task that already finished will publish nothing more; report its
	// terminal status instead of heartbeating forever.
	if s.sendEndIfFinished(w, flusher, taskID) {
		return
	}

	for {
		ev, err := queue.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Warn("SSE stream ended", "task_id", taskID, "error", err)
			}
			return
		}

		s.sendSSEEvent(w, flusher, ev.EventType(), ev)

		if isTerminalEvent(ev) {
			s.logger.Info("SSE stream finished", "task_id", taskID, "event", ev.EventType())
			return
		}

		// Heartbeats on a finished task mean the terminal event was
		// published before we subscribed. Close out via the registry.
		if ev.EventType() == events.TypeHeartbeat && s.sendEndIfFinished(w, flusher, taskID) {
			return
		}
	}
}

// sendEndIfFinished closes the stream with an end frame when the
// registry already holds a terminal status for the task.
func (s *Server) sendEndIfFinished(w http.ResponseWriter, flusher http.Flusher, taskID string) bool {
	state, err := s.registry.Status(taskID)
	if err != nil || state.Status == hub.StatusRunning {
		return false
	}
	s.sendSSEEvent(w, flusher, "end", map[string]interface{}{
		"task_id": taskID,
		"status":  state.Status,
		"error":   state.Error,
	})
	s.logger.Info("SSE stream finished", "task_id", taskID, "status", state.Status)
	return true
}

// isTerminalEvent reports whether no further events will follow. A
// session emits exactly one complete event, or a lone error event when
// its input was rejected outright.
func isTerminalEvent(ev events.Event) bool {
	switch e := ev.(type) {
	case events.CompleteEvent:
		return true
	case events.ErrorEvent:
		return e.Category == "validation"
	default:
		return false
	}
}

// sendSSEEvent writes one event to the SSE stream.
func (s *Server) sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	// SSE format: event: type\ndata: json\n\n
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
