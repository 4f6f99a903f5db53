package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/finsight-ai/finsight/internal/events"
	"github.com/finsight-ai/finsight/internal/hub"
)

const wsWriteTimeout = 10 * time.Second

// handleTaskWS streams a task's progress over a WebSocket. Events are
// sent as JSON frames; the connection closes normally after the
// terminal event. A read loop runs only to detect client disconnects.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("failed to accept WebSocket", "task_id", taskID, "error", err)
		return
	}
	defer ws.CloseNow()

	sub := s.hub.SubscribeStream(taskID)
	defer s.hub.UnsubscribeStream(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.logger.Info("WebSocket client connected", "task_id", taskID, "remote_addr", r.RemoteAddr)

	// A finished task publishes nothing more; close out from the
	// registry's terminal status instead of holding the socket open.
	if state, err := s.registry.Status(taskID); err == nil && state.Status != hub.StatusRunning {
		_ = s.writeEvent(ctx, ws, events.NewInfoEvent(taskID,
			"task already finished: "+string(state.Status), ""))
		_ = ws.Close(websocket.StatusNormalClosure, "task finished")
		return
	}

	// Drain client frames so pings are answered and disconnects cancel
	// the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("WebSocket client disconnected", "task_id", taskID)
			return

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := s.writeEvent(ctx, ws, ev); err != nil {
				s.logger.Warn("WebSocket write failed", "task_id", taskID, "error", err)
				return
			}
			if isTerminalEvent(ev) {
				_ = ws.Close(websocket.StatusNormalClosure, "task finished")
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, ws *websocket.Conn, ev events.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, ev)
}
