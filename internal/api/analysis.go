package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/internal/analysis"
	"github.com/finsight-ai/finsight/internal/core"
	"github.com/finsight-ai/finsight/internal/events"
)

// analysisRequest starts a multi-actor analysis of one stock.
type analysisRequest struct {
	Code      string `json:"code"`
	MaxRounds int    `json:"max_rounds,omitempty"`
	Actors    []struct {
		Actor string `json:"actor"`
		Model string `json:"model"`
	} `json:"actors"`
}

// handleStartAnalysis validates the request, spawns a detached session
// driver, and returns the task id to subscribe with.
func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		respondError(w, http.StatusUnprocessableEntity, "code is required")
		return
	}
	if len(req.Actors) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "at least one actor is required")
		return
	}

	stock, err := s.store.GetStock(r.Context(), req.Code)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	candles, err := s.store.RecentCandles(r.Context(), stock.ID, "1d", core.FactSheetLimit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	roster := core.Roster{}
	for _, a := range req.Actors {
		roster = append(roster, core.Assignment{Actor: a.Actor, Model: a.Model})
	}
	if err := roster.Validate(); err != nil {
		respondDomainError(w, err)
		return
	}

	cfg := s.sessionCfg
	if req.MaxRounds > 0 {
		cfg.MaxRounds = req.MaxRounds
	}

	target := analysis.Target{
		Code:      stock.Code,
		Name:      stock.Name,
		FactSheet: core.FormatFactSheet(candles),
	}

	taskID := uuid.NewString()
	session := analysis.NewSession(taskID, roster, target, cfg, s.caller, s.prompts, s.logger)

	s.registry.Register(taskID, len(roster.Active())*cfg.MaxRounds)
	go s.driveSession(contextWithoutCancel(r), taskID, session)

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id":    taskID,
		"code":       stock.Code,
		"actors":     len(roster.Active()),
		"max_rounds": cfg.MaxRounds,
	})
}

// driveSession pumps a session's ordered event stream into the hub and
// keeps the task registry current.
func (s *Server) driveSession(ctx context.Context, taskID string, session *analysis.Session) {
	results := 0
	for ev := range session.Run(ctx) {
		if _, ok := ev.(events.AnalysisEvent); ok {
			results++
			s.registry.Progress(taskID, results, 0)
		}
		s.hub.Publish(taskID, ev)
	}

	if err := session.Err(); err != nil {
		s.registry.Fail(taskID, err)
		return
	}
	s.registry.Complete(taskID)
}

// handleListModels exposes the available analyst roles and the fallback
// model chain so clients can build a roster.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"actors":           s.prompts.Roles(),
		"conclusion_model": core.ConclusionModelSentinel,
		"fallback_models":  s.caller.FallbackModels(),
	})
}

// handleTaskStatus returns the registry snapshot for a task.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	state, err := s.registry.Status(taskID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":    taskID,
		"status":     state.Status,
		"current":    state.Current,
		"total":      state.Total,
		"percentage": state.Percentage(),
		"error":      state.Error,
		"start_time": state.StartTime,
	})
}

// contextWithoutCancel detaches background work from the request's
// lifetime while preserving its values.
func contextWithoutCancel(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
