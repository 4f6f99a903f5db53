package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/internal/core"
)

// stockRequest is the payload for creating or updating a stock.
type stockRequest struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// stockListResponse pages the stock listing.
type stockListResponse struct {
	Stocks []core.Stock `json:"stocks"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleListStocks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := q.Get("keyword")
	limit := queryInt(q.Get("limit"), 50)
	offset := queryInt(q.Get("offset"), 0)

	stocks, total, err := s.store.ListStocks(r.Context(), keyword, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stockListResponse{
		Stocks: stocks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleUpsertStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		respondError(w, http.StatusUnprocessableEntity, "code and name are required")
		return
	}

	stock := core.Stock{
		Code:     req.Code,
		Name:     req.Name,
		Exchange: req.Exchange,
		Industry: req.Industry,
	}
	if err := s.store.UpsertStock(r.Context(), &stock); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stock)
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	stock, err := s.store.GetStock(r.Context(), code)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stock)
}

func (s *Server) handleDeleteStock(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.store.DeleteStock(r.Context(), code); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": code})
}

func (s *Server) handleGetCandles(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	stock, err := s.store.GetStock(r.Context(), code)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")

	var candles []core.Candle
	if from != "" && to != "" {
		candles, err = s.store.CandleRange(r.Context(), stock.ID, q.Get("resolution"), from, to)
	} else {
		limit := queryInt(q.Get("limit"), 30)
		candles, err = s.store.RecentCandles(r.Context(), stock.ID, q.Get("resolution"), limit)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"code":    stock.Code,
		"candles": candles,
	})
}

// handleRefreshQuotes starts a background refresh of every stock's
// candles and returns the task id to watch.
func (s *Server) handleRefreshQuotes(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		respondError(w, http.StatusServiceUnavailable, "market refresh is not configured")
		return
	}

	taskID := uuid.NewString()
	go func() {
		// Detached from the request; the task id is the handle.
		if err := s.refresher.RefreshAll(contextWithoutCancel(r), taskID); err != nil {
			s.logger.Error("quote refresh failed", "task_id", taskID, "error", err)
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

// handleRefreshStock refreshes one stock's quotes synchronously.
func (s *Server) handleRefreshStock(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		respondError(w, http.StatusServiceUnavailable, "market refresh is not configured")
		return
	}

	code := chi.URLParam(r, "code")
	if err := s.refresher.RefreshStock(r.Context(), code); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"refreshed": code})
}

// handleGetFinancial returns the stock's fundamentals snapshot.
func (s *Server) handleGetFinancial(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	stock, err := s.store.GetStock(r.Context(), code)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	fin, err := s.store.GetFinancial(r.Context(), stock.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"code":      stock.Code,
		"financial": fin,
	})
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
