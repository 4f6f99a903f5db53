// Package api provides HTTP REST API handlers for the finsight service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/finsight-ai/finsight/internal/analysis"
	"github.com/finsight-ai/finsight/internal/hub"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/logging"
	"github.com/finsight-ai/finsight/internal/market"
	"github.com/finsight-ai/finsight/internal/store"
)

// Server exposes stock management, analysis orchestration, and
// progress streaming over HTTP.
type Server struct {
	router     chi.Router
	store      *store.Store
	prompts    *analysis.PromptStore
	caller     *llm.Caller
	sessionCfg analysis.Config
	hub        *hub.Hub
	registry   *hub.Registry
	refresher  *market.Refresher
	logger     *logging.Logger
	version    string
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// WithRefresher enables the market refresh endpoint.
func WithRefresher(r *market.Refresher) ServerOption {
	return func(s *Server) { s.refresher = r }
}

// NewServer creates a new API server.
func NewServer(st *store.Store, prompts *analysis.PromptStore, caller *llm.Caller, sessionCfg analysis.Config, progress *hub.Hub, registry *hub.Registry, opts ...ServerOption) *Server {
	s := &Server{
		store:      st,
		prompts:    prompts,
		caller:     caller,
		sessionCfg: sessionCfg,
		hub:        progress,
		registry:   registry,
		logger:     logging.NewNop(),
		version:    "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	// CORS for frontend access
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/stocks", func(r chi.Router) {
			r.Get("/", s.handleListStocks)
			r.Post("/", s.handleUpsertStock)
			r.Post("/refresh", s.handleRefreshQuotes)

			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", s.handleGetStock)
				r.Delete("/", s.handleDeleteStock)
				r.Get("/candles", s.handleGetCandles)
				r.Get("/financial", s.handleGetFinancial)
				r.Post("/refresh", s.handleRefreshStock)
			})
		})

		r.Route("/analysis", func(r chi.Router) {
			r.Post("/", s.handleStartAnalysis)
			r.Get("/models", s.handleListModels)
		})

		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleTaskStatus)
			r.Get("/events", s.handleTaskEvents)
			r.Get("/ws", s.handleTaskWS)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// handleHealth reports service liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
