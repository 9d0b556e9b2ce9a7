// Package api exposes the HTTP interface of the scraping service: run
// control, progress polling, and access to the stored applications.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planwatch/planwatch/internal/metrics"
	"github.com/planwatch/planwatch/internal/scraper"
)

// Orchestrator is the scrape-control surface the API drives. StartAll and
// StartOne reserve the run before returning, so their errors are
// authoritative and the handlers never race a concurrent start.
type Orchestrator interface {
	StartAll(ctx context.Context) error
	StartOne(ctx context.Context, borough string) error
	Status() scraper.StatusSnapshot
	Stop()
}

// ApplicationStore is the read side of persistence the API queries.
type ApplicationStore interface {
	Query(ctx context.Context, filter scraper.QueryFilter) ([]scraper.PlanningApplication, error)
	Statistics(ctx context.Context) (scraper.Statistics, error)
}

// Server wires HTTP handlers to the orchestrator and store.
type Server struct {
	router       chi.Router
	orchestrator Orchestrator
	store        ApplicationStore
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(orchestrator Orchestrator, store ApplicationStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orchestrator: orchestrator,
		store:        store,
		logger:       logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/statistics", s.getStatistics)
		r.Route("/applications", func(r chi.Router) {
			r.Get("/", s.listApplications)
			r.Get("/export", s.exportApplications)
		})
		r.Route("/scrape", func(r chi.Router) {
			r.Post("/", s.startScrapeAll)
			r.Post("/stop", s.stopScrape)
			r.Post("/{borough}", s.startScrapeOne)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// readiness is tied to the store answering a cheap query
	if _, err := s.store.Statistics(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
