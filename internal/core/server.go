// Package core provides the admin API chassis for the audit ledger: a chi
// router with request correlation, panic recovery, and structured request
// logging, in front of read/delete operations over the run ledger. The
// admin surface carries no coordination logic; it exists so operators can
// inspect historical runs and force-unlock a date for reprocessing.
package core

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"auditledger/internal/types"
)

// LedgerAdmin is the ledger access the admin handlers need.
// *db.LedgerRepository satisfies it.
type LedgerAdmin interface {
	ListRecent(ctx context.Context, filter types.RunFilter, limit int) ([]types.RunRecord, error)
	FindByDate(ctx context.Context, date time.Time) (*types.RunRecord, error)
	Delete(ctx context.Context, id int64) error
}

// Server encapsulates the admin API dependencies and router.
type Server struct {
	Ledger LedgerAdmin
	Logger *slog.Logger

	router *chi.Mux
}

// NewServer creates the admin server and mounts its routes.
func NewServer(ledger LedgerAdmin, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Ledger: ledger,
		Logger: logger,
		router: chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// mountRoutes registers middleware (order matters: recoverer outermost,
// then correlation, then logging) and the v1 route group.
func (s *Server) mountRoutes() {
	s.router.Use(s.recoverer)
	s.router.Use(requestIDMiddleware)
	s.router.Use(s.requestLogger)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{date}", s.handleGetRun)
		r.Delete("/runs/{date}", s.handleDeleteRun)
	})
}

// requestIDMiddleware attaches a correlation ID to the request context,
// honoring an inbound X-Request-Id header when present.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := types.WithRequestID(r.Context(), reqID)
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverer converts handler panics into 500 responses instead of killing
// the process.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.Logger.ErrorContext(r.Context(), "panic in handler",
					"panic", rec,
					"path", r.URL.Path,
				)
				Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
					"internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured log line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.Logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", types.GetRequestID(r.Context()),
		)
	})
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
