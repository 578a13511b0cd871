// Package rest implements spec.md §6's minimum HTTP/REST surface, grounded
// on the teacher's internal/infrastructure/api/rest.Server (http.ServeMux +
// hand-rolled middleware chain), generalized from workflow/execution CRUD
// to NoETL's catalog/run/events/queue surface.
package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/noetl/noetl/internal/catalog"
	"github.com/noetl/noetl/internal/eventlog"
	"github.com/noetl/noetl/internal/queue"
	"github.com/noetl/noetl/internal/scheduler"
)

// Config tunes the middleware chain, mirroring the teacher's
// EnableCORS/EnableRateLimit/RateLimitMax/RateLimitWindow/APIKeys fields.
type Config struct {
	EnableCORS      bool
	EnableRateLimit bool
	RateLimitMax    int
	RateLimitWindow time.Duration
	APIKeys         []string
}

// Server wires the catalog, scheduler, event log, and queue into the REST
// surface spec.md §6 names. Unlike the teacher's single domain.Storage,
// NoETL splits persistence across four narrower interfaces since each has
// an independent lifecycle (catalog registration, workflow scheduling,
// append-only events, leased commands).
type Server struct {
	cat   catalog.Store
	sched *scheduler.Scheduler
	log   eventlog.EventLog
	q     queue.Queue
	cfg   Config

	mux    *http.ServeMux
	logger *slog.Logger
}

func NewServer(cat catalog.Store, sched *scheduler.Scheduler, log eventlog.EventLog, q queue.Queue, cfg Config, logger *slog.Logger) *Server {
	s := &Server{
		cat:    cat,
		sched:  sched,
		log:    log,
		q:      q,
		cfg:    cfg,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/catalog/playbooks", s.handleRegisterPlaybook)
	s.mux.HandleFunc("POST /api/catalog/credentials", s.handleRegisterCredential)
	s.mux.HandleFunc("POST /api/run/playbook", s.handleRunPlaybook)
	s.mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	s.mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancelExecution)
	s.mux.HandleFunc("POST /api/events", s.handleIngestEvent)
	s.mux.HandleFunc("POST /api/queue/claim", s.handleQueueClaim)
	s.mux.HandleFunc("POST /api/queue/heartbeat", s.handleQueueHeartbeat)
	s.mux.HandleFunc("POST /api/queue/complete", s.handleQueueComplete)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the fully wrapped http.Handler, middleware applied
// outside-in the same order as the teacher's server construction:
// recovery, logging, CORS, rate limit, auth.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if len(s.cfg.APIKeys) > 0 {
		h = newAuthMiddleware(s.cfg.APIKeys).middleware(h)
	}
	if s.cfg.EnableRateLimit {
		h = newRateLimiter(s.cfg.RateLimitMax, s.cfg.RateLimitWindow).middleware(h)
	}
	if s.cfg.EnableCORS {
		h = corsMiddleware(h)
	}
	h = loggingMiddleware(s.logger, h)
	h = recoveryMiddleware(s.logger, h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
