// Package http serves the ledger JSON API consumed by the front end.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"lancamentos/internal/log"
	"lancamentos/internal/middleware/ratelimit"
	"lancamentos/internal/middleware/security"
	"lancamentos/internal/middleware/trace"
	"lancamentos/internal/ports"
	"lancamentos/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
)

const maxBodyBytes = 1 << 20

// Config wires the server to its collaborators.
type Config struct {
	Addr      string
	Service   *services.LedgerService
	Health    ports.HealthChecker
	Logger    *log.Logger
	RateLimit ratelimit.Config
}

type Server struct {
	http.Server
	service  *services.LedgerService
	health   ports.HealthChecker
	logger   *log.Logger
	limiter  *ratelimit.Limiter
	detector *security.Detector
	policy   *bluemonday.Policy

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	s := &Server{
		service:  cfg.Service,
		health:   cfg.Health,
		logger:   logger.WithComponent(log.ComponentHTTP),
		limiter:  ratelimit.NewLimiter(cfg.RateLimit),
		detector: security.NewDetector(logger),
		policy:   bluemonday.StrictPolicy(),
	}
	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(trace.NewMiddleware(s.logger, s.detector.ExtractClientIP).Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/extrato", s.handleStatement)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/lookups", s.handleLookups)
		r.Get("/lancamentos/{id}", s.handleGetEntry)

		// writes reach the upstream API, so they are throttled per client
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit))
			r.Post("/lancamentos", s.handleCreateEntry)
			r.Put("/lancamentos/{id}", s.handleUpdateEntry)
			r.Delete("/lancamentos/{id}", s.handleDeleteEntry)
		})
	})
	return r
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// Shutdown gracefully stops the server and its background state.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeError(w, http.StatusServiceUnavailable, "backend not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
