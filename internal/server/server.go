package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/truthledger/ledger/internal/orchestrator"
	"github.com/truthledger/ledger/internal/ratelimit"
	"github.com/truthledger/ledger/internal/storage"
)

// Server is the Truth Ledger HTTP server: the Query API plus the
// run-control API over the Pipeline Orchestrator (spec.md §6).
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	DB     *storage.DB
	Orch   *orchestrator.Orchestrator
	Logger *slog.Logger

	// RateLimiter guards the Query API; pass ratelimit.NoopLimiter{} to
	// disable enforcement without special-casing the middleware chain.
	RateLimiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string // Allowed origins for CORS; ["*"] permits all.
}

// requestIDFromRequest adapts RequestIDFromContext to ratelimit.RequestIDFunc.
func requestIDFromRequest(r *http.Request) string {
	return RequestIDFromContext(r.Context())
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(cfg.DB, cfg.Orch, cfg.Logger, cfg.Version)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HandleHealth)

	// Query API (spec.md §6): bucket lookups by claim key hash directly,
	// or via the legacy-column field-link shortcut.
	mux.HandleFunc("GET /facts/{claim_key_hash}", h.HandleGetFacts)
	mux.HandleFunc("GET /entities/{entity_id}/field/{field}", h.HandleGetEntityField)

	// Run-control API (spec.md §4.11, §6): fire a pipeline stage and poll it.
	mux.HandleFunc("POST /pipeline/jobs/{job_type}/run", h.HandleRunJob)
	mux.HandleFunc("POST /pipeline/jobs/{run_id}/cancel", h.HandleCancelJob)
	mux.HandleFunc("GET /pipeline/jobs/{run_id}", h.HandleGetJob)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → recovery → rate limit → handler.
	var handler http.Handler = mux
	handler = ratelimit.MiddlewareWithRequestID(cfg.RateLimiter, ratelimit.IPKeyFunc, requestIDFromRequest)(handler)
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  2 * cfg.ReadTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
