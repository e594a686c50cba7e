// Package server exposes the reporting HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfall/crossarb/internal/server/handler"
	"github.com/quantfall/crossarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers. Nil entries
// leave their routes unregistered, so the report mode can run without a live
// executor.
type Handlers struct {
	Health    *handler.HealthHandler
	Metrics   *handler.MetricsHandler
	Positions *handler.PositionHandler
	Executor  *handler.ExecutorHandler
}

// Server is the reporting HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (logging, auth, CORS) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health sits behind the same auth chain as everything else.
	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}

	if handlers.Metrics != nil {
		mux.HandleFunc("GET /api/metrics", handlers.Metrics.GetSummary)
	}

	if handlers.Positions != nil {
		mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
		mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	}

	if handlers.Executor != nil {
		mux.HandleFunc("GET /api/executor", handlers.Executor.GetStatus)
		mux.HandleFunc("POST /api/executor/reset", handlers.Executor.ResetBreaker)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = requestAuth(cfg.APIKey, h)
	h = requestLog(logger, h)
	h = allowCORS(cfg.CORSOrigins, h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
