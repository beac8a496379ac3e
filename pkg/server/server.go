// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zen-systems/cmdgate/pkg/config"
	"github.com/zen-systems/cmdgate/pkg/pipeline"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 1 << 20 // 1 MB

// maxBatchSize caps how many requests a single batch call may carry.
const maxBatchSize = 20

// Server is the HTTP front end.
type Server struct {
	cfg        config.ServerConfig
	pipeline   *pipeline.Pipeline
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a server with all routes registered.
func New(cfg config.ServerConfig, p *pipeline.Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		pipeline: p,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("POST /batch", s.handleBatch)
	mux.HandleFunc("POST /stream", s.handleStream)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	handler := corsMiddleware(authMiddleware(cfg, loggingMiddleware(logger, mux)))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
