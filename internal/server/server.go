package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kizuki/internal/auth"
	"github.com/ashita-ai/kizuki/internal/service/pipeline"
)

// Server is the Kizuki HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds all dependencies and configuration for creating a Server.
type Config struct {
	// Required dependencies.
	Pipeline *pipeline.Service
	Keyring  *auth.Keyring
	Logger   *slog.Logger

	// Optional: serve MCP over StreamableHTTP at /mcp.
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := NewHandlers(cfg.Pipeline, cfg.Logger, cfg.Version, cfg.MaxRequestBodyBytes)

	// Mutating routes require the ingest key; reads are open.
	keyed := requireAPIKey(cfg.Keyring)

	mux := http.NewServeMux()

	// Webhook and direct ingestion.
	mux.Handle("POST /v1/events/pr", keyed(http.HandlerFunc(h.HandlePREvent)))
	mux.Handle("POST /v1/events/ci", keyed(http.HandlerFunc(h.HandleCIEvent)))
	mux.Handle("POST /v1/signals", keyed(http.HandlerFunc(h.HandleCreateSignal)))

	// Query and analysis.
	mux.HandleFunc("GET /v1/signals", h.HandleQuerySignals)
	mux.HandleFunc("GET /v1/patterns", h.HandlePatterns)
	mux.HandleFunc("GET /v1/knowledge/org/{org}", h.HandleOrgKnowledge)
	mux.HandleFunc("GET /v1/policies", h.HandlePolicies)
	mux.Handle("POST /v1/policies/{id}/refine", keyed(http.HandlerFunc(h.HandleRefinePolicy)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
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
