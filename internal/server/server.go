package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/council/internal/provenance"
	"github.com/ashita-ai/council/internal/session"
	"github.com/ashita-ai/council/internal/signing"
)

// Server is the council's HTTP server.
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
	// Required dependencies.
	Orchestrator *session.Orchestrator
	Store        provenance.Backend
	Signer       *signing.Signer
	Logger       *slog.Logger

	// Optional dependencies (nil-safe).
	Trailers     provenance.TrailerVerifier
	APIKeyHashes []string // empty disables auth entirely; see internal/auth.HashAPIKey
	Hooks        []func(context.Context, session.Session)
	MCPServer    *mcpserver.MCPServer // nil disables the /mcp StreamableHTTP transport

	// HTTP server settings.
	Port                int
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	Version              string
	MaxRequestBodyBytes  int64
	CORSAllowedOrigins   []string // Allowed origins for CORS; ["*"] permits all.
	RouteRegistrars      []func(mux *http.ServeMux)
	OutermostMiddlewares []func(http.Handler) http.Handler // applied outermost, in order
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Orchestrator: cfg.Orchestrator,
		Store:        cfg.Store,
		Signer:       cfg.Signer,
		Trailers:     cfg.Trailers,
		MaxBodyBytes: cfg.MaxRequestBodyBytes,
		Version:      cfg.Version,
		Hooks:        cfg.Hooks,
		Logger:       cfg.Logger,
	})

	mux := http.NewServeMux()

	mux.Handle("POST /v1/reviews", http.HandlerFunc(h.HandleSubmitReview))
	mux.Handle("GET /v1/provenance", http.HandlerFunc(h.HandleQueryProvenance))
	mux.Handle("GET /v1/provenance/{id}", http.HandlerFunc(h.HandleGetProvenance))
	mux.Handle("POST /v1/integrity-check", http.HandlerFunc(h.HandleIntegrityCheck))
	mux.Handle("GET /v1/stats", http.HandlerFunc(h.HandleStats))

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// MCP StreamableHTTP transport, exposing the same three facades as tools.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	for _, register := range cfg.RouteRegistrars {
		register(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.APIKeyHashes, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.OutermostMiddlewares) - 1; i >= 0; i-- {
		handler = cfg.OutermostMiddlewares[i](handler)
	}

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

// Handlers returns the underlying Handlers set.
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
