package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/orchestre-ai/cortex/internal/ctxutil"
	"github.com/orchestre-ai/cortex/internal/gate"
	"github.com/orchestre-ai/cortex/internal/metrics"
	"github.com/orchestre-ai/cortex/internal/ratelimit"
)

// Server is the orchestrator's HTTP server.
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

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Scheduler, Warmer, Probes, Gate,
// Metrics, Limiter, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Pipeline dependencies.
	Router    Router
	Voter     Voter
	Scheduler Predictor
	Warmer    Warmer
	Probes    map[string]Probe
	Gate      *gate.Gate
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Optional surfaces.
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Optional embedded assets.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Router:              cfg.Router,
		Voter:               cfg.Voter,
		Scheduler:           cfg.Scheduler,
		Warmer:              cfg.Warmer,
		Probes:              cfg.Probes,
		Gate:                cfg.Gate,
		Metrics:             cfg.Metrics,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return ctxutil.RequestIDFromContext(r.Context())
	}
	voteRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Health and metrics (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /metrics", cfg.Metrics.Handler())

	// Pipelines. Only /vote is rate limited: a route is bounded local work,
	// a vote can hold the heavy gate for tens of seconds.
	mux.HandleFunc("GET /route", h.HandleRoute)
	mux.Handle("POST /vote", voteRL(http.HandlerFunc(h.HandleVote)))

	// Operations.
	mux.HandleFunc("GET /schedule/predict", h.HandleSchedulePredict)
	mux.HandleFunc("POST /models/swap", h.HandleModelsSwap)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// OpenAPI spec.
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
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
