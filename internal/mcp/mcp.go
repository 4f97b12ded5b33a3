// Package mcp implements the Model Context Protocol server for the
// orchestrator.
//
// The MCP server exposes the same operations as the HTTP API as MCP tools,
// so MCP-compatible agents can route queries and run consensus votes without
// bespoke HTTP glue. Tool results are the same JSON payloads the REST
// endpoints return.
package mcp

import (
	"context"
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/orchestre-ai/cortex/internal/consensus"
	"github.com/orchestre-ai/cortex/internal/router"
	"github.com/orchestre-ai/cortex/internal/schedule"
)

// Router answers retrieval queries. *router.Router implements it.
type Router interface {
	Route(ctx context.Context, query string, k int) (*router.Response, error)
}

// Voter runs consensus votes. *consensus.Engine implements it.
type Voter interface {
	Vote(ctx context.Context, prompt, userContext, mode string) (consensus.Outcome, error)
}

// Predictor produces capacity plans. *schedule.Scheduler implements it.
type Predictor interface {
	Predict() schedule.Plan
}

// Server wraps the MCP server around the orchestrator's pipelines.
type Server struct {
	mcpServer *mcpserver.MCPServer
	router    Router
	votes     Voter
	scheduler Predictor
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(r Router, v Voter, p Predictor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:    r,
		votes:     v,
		scheduler: p,
		logger:    logger.With("component", "mcp"),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"cortex",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
