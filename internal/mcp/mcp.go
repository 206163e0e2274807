// Package mcp exposes the council's three inbound operations — submit_review,
// query_provenance, and integrity_check — as Model Context Protocol tools,
// so MCP-compatible agent clients can drive a review without going through
// the HTTP API.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/council/internal/provenance"
	"github.com/ashita-ai/council/internal/session"
	"github.com/ashita-ai/council/internal/signing"
)

// serverInstructions is sent to every MCP client during the initialize
// handshake, so connected agents know the workflow without per-project
// configuration.
const serverInstructions = `You have access to the council, a multi-judge review system for AI-generated work.

WORKFLOW:

1. Call council_submit_review with a working spec (id, title, description, risk tier,
   acceptance criteria). This runs a full council session synchronously and returns the
   terminal decision: proceed, refine, escalate, or reject.
2. Use council_query_provenance to look up past sessions by task, verdict, judge, or
   time range.
3. Use council_integrity_check to verify the signed provenance trail has not been
   tampered with.

Risk tiers: T1 (critical, always escalated for human review), T2 (high), T3
(standard). When in doubt, pick the tier matching the blast radius of
what's being reviewed, not its apparent complexity.`

// Server wraps the MCP server with the council's session and provenance layer.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	orchestrator *session.Orchestrator
	store        provenance.Backend
	signer       *signing.Signer
	trailers     provenance.TrailerVerifier
	logger       *slog.Logger
}

// Deps are the constructor arguments for New.
type Deps struct {
	Orchestrator *session.Orchestrator
	Store        provenance.Backend
	Signer       *signing.Signer
	Trailers     provenance.TrailerVerifier
	Logger       *slog.Logger
	Version      string
}

// New creates and configures an MCP server exposing the council's tools.
func New(deps Deps) *Server {
	s := &Server{
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		signer:       deps.Signer,
		trailers:     deps.Trailers,
		logger:       deps.Logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"council",
		deps.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
