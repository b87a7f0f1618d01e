package mcp

import (
	"context"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	statussvc "github.com/alanyang/domain-server/internal/service/status"
)

// Server wraps the mark3labs/mcp-go MCPServer and its StreamableHTTPServer.
// It exposes the same read-only views as the HTTP status routes so operator
// tooling can inspect a running domain.
type Server struct {
	mcpSrv  *mcpserver.MCPServer
	httpSrv *mcpserver.StreamableHTTPServer
}

func New(statusSvc *statussvc.Service) *Server {
	hooks := &mcpserver.Hooks{}
	hooks.OnRegisterSession = append(hooks.OnRegisterSession, func(ctx context.Context, session mcpserver.ClientSession) {
		slog.InfoContext(ctx, "mcp: session opened", "session_id", session.SessionID())
	})
	hooks.OnUnregisterSession = append(hooks.OnUnregisterSession, func(ctx context.Context, session mcpserver.ClientSession) {
		slog.InfoContext(ctx, "mcp: session closed", "session_id", session.SessionID())
	})

	mcpSrv := mcpserver.NewMCPServer(
		"domain-server",
		"1.0.0",
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithHooks(hooks),
	)
	RegisterTools(mcpSrv, statusSvc)

	return &Server{
		mcpSrv:  mcpSrv,
		httpSrv: mcpserver.NewStreamableHTTPServer(mcpSrv),
	}
}

// Handler returns an http.Handler that serves the MCP endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpSrv
}
