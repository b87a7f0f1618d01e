package mcp

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	statussvc "github.com/alanyang/domain-server/internal/service/status"
)

// RegisterTools registers the read-only inspection tools. None of them
// mutate the node list or the assignment registry.
func RegisterTools(s *mcpserver.MCPServer, svc *statussvc.Service) {
	s.AddTool(mcpmcp.NewTool("list_nodes",
		mcpmcp.WithDescription("List the nodes currently checked in to this domain, grouped by type, with their public and local sockets."),
	), listNodesHandler(svc))

	s.AddTool(mcpmcp.NewTool("list_assignments",
		mcpmcp.WithDescription("Show the static assignment table and the queue of assignments waiting to be deployed."),
	), listAssignmentsHandler(svc))

	s.AddTool(mcpmcp.NewTool("get_assignment",
		mcpmcp.WithDescription("Look up a single assignment by UUID, static or dynamic."),
		mcpmcp.WithString("assignment_id", mcpmcp.Required(), mcpmcp.Description("Assignment UUID")),
	), getAssignmentHandler(svc))

	s.AddTool(mcpmcp.NewTool("domain_stats",
		mcpmcp.WithDescription("Summary counters: nodes by type, queue depth, held and deployed assignments, secured sessions, uptime."),
	), domainStatsHandler(svc))
}

func listNodesHandler(svc *statussvc.Service) mcpserver.ToolHandlerFunc {
	return func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		return jsonResult(svc.Nodes())
	}
}

func listAssignmentsHandler(svc *statussvc.Service) mcpserver.ToolHandlerFunc {
	return func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		return jsonResult(svc.Assignments())
	}
}

func getAssignmentHandler(svc *statussvc.Service) mcpserver.ToolHandlerFunc {
	return func(_ context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		id, err := uuid.Parse(mcpmcp.ParseString(req, "assignment_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText("error: invalid assignment_id"), nil
		}
		a, ok := svc.Assignment(id)
		if !ok {
			return mcpmcp.NewToolResultText("null"), nil
		}
		return jsonResult(a)
	}
}

func domainStatsHandler(svc *statussvc.Service) mcpserver.ToolHandlerFunc {
	return func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		return jsonResult(svc.Stats())
	}
}

func jsonResult(v any) (*mcpmcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpmcp.NewToolResultText("error: " + err.Error()), nil
	}
	return mcpmcp.NewToolResultText(string(b)), nil
}
