package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/cloudvoice/internal/tools"
)

// ApprovalRequired prefixes the result of a deploy that needs a human decision.
const ApprovalRequired = "APPROVAL_REQUIRED"

// Searcher answers knowledge-base questions.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Server exposes the sustainability tools as MCP tools.
type Server struct {
	kb      Searcher
	version string
}

// NewServer creates the MCP server wrapper. kb may be nil, in which case
// search_knowledge reports that no knowledge base is configured.
func NewServer(kb Searcher, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{kb: kb, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("cloudvoice", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.carbonFootprintTool())
	srv.AddTool(s.deployInstanceTool())
	srv.AddTool(s.searchKnowledgeTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// calculate_carbon_footprint
func (s *Server) carbonFootprintTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(tools.ToolCarbonFootprint,
		mcp.WithDescription("Calculates CO2 emissions for cloud instances. Returns the estimate formatted as \"<kg> kg\"."),
		mcp.WithString("instance_type", mcp.Required(), mcp.Description("Instance type, e.g. t3.medium or gpu.large")),
		mcp.WithNumber("hours", mcp.Required(), mcp.Description("Hours the instance runs")),
	)
	return tool, s.handleCarbonFootprint
}

func (s *Server) handleCarbonFootprint(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instance, err := request.RequireString("instance_type")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: instance_type"), nil
	}
	hours := request.GetInt("hours", 0)

	fp, err := tools.CalculateFootprint(instance, hours)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to calculate footprint: %v", err)), nil
	}
	return mcp.NewToolResultText(fp.String()), nil
}

// deploy_instance
func (s *Server) deployInstanceTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(tools.ToolDeployInstance,
		mcp.WithDescription("Deploy a cloud instance. High-performance (GPU) types REQUIRE APPROVAL: call again with approved=true after the user confirms."),
		mcp.WithString("instance_type", mcp.Required(), mcp.Description("Instance type to deploy")),
		mcp.WithNumber("hours", mcp.Description("Planned runtime in hours")),
		mcp.WithBoolean("approved", mcp.Description("Set after the user approved a high-performance deployment")),
	)
	return tool, s.handleDeployInstance
}

func (s *Server) handleDeployInstance(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instance, err := request.RequireString("instance_type")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: instance_type"), nil
	}
	hours := request.GetInt("hours", 0)

	if tools.RequiresApproval(instance) && !request.GetBool("approved", false) {
		return mcp.NewToolResultText(fmt.Sprintf("%s: %s is a high-performance instance; ask the user to confirm",
			ApprovalRequired, tools.NormalizeInstance(instance))), nil
	}

	d, err := tools.Deploy(instance, hours)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to deploy: %v", err)), nil
	}
	return mcp.NewToolResultText(d.Status), nil
}

// search_knowledge
func (s *Server) searchKnowledgeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(tools.ToolSearchKnowledge,
		mcp.WithDescription("Semantic search over the Green-AI knowledge base. Returns the best matching document."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Question to look up")),
	)
	return tool, s.handleSearchKnowledge
}

func (s *Server) handleSearchKnowledge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	if s.kb == nil {
		return mcp.NewToolResultError("no knowledge base configured"), nil
	}

	doc, err := s.kb.Search(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if doc == "" {
		return mcp.NewToolResultText("No relevant documents found."), nil
	}
	return mcp.NewToolResultText(doc), nil
}
