// Package mcp implements the Model Context Protocol server for Kizuki.
//
// The MCP server exposes the pipeline's read surface through MCP tools and
// resources, so MCP-compatible AI agents can inspect signals, detected
// patterns and inferred policies.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kizuki/internal/service/pipeline"
)

// Server wraps the MCP server with Kizuki's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	svc       *pipeline.Service
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(svc *pipeline.Service, version string, logger *slog.Logger) *Server {
	s := &Server{svc: svc, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"kizuki",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the MCP server on stdin/stdout until the stream closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerResources() {
	// kizuki://knowledge/{org} — synthesized org knowledge rollup.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"kizuki://knowledge/{org}",
			"Org Knowledge",
			mcplib.WithTemplateDescription("Synthesized knowledge rollup for an organization"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleOrgKnowledge,
	)
}

func (s *Server) registerTools() {
	// kizuki_signals — filtered query over stored signals.
	s.mcpServer.AddTool(
		mcplib.NewTool("kizuki_signals",
			mcplib.WithDescription("Query recorded engineering signals (CI results, PR actions, incidents) with structured filters"),
			mcplib.WithString("org", mcplib.Description("Filter by organization")),
			mcplib.WithString("repo", mcplib.Description("Filter by repository")),
			mcplib.WithString("type", mcplib.Description("Filter by signal type, e.g. ci_failure")),
			mcplib.WithString("author", mcplib.Description("Filter by author")),
			mcplib.WithNumber("since_days", mcplib.Description("Lookback window in days")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleSignals,
	)

	// kizuki_patterns — run pattern detection over an org's window.
	s.mcpServer.AddTool(
		mcplib.NewTool("kizuki_patterns",
			mcplib.WithDescription("Detect recurring patterns (failure hotspots, risky authors, temporal clusters) in an org's recent signals"),
			mcplib.WithString("org", mcplib.Description("Organization to analyze"), mcplib.Required()),
			mcplib.WithNumber("window_days", mcplib.Description("Lookback window in days, default 30")),
		),
		s.handlePatterns,
	)

	// kizuki_policies — list or infer governance policies.
	s.mcpServer.AddTool(
		mcplib.NewTool("kizuki_policies",
			mcplib.WithDescription("List an org's inferred governance policies, optionally re-running inference first"),
			mcplib.WithString("org", mcplib.Description("Organization"), mcplib.Required()),
			mcplib.WithBoolean("infer", mcplib.Description("Run the inference pipeline before listing")),
			mcplib.WithNumber("window_days", mcplib.Description("Lookback window in days when inferring")),
		),
		s.handlePolicies,
	)
}

func (s *Server) handleOrgKnowledge(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	org := strings.TrimPrefix(uri, "kizuki://knowledge/")
	if org == "" || org == uri {
		return nil, fmt.Errorf("mcp: invalid knowledge URI: %s", uri)
	}

	knowledge, err := s.svc.OrgKnowledge(ctx, org, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: org knowledge: %w", err)
	}

	data, err := json.MarshalIndent(knowledge, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal knowledge: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
