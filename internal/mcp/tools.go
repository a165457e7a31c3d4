package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kizuki/internal/model"
	"github.com/ashita-ai/kizuki/internal/storage"
)

func (s *Server) handleSignals(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	filters := storage.QueryFilters{
		Org:       request.GetString("org", ""),
		Repo:      request.GetString("repo", ""),
		Type:      model.SignalType(request.GetString("type", "")),
		Author:    request.GetString("author", ""),
		SinceDays: request.GetInt("since_days", 0),
		Limit:     request.GetInt("limit", 0),
	}

	signals, err := s.svc.Query(ctx, filters)
	if err != nil {
		return errorResult("query signals: %v", err), nil
	}

	return jsonResult(map[string]any{
		"count":   len(signals),
		"signals": signals,
	})
}

func (s *Server) handlePatterns(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	org, err := request.RequireString("org")
	if err != nil {
		return errorResult("org is required"), nil
	}
	windowDays := request.GetInt("window_days", 0)

	patterns, err := s.svc.Patterns(ctx, org, windowDays)
	if err != nil {
		return errorResult("detect patterns: %v", err), nil
	}

	return jsonResult(map[string]any{
		"org":      org,
		"count":    len(patterns),
		"patterns": patterns,
	})
}

func (s *Server) handlePolicies(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	org, err := request.RequireString("org")
	if err != nil {
		return errorResult("org is required"), nil
	}

	var policies []model.Policy
	if request.GetBool("infer", false) {
		policies, err = s.svc.InferPolicies(ctx, org, request.GetInt("window_days", 0))
	} else {
		policies, err = s.svc.Policies(ctx, org)
	}
	if err != nil {
		return errorResult("policies: %v", err), nil
	}

	return jsonResult(map[string]any{
		"org":      org,
		"count":    len(policies),
		"policies": policies,
	})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("marshal result: %v", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func errorResult(format string, args ...any) *mcplib.CallToolResult {
	return mcplib.NewToolResultError(fmt.Sprintf(format, args...))
}
