package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kizuki/internal/aggregate"
	"github.com/ashita-ai/kizuki/internal/model"
	"github.com/ashita-ai/kizuki/internal/service/pipeline"
	"github.com/ashita-ai/kizuki/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewSQLite(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	svc, err := pipeline.New(store, aggregate.DefaultOptions(), logger, nil)
	require.NoError(t, err)

	return New(svc, "test", logger)
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func seedSignals(t *testing.T, srv *Server, n int, typ model.SignalType) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		sig := model.Signal{
			Type:      typ,
			Repo:      "checkout",
			Org:       "acme",
			Team:      "payments",
			Files:     []string{"handler.go"},
			Cause:     "flaky connection pool",
			Author:    fmt.Sprintf("dev%d", i),
			Severity:  model.SeverityHigh,
			Timestamp: time.Now().Add(-time.Duration(i) * time.Hour),
		}
		require.NoError(t, srv.svc.Record(ctx, &sig))
	}
}

func TestHandleSignals(t *testing.T) {
	srv := newTestServer(t)
	seedSignals(t, srv, 4, model.SignalCIFailure)

	result, err := srv.handleSignals(context.Background(), toolRequest("kizuki_signals", map[string]any{
		"org":  "acme",
		"type": "ci_failure",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Count   int            `json:"count"`
		Signals []model.Signal `json:"signals"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 4, resp.Count)
	for _, sig := range resp.Signals {
		assert.Equal(t, model.SignalCIFailure, sig.Type)
	}
}

func TestHandleSignals_Limit(t *testing.T) {
	srv := newTestServer(t)
	seedSignals(t, srv, 5, model.SignalCIFailure)

	result, err := srv.handleSignals(context.Background(), toolRequest("kizuki_signals", map[string]any{
		"limit": 2,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestHandlePatterns(t *testing.T) {
	srv := newTestServer(t)
	seedSignals(t, srv, 5, model.SignalCIFailure)

	result, err := srv.handlePatterns(context.Background(), toolRequest("kizuki_patterns", map[string]any{
		"org": "acme",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Org      string          `json:"org"`
		Count    int             `json:"count"`
		Patterns []model.Pattern `json:"patterns"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "acme", resp.Org)
	require.NotEmpty(t, resp.Patterns)

	var hotspot bool
	for _, p := range resp.Patterns {
		if p.Type == model.PatternFailureHotspot {
			hotspot = true
			assert.Equal(t, 5, p.Frequency)
		}
	}
	assert.True(t, hotspot, "expected a failure hotspot for handler.go")
}

func TestHandlePatterns_MissingOrg(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handlePatterns(context.Background(), toolRequest("kizuki_patterns", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandlePolicies_InferThenList(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	// Six critical failures on the same file trigger the hotspot rule.
	for i := 0; i < 6; i++ {
		sig := model.Signal{
			Type:      model.SignalCIFailure,
			Repo:      "ledger",
			Org:       "acme",
			Team:      "core",
			Files:     []string{"migrate.sql"},
			Cause:     "lock timeout",
			Author:    fmt.Sprintf("dev%d", i),
			Severity:  model.SeverityCritical,
			Timestamp: time.Now().Add(-time.Duration(i) * time.Hour),
		}
		require.NoError(t, srv.svc.Record(ctx, &sig))
	}

	result, err := srv.handlePolicies(ctx, toolRequest("kizuki_policies", map[string]any{
		"org":   "acme",
		"infer": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp struct {
		Count    int            `json:"count"`
		Policies []model.Policy `json:"policies"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	require.NotZero(t, resp.Count)

	// A second call without infer returns the persisted policies.
	result, err = srv.handlePolicies(ctx, toolRequest("kizuki_policies", map[string]any{
		"org": "acme",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &listed))
	assert.Equal(t, resp.Count, listed.Count)
}

func TestHandlePolicies_MissingOrg(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.handlePolicies(context.Background(), toolRequest("kizuki_policies", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestOrgKnowledgeResource(t *testing.T) {
	srv := newTestServer(t)
	seedSignals(t, srv, 3, model.SignalCIFailure)

	contents, err := srv.handleOrgKnowledge(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "kizuki://knowledge/acme"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", text.MIMEType)

	var knowledge model.OrgKnowledge
	require.NoError(t, json.Unmarshal([]byte(text.Text), &knowledge))
	assert.Equal(t, "acme", knowledge.Org)
}

func TestOrgKnowledgeResource_BadURI(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.handleOrgKnowledge(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "kizuki://other/acme"},
	})
	require.Error(t, err)
}
