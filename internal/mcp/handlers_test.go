package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/baikal/weights/internal/localstore"
)

// --- getArgs / stringArg / numberArg helpers ---

func TestGetArgsNilArguments(t *testing.T) {
	req := mcp.CallToolRequest{}
	args := getArgs(req)
	if args == nil {
		t.Fatal("getArgs returned nil, expected empty map")
	}
	if len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestGetArgsValidMap(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{"key": "value"},
		},
	}
	args := getArgs(req)
	if v, ok := args["key"]; !ok || v != "value" {
		t.Fatalf("expected key=value, got %v", args)
	}
}

func TestGetArgsWrongType(t *testing.T) {
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: "not a map"}}
	args := getArgs(req)
	if len(args) != 0 {
		t.Fatalf("expected empty map for wrong type, got %v", args)
	}
}

func TestStringArgPresent(t *testing.T) {
	args := map[string]interface{}{"name": "hello"}
	if got := stringArg(args, "name", "default"); got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestStringArgMissing(t *testing.T) {
	if got := stringArg(map[string]interface{}{}, "name", "default"); got != "default" {
		t.Fatalf("expected 'default', got %q", got)
	}
}

func TestNumberArgPresent(t *testing.T) {
	args := map[string]interface{}{"after": 1000.0}
	v, ok := numberArg(args, "after")
	if !ok || v != 1000.0 {
		t.Fatalf("numberArg() = (%v, %v), want (1000, true)", v, ok)
	}
}

func TestNumberArgMissing(t *testing.T) {
	_, ok := numberArg(map[string]interface{}{}, "after")
	if ok {
		t.Fatal("numberArg() on missing key should report ok=false")
	}
}

func TestNumberArgWrongType(t *testing.T) {
	_, ok := numberArg(map[string]interface{}{"after": "not a number"}, "after")
	if ok {
		t.Fatal("numberArg() on non-numeric value should report ok=false")
	}
}

// --- newTextResult / errResult ---

func TestNewTextResult(t *testing.T) {
	result := newTextResult("hello world")
	if result.IsError {
		t.Fatal("newTextResult should not set IsError")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok || tc.Text != "hello world" {
		t.Fatalf("unexpected content: %+v", result.Content)
	}
}

func TestErrResult(t *testing.T) {
	result := errResult("something failed")
	if !result.IsError {
		t.Fatal("errResult should set IsError=true")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok || tc.Text != "something failed" {
		t.Fatalf("unexpected content: %+v", result.Content)
	}
}

// --- handleGetCorrelationMethods ---

func TestHandleGetCorrelationMethods(t *testing.T) {
	res, err := handleGetCorrelationMethods(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatal("expected success, got IsError")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}

	var entries []struct {
		ID            string `json:"id"`
		NeedsBaseline bool   `json:"needs_baseline"`
		Description   string `json:"description"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &entries); err != nil {
		t.Fatalf("response is not valid JSON: %v\ntext: %s", err, tc.Text)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 methods, got %d", len(entries))
	}
	byID := map[string]bool{}
	for _, e := range entries {
		byID[e.ID] = e.NeedsBaseline
		if e.Description == "" {
			t.Errorf("method %q has empty description", e.ID)
		}
	}
	if !byID["ks2"] || !byID["volume"] {
		t.Error("ks2 and volume should be marked needs_baseline=true")
	}
	if byID["anomaly_rate"] || byID["value"] {
		t.Error("anomaly_rate and value should be marked needs_baseline=false")
	}
}

// --- handleCorrelateMetrics, end to end against a localstore backend ---

func newSeededBackend(t *testing.T) *localstore.Store {
	t.Helper()
	store := localstore.NewStore(64, 1)
	// baseline window: steady values; highlight window: "user" steps from
	// 1.0 to 90.0 while "system" stays at 1.0. Each window is constant
	// within itself, so ks2's point-to-point differences are the same for
	// both metrics; the step only shows up in level-based methods.
	for i := int64(0); i < 20; i++ {
		store.Record("host-1", "host-1.example", "system.cpu", "total", "user", 1000+i, 1.0)
		store.Record("host-1", "host-1.example", "system.cpu", "total", "system", 1000+i, 1.0)
	}
	for i := int64(0); i < 20; i++ {
		store.Record("host-1", "host-1.example", "system.cpu", "total", "user", 2000+i, 90.0)
		store.Record("host-1", "host-1.example", "system.cpu", "total", "system", 2000+i, 1.0)
	}
	return store
}

func TestHandleCorrelateMetricsKS2(t *testing.T) {
	backend := newSeededBackend(t)
	handler := handleCorrelateMetrics(backend, zap.NewNop())

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"after":           2000.0,
				"before":          2020.0,
				"baseline_after":  1000.0,
				"baseline_before": 1020.0,
				"method":          "ks2",
			},
		},
	}
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		tc := res.Content[0].(mcp.TextContent)
		t.Fatalf("expected success, got error result: %s", tc.Text)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(tc.Text), &payload); err != nil {
		t.Fatalf("response is not valid JSON: %v\ntext: %s", err, tc.Text)
	}
}

func TestHandleCorrelateMetricsMissingBaseline(t *testing.T) {
	backend := newSeededBackend(t)
	handler := handleCorrelateMetrics(backend, zap.NewNop())

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"after":  2000.0,
				"before": 2020.0,
				"method": "ks2",
			},
		},
	}
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for missing baseline on a baseline-requiring method")
	}
}

func TestHandleCorrelateMetricsValueMethodNoBaseline(t *testing.T) {
	backend := newSeededBackend(t)
	handler := handleCorrelateMetrics(backend, zap.NewNop())

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"after":  2000.0,
				"before": 2020.0,
				"method": "value",
			},
		},
	}
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		tc := res.Content[0].(mcp.TextContent)
		t.Fatalf("value method should not require a baseline, got error: %s", tc.Text)
	}
}

func TestHandleCorrelateMetricsMissingAfter(t *testing.T) {
	backend := newSeededBackend(t)
	handler := handleCorrelateMetrics(backend, zap.NewNop())

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{"before": 2020.0},
		},
	}
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for missing after")
	}
}

// --- Server creation ---

func TestNewServer(t *testing.T) {
	backend := newSeededBackend(t)
	srv := NewServer("1.0.0-test", backend, zap.NewNop())
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv.mcpServer == nil {
		t.Fatal("mcpServer is nil")
	}
}
