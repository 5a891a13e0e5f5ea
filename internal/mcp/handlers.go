package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/baikal/weights/internal/queryiface"
	"github.com/baikal/weights/internal/rank"
	"github.com/baikal/weights/internal/weights"
)

// correlateTimeout bounds one correlate_metrics call regardless of the
// request's own timeout_ms, so a misbehaving backend can't hang the MCP
// stdio loop indefinitely.
const correlateTimeout = 2 * time.Minute

// handleCorrelateMetrics returns the tool handler that runs one weights
// request against backend and renders it in MCP format.
func handleCorrelateMetrics(backend queryiface.Backend, log *zap.Logger) func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		ctx, cancel := context.WithTimeout(ctx, correlateTimeout)
		defer cancel()

		args := getArgs(request)

		after, ok := numberArg(args, "after")
		if !ok {
			return errResult("after is required"), nil
		}
		before, ok := numberArg(args, "before")
		if !ok {
			return errResult("before is required"), nil
		}

		method := weights.Method(stringArg(args, "method", string(weights.MethodKS2)))

		req := weights.DefaultWeightsRequest()
		req.Format = rank.FormatMCP
		req.Method = method
		req.After = int64(after)
		req.Before = int64(before)
		req.Scope = queryiface.Scope{
			Nodes:    stringArg(args, "nodes", ""),
			Contexts: stringArg(args, "contexts", ""),
		}

		if method == weights.MethodKS2 || method == weights.MethodVolume {
			baselineAfter, okA := numberArg(args, "baseline_after")
			baselineBefore, okB := numberArg(args, "baseline_before")
			if !okA || !okB {
				return errResult(fmt.Sprintf("method %q requires baseline_after and baseline_before", method)), nil
			}
			req.BaselineAfter = int64(baselineAfter)
			req.BaselineBefore = int64(baselineBefore)
		}

		if limit, ok := numberArg(args, "cardinality_limit"); ok {
			req.CardinalityLimit = uint32(limit)
		}

		resp, err := weights.Run(ctx, backend, req, log)
		if err != nil {
			return errResult(fmt.Sprintf("correlate_metrics failed: %v", err)), nil
		}

		jsonData, err := json.MarshalIndent(resp.Payload, "", "  ")
		if err != nil {
			return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
		}
		return newTextResult(string(jsonData)), nil
	}
}

// handleGetCorrelationMethods returns a static description of the four
// scoring methods, the way the teacher's list_anomalies tool returns a
// static catalog of anomaly ids.
func handleGetCorrelationMethods(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	type methodInfo struct {
		ID            string `json:"id"`
		NeedsBaseline bool   `json:"needs_baseline"`
		Description   string `json:"description"`
	}

	methods := []methodInfo{
		{
			ID:            "ks2",
			NeedsBaseline: true,
			Description:   "Two-sample Kolmogorov-Smirnov test between the highlight and baseline distributions of point-to-point value changes. Best general-purpose method for spotting metrics whose behavior shifted.",
		},
		{
			ID:            "volume",
			NeedsBaseline: true,
			Description:   "Countif-based comparison of how often values cross a threshold derived from the baseline. Cheaper than ks2, good for catching step changes in a specific direction.",
		},
		{
			ID:            "anomaly_rate",
			NeedsBaseline: false,
			Description:   "Ranks metrics by their anomaly-bit rate within the highlight window alone. No baseline needed; useful when you only have one window of interest.",
		},
		{
			ID:            "value",
			NeedsBaseline: false,
			Description:   "Ranks metrics by their raw average value within the highlight window. No baseline, no statistical test — just which metrics have the highest values right now.",
		},
	}

	jsonData, err := json.MarshalIndent(methods, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// getArgs safely extracts the arguments map from a CallToolRequest.
// Returns an empty map if Arguments is nil or not a map.
func getArgs(request mcplib.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// numberArg extracts a float64 argument. The bool return is false when the
// key is absent or not a number, distinguishing "not provided" from "0".
func numberArg(args map[string]interface{}, key string) (float64, bool) {
	val, ok := args[key]
	if !ok || val == nil {
		return 0, false
	}
	f, ok := val.(float64)
	return f, ok
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true). This is
// returned as a tool-level error, not a transport-level JSON-RPC error.
func errResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
