// Package mcp adapts the teacher's stdio Model Context Protocol server to
// the weights engine: instead of exposing system-diagnostic tools, it
// exposes the correlation engine itself, so an MCP-speaking agent (Claude
// Desktop, Cursor, ...) can ask "what changed" over a fleet of metrics
// without going through the CLI.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/baikal/weights/internal/queryiface"
)

// Server wraps the MCP server instance; the backend it runs weights
// requests against is bound into the registered tool handlers.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server bound to backend, with every
// correlation tool registered.
func NewServer(version string, backend queryiface.Backend, log *zap.Logger) *Server {
	s := server.NewMCPServer("weights", version, server.WithLogging())

	registerTools(s, backend, log)

	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode (blocking) until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools adds all supported tools to the server.
func registerTools(s *server.MCPServer, backend queryiface.Backend, log *zap.Logger) {
	correlateTool := mcp.NewTool("correlate_metrics",
		mcp.WithDescription("Rank every metric in scope by how strongly it distinguishes a highlighted time window from a baseline window. Returns the top correlated metrics in MCP columnar format."),
		mcp.WithNumber("after",
			mcp.Required(),
			mcp.Description("Highlight window start, unix epoch seconds."),
		),
		mcp.WithNumber("before",
			mcp.Required(),
			mcp.Description("Highlight window end, unix epoch seconds."),
		),
		mcp.WithNumber("baseline_after",
			mcp.Description("Baseline window start, unix epoch seconds. Required for ks2 and volume methods."),
		),
		mcp.WithNumber("baseline_before",
			mcp.Description("Baseline window end, unix epoch seconds. Required for ks2 and volume methods."),
		),
		mcp.WithString("method",
			mcp.Description("Scoring method: ks2 (distribution shift, needs baseline), volume (countif shift, needs baseline), anomaly_rate (highlight-only), value (highlight-only)."),
			mcp.DefaultString("ks2"),
			mcp.Enum("ks2", "volume", "anomaly_rate", "value"),
		),
		mcp.WithString("nodes",
			mcp.Description("Simple-pattern filter over node names/ids, e.g. 'web-*|!web-03'. Empty matches all."),
		),
		mcp.WithString("contexts",
			mcp.Description("Simple-pattern filter over context names, e.g. 'system.cpu|system.ram'. Empty matches all."),
		),
		mcp.WithNumber("cardinality_limit",
			mcp.Description("Maximum number of correlated metrics to return."),
			mcp.DefaultNumber(50),
		),
	)
	s.AddTool(correlateTool, handleCorrelateMetrics(backend, log))

	methodsTool := mcp.NewTool("get_correlation_methods",
		mcp.WithDescription("List the four correlation methods this engine supports and when to use each one."),
	)
	s.AddTool(methodsTool, handleGetCorrelationMethods)
}
