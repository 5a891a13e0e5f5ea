// weights — ranks time-series metrics by how strongly they correlate with
// a highlighted time window, against an optional baseline window.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	weightsmcp "github.com/baikal/weights/internal/mcp"
	"github.com/baikal/weights/internal/queryiface"
	"github.com/baikal/weights/internal/rank"
	"github.com/baikal/weights/internal/telemetry"
	"github.com/baikal/weights/internal/weights"

	"github.com/baikal/weights/internal/localstore"
)

var version = "0.1.0"

func main() {
	var verbose bool
	var fixturePath string
	var metricsAddr string

	var backend *localstore.Store
	var logger *zap.Logger
	var recorder *telemetry.Recorder

	rootCmd := &cobra.Command{
		Use:   "weights",
		Short: "Rank time-series metrics by correlation with a highlighted window",
		Long: `weights — single Go binary implementing Netdata's metric correlations engine.

Given a highlighted time window and an optional baseline window across a
fleet of time-series metrics, ranks every metric by how strongly it
distinguishes the highlight from the baseline.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = newLogger(verbose)

			store := localstore.NewStore(localstore.DefaultRingCapacity, 1)
			if fixturePath != "" {
				if err := localstore.LoadFixtureFile(store, fixturePath, time.Now().Unix()); err != nil {
					return fmt.Errorf("load fixture: %w", err)
				}
			}
			backend = store

			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				recorder = telemetry.NewRecorder(reg)
				srv := telemetry.NewServer(metricsAddr, reg)
				go func() {
					if err := srv.Start(cmd.Context()); err != nil {
						logger.Warn("metrics server exited", zap.Error(err))
					}
				}()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&fixturePath, "fixture", "", "Load a YAML synthetic-fleet fixture into the reference query backend")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus engine-run metrics on this address (e.g. :9090); empty disables telemetry")

	rootCmd.AddCommand(
		newQueryCmd(&backend, &logger, &recorder),
		newMCPCmd(&backend, &logger),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newQueryCmd builds the `weights query` command, whose flags bind
// directly to weights.WeightsRequest fields.
func newQueryCmd(backend **localstore.Store, logger **zap.Logger, recorder **telemetry.Recorder) *cobra.Command {
	var (
		method           string
		format           string
		after, before    int64
		baselineAfter    int64
		baselineBefore   int64
		points           uint32
		timeGroup        string
		timeGroupOptions string
		nodes            string
		contexts         string
		instances        string
		dimensions       string
		labels           string
		groupBy          string
		timeoutMs        uint32
		cardinalityLimit uint32
		output           string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one correlation query against the reference backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := weights.DefaultWeightsRequest()
			req.Method = weights.Method(method)
			req.Format = rank.Format(format)
			req.After, req.Before = after, before
			req.BaselineAfter, req.BaselineBefore = baselineAfter, baselineBefore
			if points > 0 {
				req.Points = points
			}
			if timeGroup != "" {
				req.TimeGroup = queryiface.TimeGrouping(timeGroup)
			}
			req.TimeGroupOptions = timeGroupOptions
			req.Scope = queryiface.Scope{
				Nodes:      nodes,
				Contexts:   contexts,
				Instances:  instances,
				Dimensions: dimensions,
				Labels:     labels,
			}
			req.GroupBy = parseGroupBy(groupBy)
			if timeoutMs > 0 {
				req.TimeoutMs = timeoutMs
			}
			if cardinalityLimit > 0 {
				req.CardinalityLimit = cardinalityLimit
			}
			req.Telemetry = *recorder

			resp, err := weights.Run(cmd.Context(), *backend, req, *logger)
			if err != nil {
				return err
			}
			return writeJSON(resp, output)
		},
	}

	cmd.Flags().StringVar(&method, "method", string(weights.MethodKS2), "Scoring method: ks2, volume, anomaly_rate, value")
	cmd.Flags().StringVar(&format, "format", string(rank.FormatCharts), "Output format: charts, contexts, multinode, mcp")
	cmd.Flags().Int64Var(&after, "after", 0, "Highlight window start, unix epoch seconds")
	cmd.Flags().Int64Var(&before, "before", 0, "Highlight window end, unix epoch seconds")
	cmd.Flags().Int64Var(&baselineAfter, "baseline-after", 0, "Baseline window start, unix epoch seconds")
	cmd.Flags().Int64Var(&baselineBefore, "baseline-before", 0, "Baseline window end, unix epoch seconds")
	cmd.Flags().Uint32Var(&points, "points", 0, "Points per window (0 keeps the default of 500)")
	cmd.Flags().StringVar(&timeGroup, "time-group", "", "Aggregation function: average, min, max, sum, countif")
	cmd.Flags().StringVar(&timeGroupOptions, "time-group-options", "", "Options string for the time-group function, e.g. countif's '>5.2'")
	cmd.Flags().StringVar(&nodes, "nodes", "", "Simple-pattern filter over node names")
	cmd.Flags().StringVar(&contexts, "contexts", "", "Simple-pattern filter over context names")
	cmd.Flags().StringVar(&instances, "instances", "", "Simple-pattern filter over instance names")
	cmd.Flags().StringVar(&dimensions, "dimensions", "", "Simple-pattern filter over dimension names")
	cmd.Flags().StringVar(&labels, "labels", "", "Simple-pattern filter over instance labels")
	cmd.Flags().StringVar(&groupBy, "group-by", "", "Comma-separated group-by keys for multinode format: dimension,instance,node,context,units")
	cmd.Flags().Uint32Var(&timeoutMs, "timeout", 0, "Run timeout in milliseconds (0 keeps the default of 300000)")
	cmd.Flags().Uint32Var(&cardinalityLimit, "cardinality-limit", 0, "Maximum number of results to return (0 keeps the default of 50)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file path (- for stdout)")

	return cmd
}

// newMCPCmd builds the `weights mcp` command.
func newMCPCmd(backend **localstore.Store, logger **zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the Model Context Protocol (MCP) server",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
This allows AI agents to interactively correlate metrics against the
reference query backend over standard input/output (stdio).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := weightsmcp.NewServer(version, *backend, *logger)
			return srv.Start(ctx)
		},
	}
}

// newVersionCmd builds the `weights version` command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

// newLogger builds a zap logger, console-encoded for interactive use and
// debug-leveled when verbose is set, matching the teacher's --verbose flag
// intent without its bespoke output.Progress writer.
func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// parseGroupBy turns a comma-separated group-by flag value into a
// rank.GroupBy bitset.
func parseGroupBy(s string) rank.GroupBy {
	var g rank.GroupBy
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "dimension":
			g |= rank.GroupByDimension
		case "instance":
			g |= rank.GroupByInstance
		case "node":
			g |= rank.GroupByNode
		case "context":
			g |= rank.GroupByContext
		case "units":
			g |= rank.GroupByUnits
		}
	}
	return g
}

// writeJSON writes resp as indented JSON to path, or stdout when path is "-".
func writeJSON(resp interface{}, path string) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" || path == "" {
		_, err := os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
