// Package weights wires the query planner (internal/coordinator), the four
// scorers (internal/ks2, internal/volume, internal/valuerate), and the
// ranker/renderer (internal/rank) into the single request/response contract
// external callers (the CLI, the MCP server) use.
package weights

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baikal/weights/internal/coordinator"
	"github.com/baikal/weights/internal/ks2"
	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/queryiface"
	"github.com/baikal/weights/internal/rank"
	"github.com/baikal/weights/internal/registry"
	"github.com/baikal/weights/internal/telemetry"
	"github.com/baikal/weights/internal/valuerate"
	"github.com/baikal/weights/internal/volume"
)

// Method selects which scorer a request runs.
type Method string

const (
	MethodKS2         Method = "ks2"
	MethodVolume      Method = "volume"
	MethodAnomalyRate Method = "anomaly_rate"
	MethodValue       Method = "value"
)

// ErrInvalidRange is returned when the highlight or baseline window fails
// validation or baseline alignment (model.AlignBaseline).
var ErrInvalidRange = errors.New("weights: invalid time range")

// WeightsRequest is the external request contract (spec §6.1). Relative
// time resolution (negative after/before meaning "N seconds ago") is the
// caller's responsibility; After/Before here are always absolute epoch
// seconds by the time Run sees them.
type WeightsRequest struct {
	Method Method
	Format rank.Format

	After, Before                 int64
	BaselineAfter, BaselineBefore int64
	Points                        uint32
	Tier                          uint8

	TimeGroup        queryiface.TimeGrouping
	TimeGroupOptions string
	Options          queryiface.Options

	Scope   queryiface.Scope
	GroupBy rank.GroupBy

	TimeoutMs        uint32
	CardinalityLimit uint32
	RegisterZero     bool
	TransactionID    string

	// Telemetry, when non-nil, receives this run's engine statistics
	// (db queries, binary searches, worker count) as a Prometheus
	// recording. Leave nil to skip telemetry entirely.
	Telemetry *telemetry.Recorder
}

// DefaultWeightsRequest returns a request with every field at the defaults
// original_source's web_api_v12_weights applies when the caller omits them:
// points=500, timeout_ms=300_000 (5 minutes), cardinality_limit=50,
// register_zero=true, time_group=Average, format=Charts.
func DefaultWeightsRequest() WeightsRequest {
	return WeightsRequest{
		Method:           MethodKS2,
		Format:           rank.FormatCharts,
		Points:           500,
		TimeGroup:        queryiface.GroupAverage,
		TimeoutMs:        300_000,
		CardinalityLimit: 50,
		RegisterZero:     true,
	}
}

// WeightsResponse is the result of one Run: the rendered payload (one of
// rank.ChartsResponse / ContextsResponse / MultinodeResponse /
// MultinodeGroupedResponse / MCPResponse, selected by the request's Format),
// plus the run's status and cache-invalidation fingerprint.
type WeightsResponse struct {
	TransactionID string
	TimedOut      bool
	Interrupted   bool
	Versions      coordinator.Versions
	Payload       interface{}
}

// Run executes one weights request end-to-end: validates and aligns the
// windows, fans the scan out across the backend's hosts, scores every
// matched metric with the method's scorer, ranks, and renders.
func Run(ctx context.Context, backend queryiface.Backend, req WeightsRequest, log *zap.Logger) (*WeightsResponse, error) {
	timeoutMs := req.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = 300_000
	}
	if timeoutMs < 1_000 {
		timeoutMs = 1_000
	}

	highlight := model.Window{After: req.After, Before: req.Before, Points: req.Points, Tier: req.Tier}
	if err := highlight.Validate(); err != nil {
		return nil, ErrInvalidRange
	}

	needsBaseline := req.Method == MethodKS2 || req.Method == MethodVolume

	var baseline model.Window
	var alignment model.Alignment
	if needsBaseline {
		baseline = model.Window{After: req.BaselineAfter, Before: req.BaselineBefore, Points: req.Points, Tier: req.Tier}
		var err error
		alignment, err = model.AlignBaseline(highlight, baseline)
		if err != nil {
			return nil, ErrInvalidRange
		}
		highlight.Points = alignment.Points
		baseline.Points = alignment.Points << alignment.Shifts
		baseline.After = alignment.BaselineAfter
		baseline.Before = alignment.BaselineBefore
	}

	score := scoreFuncFor(req, backend, highlight, baseline, alignment.Shifts)
	if score == nil {
		return nil, errors.New("weights: unsupported method " + string(req.Method))
	}

	plan := coordinator.Plan{
		Backend:      backend,
		Scope:        req.Scope,
		Highlight:    highlight,
		Baseline:     baseline,
		HasBaseline:  needsBaseline,
		RegisterZero: req.RegisterZero,
		Score:        score,
		Log:          log,
	}

	runStarted := time.Now()
	result, err := coordinator.Run(ctx, plan, time.Duration(timeoutMs)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	runDuration := time.Since(runStarted)

	transactionID := req.TransactionID
	if transactionID == "" {
		transactionID = uuid.NewString()
	}

	resp := &WeightsResponse{
		TransactionID: transactionID,
		TimedOut:      result.TimedOut,
		Interrupted:   result.Interrupted,
		Versions:      result.Versions,
	}

	results := result.Registry.Results()

	if req.Telemetry != nil {
		snap := result.Stats.Snapshot()
		req.Telemetry.Record(telemetry.RunStats{
			Duration:           runDuration,
			DBQueries:          snap.DBQueries,
			DBPoints:           snap.DBPoints,
			BinarySearches:     snap.BinarySearches,
			ExaminedDimensions: result.ExaminedDimensions,
			RegisteredResults:  len(results),
			Workers:            result.Workers,
			TimedOut:           result.TimedOut,
			Interrupted:        result.Interrupted,
		})
	}

	// Even-spread ranking applies to every method except Value, and never to
	// the MCP format (original_source: `qwr->method != WEIGHTS_METHOD_VALUE
	// && qwr->format != WEIGHTS_FORMAT_MCP`), since MCP renders raw scores.
	if req.Method != MethodValue && req.Format != rank.FormatMCP {
		results = rank.EvenSpread(results, result.Stats.Snapshot().MaxBaseHighRatio)
	}

	header := buildHeader(req, highlight, baseline, needsBaseline, alignment.Shifts, result)

	switch req.Format {
	case rank.FormatContexts:
		resp.Payload = rank.RenderContexts(header, results)
	case rank.FormatMultinode:
		if req.GroupBy == 0 {
			resp.Payload = rank.RenderMultinode(header, results, needsBaseline)
		} else {
			resp.Payload = rank.RenderMultinodeGrouped(header, results, req.GroupBy)
		}
	case rank.FormatMCP:
		cardinality := req.CardinalityLimit
		if cardinality == 0 {
			cardinality = 50
		}
		resp.Payload = rank.RenderMCP(string(req.Method), result.ExaminedDimensions, results, uint64(cardinality), nil)
	case rank.FormatCharts:
		fallthrough
	default:
		resp.Payload = rank.RenderCharts(header, results)
	}

	return resp, nil
}

// groupByLabel renders the requested group_by bit-set as a short,
// comma-separated label for the response header's "group" echo.
func groupByLabel(g rank.GroupBy) string {
	if g == 0 {
		return "none"
	}
	var parts []string
	if g&rank.GroupByDimension != 0 {
		parts = append(parts, "dimension")
	}
	if g&rank.GroupByInstance != 0 {
		parts = append(parts, "instance")
	}
	if g&rank.GroupByNode != 0 {
		parts = append(parts, "node")
	}
	if g&rank.GroupByContext != 0 {
		parts = append(parts, "context")
	}
	if g&rank.GroupByUnits != 0 {
		parts = append(parts, "units")
	}
	label := ""
	for i, p := range parts {
		if i > 0 {
			label += ","
		}
		label += p
	}
	return label
}

func buildHeader(req WeightsRequest, highlight, baseline model.Window, hasBaseline bool, shifts uint32, result *coordinator.Result) rank.Header {
	snap := result.Stats.Snapshot()
	header := rank.Header{
		After:          highlight.After,
		Before:         highlight.Before,
		Duration:       highlight.Duration(),
		Points:         highlight.Points,
		Method:         string(req.Method),
		Group:          groupByLabel(req.GroupBy),
		CorrelatedDims: uint64(result.Registry.Len()),
		TotalDimsCount: result.ExaminedDimensions,
		Statistics: rank.StatisticsBlock{
			DBQueries:       snap.DBQueries,
			QueryResultPts:  snap.ResultPoints,
			BinarySearches:  snap.BinarySearches,
			DBPointsRead:    snap.DBPoints,
			DBPointsPerTier: snap.DBPointsPerTier,
		},
	}
	if hasBaseline {
		header.BaselineAfter = baseline.After
		header.BaselineBefore = baseline.Before
		header.BaselineDuration = baseline.Duration()
		header.BaselinePoints = baseline.Points
	}
	return header
}

// scoreFuncFor binds a coordinator.ScoreFunc to the scorer selected by
// req.Method, closing over the resolved windows so the coordinator itself
// never needs to know about scoring algorithms.
func scoreFuncFor(req WeightsRequest, backend queryiface.Backend, highlight, baseline model.Window, shifts uint32) coordinator.ScoreFunc {
	switch req.Method {
	case MethodKS2:
		return func(ctx context.Context, reg *registry.Registry, host queryiface.HostDescriptor, contextID, instanceID, metricID string) error {
			return scoreKS2(ctx, reg, backend, host, contextID, instanceID, metricID, highlight, baseline, shifts, req)
		}
	case MethodVolume:
		return func(ctx context.Context, reg *registry.Registry, host queryiface.HostDescriptor, contextID, instanceID, metricID string) error {
			outcome, err := volume.Score(ctx, backend, host, contextID, instanceID, metricID, baseline, highlight, req.Options, req.TimeGroup, req.TimeGroupOptions, reg.Stats())
			if err != nil || outcome.Skip {
				return err
			}
			id := model.MetricIdentity{HostID: host.ID, ContextID: contextID, InstanceID: instanceID, MetricID: metricID}
			reg.Register(id, outcome.Value, outcome.Flags, outcome.Highlighted, outcome.Baseline, outcome.DurationUs, req.RegisterZero)
			return nil
		}
	case MethodValue, MethodAnomalyRate:
		opts := req.Options
		if req.Method == MethodAnomalyRate {
			opts |= queryiface.OptionAnomalyBit
		}
		return func(ctx context.Context, reg *registry.Registry, host queryiface.HostDescriptor, contextID, instanceID, metricID string) error {
			outcome, err := valuerate.Score(ctx, backend, host, contextID, instanceID, metricID, highlight, opts, req.TimeGroup, req.TimeGroupOptions, reg.Stats())
			if err != nil || outcome.Skip {
				return err
			}
			id := model.MetricIdentity{HostID: host.ID, ContextID: contextID, InstanceID: instanceID, MetricID: metricID}
			reg.Register(id, outcome.Value, 0, outcome.StoragePoint, model.StoragePoint{}, outcome.DurationUs, req.RegisterZero)
			return nil
		}
	default:
		return nil
	}
}

func scoreKS2(ctx context.Context, reg *registry.Registry, backend queryiface.Backend, host queryiface.HostDescriptor, contextID, instanceID, metricID string, highlight, baseline model.Window, shifts uint32, req WeightsRequest) error {
	baselineSeries, err := backend.QuerySeries(ctx, queryiface.QuerySeriesRequest{
		Host: host, Context: contextID, Instance: instanceID, Metric: metricID,
		Window: baseline, Options: req.Options, TimeGroup: req.TimeGroup,
	})
	if err != nil {
		return err
	}
	reg.Stats().AddQuery(baselineSeries.ResultPoints, baselineSeries.DBPoints, baselineSeries.DBPointsPerTier)

	highlightSeries, err := backend.QuerySeries(ctx, queryiface.QuerySeriesRequest{
		Host: host, Context: contextID, Instance: instanceID, Metric: metricID,
		Window: highlight, Options: req.Options, TimeGroup: req.TimeGroup,
	})
	if err != nil {
		return err
	}
	reg.Stats().AddQuery(highlightSeries.ResultPoints, highlightSeries.DBPoints, highlightSeries.DBPointsPerTier)

	if len(baselineSeries.Values) < 2 || len(highlightSeries.Values) < 2 {
		return nil
	}
	reg.Stats().AddBinarySearches(uint64(2*(len(baselineSeries.Values)-1) + 2*(len(highlightSeries.Values)-1)))

	prob := ks2.Score(baselineSeries.Values, highlightSeries.Values, shifts)
	if prob != prob { // NaN check without importing math for one comparison
		return nil
	}

	// original_source registers 1-p: KS2's survival probability assigns
	// small values to high correlation, so the engine inverts it here.
	value := 1.0 - prob

	id := model.MetricIdentity{HostID: host.ID, ContextID: contextID, InstanceID: instanceID, MetricID: metricID}
	reg.Register(id, value, registry.FlagBaseHighRatio, highlightSeries.StoragePoint, baselineSeries.StoragePoint, 0, req.RegisterZero)
	return nil
}
