package rank

import (
	"sort"

	"github.com/baikal/weights/internal/registry"
)

// Format selects one of the four response shapes a weights run can produce.
type Format string

const (
	FormatCharts    Format = "charts"
	FormatContexts  Format = "contexts"
	FormatMultinode Format = "multinode"
	FormatMCP       Format = "mcp"
)

// GroupBy is the Multinode renderer's grouping bitset.
type GroupBy uint8

const (
	GroupByDimension GroupBy = 1 << iota
	GroupByInstance
	GroupByNode
	GroupByContext
	GroupByUnits
)

// Header carries the fields every format echoes back: the window, the
// statistics object, and the method/group echo. The request options are
// not echoed.
type Header struct {
	After            int64           `json:"after"`
	Before           int64           `json:"before"`
	Duration         int64           `json:"duration"`
	Points           uint32          `json:"points"`
	BaselineAfter    int64           `json:"baseline_after,omitempty"`
	BaselineBefore   int64           `json:"baseline_before,omitempty"`
	BaselineDuration int64           `json:"baseline_duration,omitempty"`
	BaselinePoints   uint32          `json:"baseline_points,omitempty"`
	Statistics       StatisticsBlock `json:"statistics"`
	Group            string          `json:"group"`
	Method           string          `json:"method"`
	CorrelatedDims   uint64          `json:"correlated_dimensions"`
	TotalDimsCount   uint64          `json:"total_dimensions_count"`
}

// StatisticsBlock mirrors original_source's results_header_to_json
// "statistics" object.
type StatisticsBlock struct {
	QueryTimeMs     float64  `json:"query_time_ms"`
	DBQueries       uint64   `json:"db_queries"`
	QueryResultPts  uint64   `json:"query_result_points"`
	BinarySearches  uint64   `json:"binary_searches"`
	DBPointsRead    uint64   `json:"db_points_read"`
	DBPointsPerTier []uint64 `json:"db_points_per_tier"`
}

// ChartsResponse is the Charts format: {context -> {chart -> {dimension -> score}}}.
type ChartsResponse struct {
	Header
	Contexts map[string]map[string]map[string]float64 `json:"contexts"`
}

// RenderCharts nests results by context then instance (chart) then metric.
func RenderCharts(header Header, results []registry.Result) ChartsResponse {
	out := ChartsResponse{Header: header, Contexts: map[string]map[string]map[string]float64{}}
	for _, r := range results {
		charts, ok := out.Contexts[r.Identity.ContextID]
		if !ok {
			charts = map[string]map[string]float64{}
			out.Contexts[r.Identity.ContextID] = charts
		}
		dims, ok := charts[r.Identity.InstanceID]
		if !ok {
			dims = map[string]float64{}
			charts[r.Identity.InstanceID] = dims
		}
		dims[r.Identity.MetricID] = r.Value
	}
	return out
}

// ContextsResponse is the Contexts format: {chart -> {context, dimensions -> score}}.
type ContextsResponse struct {
	Header
	Charts map[string]ContextsChart `json:"charts"`
}

// ContextsChart is one chart's entry in the Contexts format.
type ContextsChart struct {
	Context    string             `json:"context"`
	Dimensions map[string]float64 `json:"dimensions"`
}

// RenderContexts nests results by instance (chart), carrying the owning
// context alongside each chart's dimension scores.
func RenderContexts(header Header, results []registry.Result) ContextsResponse {
	out := ContextsResponse{Header: header, Charts: map[string]ContextsChart{}}
	for _, r := range results {
		chart, ok := out.Charts[r.Identity.InstanceID]
		if !ok {
			chart = ContextsChart{Context: r.Identity.ContextID, Dimensions: map[string]float64{}}
		}
		chart.Dimensions[r.Identity.MetricID] = r.Value
		out.Charts[r.Identity.InstanceID] = chart
	}
	return out
}

// multinodeRow is one row of the Multinode format's columnar "result"
// array, following the schema [row_type, ni, ci, ii, di, weight,
// timeframe_stats[, baseline_stats]].
type multinodeRow struct {
	RowType        int       `json:"-"`
	NodeIndex      int       `json:"-"`
	ContextIndex   int       `json:"-"`
	InstanceIndex  int       `json:"-"`
	DimensionIndex int       `json:"-"`
	Weight         float64   `json:"-"`
	TimeframeStats []float64 `json:"-"`
	BaselineStats  []float64 `json:"-"`
}

func (r multinodeRow) toArray(hasBaseline bool) []interface{} {
	row := []interface{}{r.RowType, r.NodeIndex, r.ContextIndex, r.InstanceIndex, r.DimensionIndex, r.Weight, r.TimeframeStats}
	if hasBaseline {
		row = append(row, r.BaselineStats)
	}
	return row
}

// MultinodeResponse is the ungrouped Multinode format: a columnar result
// array plus dictionaries mapping index -> identifier string.
type MultinodeResponse struct {
	Header
	Schema     []string        `json:"schema"`
	Result     [][]interface{} `json:"result"`
	Nodes      []string        `json:"nodes"`
	Contexts   []string        `json:"contexts"`
	Instances  []string        `json:"instances"`
	Dimensions []string        `json:"dimensions"`
}

// indexOf returns the index of v in *slice, appending it if absent.
func indexOf(slice *[]string, v string) int {
	for i, s := range *slice {
		if s == v {
			return i
		}
	}
	*slice = append(*slice, v)
	return len(*slice) - 1
}

// RenderMultinode builds the ungrouped columnar response, deduplicating
// node/context/instance/dimension identifiers into parallel dictionaries
// referenced by index.
func RenderMultinode(header Header, results []registry.Result, hasBaseline bool) MultinodeResponse {
	out := MultinodeResponse{Header: header}
	out.Schema = []string{"row_type", "ni", "ci", "ii", "di", "weight", "timeframe_stats"}
	if hasBaseline {
		out.Schema = append(out.Schema, "baseline_stats")
	}

	for _, r := range results {
		row := multinodeRow{
			RowType:        0,
			NodeIndex:      indexOf(&out.Nodes, r.Identity.HostID),
			ContextIndex:   indexOf(&out.Contexts, r.Identity.ContextID),
			InstanceIndex:  indexOf(&out.Instances, r.Identity.InstanceID),
			DimensionIndex: indexOf(&out.Dimensions, r.Identity.MetricID),
			Weight:         r.Value,
			TimeframeStats: []float64{r.Highlighted.Min, r.Highlighted.Max, r.Highlighted.Average(), float64(r.Highlighted.Count), float64(r.Highlighted.AnomalyCount)},
		}
		if hasBaseline {
			row.BaselineStats = []float64{r.Baseline.Min, r.Baseline.Max, r.Baseline.Average(), float64(r.Baseline.Count), float64(r.Baseline.AnomalyCount)}
		}
		out.Result = append(out.Result, row.toArray(hasBaseline))
	}
	return out
}

// groupKey builds the Multinode group-by aggregation key exactly the way
// original_source does, including its asymmetry: the instance key folds
// in the node UUID (to disambiguate the same instance name across hosts)
// only when GroupByNode is NOT also set — when both are set, the node
// segment is added once, separately, instead. This is a quirk of the
// original implementation, not a bug fixed here; group_by={Instance}
// ("inst@host") and group_by={Instance,Node} ("inst,host") therefore do
// not compose the way a reader might expect from the other combinations.
func groupKey(groupBy GroupBy, r registry.Result) string {
	key := ""
	sep := func() {
		if key != "" {
			key += ","
		}
	}
	if groupBy&GroupByDimension != 0 {
		key += r.Identity.MetricID
	}
	if groupBy&GroupByInstance != 0 {
		sep()
		key += r.Identity.InstanceID
		if groupBy&GroupByNode == 0 {
			key += "@" + r.Identity.HostID
		}
	}
	if groupBy&GroupByNode != 0 {
		sep()
		key += r.Identity.HostID
	}
	if groupBy&GroupByContext != 0 {
		sep()
		key += r.Identity.ContextID
	}
	return key
}

// aggregatedWeight is one Multinode group-by bucket, averaged across the
// results that mapped to the same groupKey.
type aggregatedWeight struct {
	name  string
	min   float64
	max   float64
	sum   float64
	count uint64
}

func (a *aggregatedWeight) merge(v float64) {
	if a.count == 0 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.sum += v
	a.count++
}

// MultinodeGroupedResponse is the grouped Multinode format.
type MultinodeGroupedResponse struct {
	Header
	Result []GroupedEntry `json:"result"`
}

// GroupedEntry is one row of the grouped Multinode response.
type GroupedEntry struct {
	ID    string  `json:"id"`
	Name  string  `json:"nm,omitempty"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count uint64  `json:"count"`
}

// RenderMultinodeGrouped aggregates results into groupBy buckets, averaging
// the weight across every result that falls into the same group.
func RenderMultinodeGrouped(header Header, results []registry.Result, groupBy GroupBy) MultinodeGroupedResponse {
	buckets := map[string]*aggregatedWeight{}
	order := make([]string, 0)
	for _, r := range results {
		key := groupKey(groupBy, r)
		b, ok := buckets[key]
		if !ok {
			b = &aggregatedWeight{name: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.merge(r.Value)
	}

	out := MultinodeGroupedResponse{Header: header}
	for _, key := range order {
		b := buckets[key]
		out.Result = append(out.Result, GroupedEntry{
			ID:    key,
			Name:  b.name,
			Min:   b.min,
			Max:   b.max,
			Avg:   b.sum / float64(b.count),
			Count: b.count,
		})
	}
	return out
}

// MCPRow is one row of the MCP format's columnar results array.
type MCPRow struct {
	Score        float64           `json:"-"`
	Min          float64           `json:"-"`
	Max          float64           `json:"-"`
	Average      float64           `json:"-"`
	SampleCount  uint64            `json:"-"`
	AnomalyCount uint64            `json:"-"`
	Hostname     string            `json:"-"`
	Context      string            `json:"-"`
	Instance     string            `json:"-"`
	Dimension    string            `json:"-"`
	Labels       map[string]string `json:"-"`
}

func (r MCPRow) toArray() []interface{} {
	var labels interface{}
	if len(r.Labels) > 0 {
		labels = r.Labels
	}
	return []interface{}{r.Score, r.Min, r.Max, r.Average, r.SampleCount, r.AnomalyCount, r.Hostname, r.Context, r.Instance, r.Dimension, labels}
}

// MCPMetadata carries the MCP format's trailing metadata object.
type MCPMetadata struct {
	TotalAnalyzed  uint64 `json:"total_time_series_analyzed"`
	TotalReturned  uint64 `json:"total_time_series_returned"`
	Method         string `json:"method"`
	CardinalityLim uint64 `json:"cardinality_limit,omitempty"`
	Truncated      bool   `json:"truncated,omitempty"`
}

// MCPResponse is the MCP format.
type MCPResponse struct {
	Columns  []string        `json:"columns"`
	Results  [][]interface{} `json:"results"`
	Metadata MCPMetadata     `json:"metadata"`
}

// scoreColumnName names the MCP format's first column by method, matching
// original_source's per-method column label.
func scoreColumnName(method string) string {
	switch method {
	case "ks2":
		return "KS2 Score"
	case "volume":
		return "Volume Score"
	case "anomaly_rate":
		return "Anomaly Rate"
	case "value":
		return "Coefficient of Variation"
	default:
		return "Score"
	}
}

// RenderMCP sorts results descending by score, applies the cardinality
// limit (floored at 30, matching original_source), and emits the
// columnar MCP response with truncation metadata when the limit binds.
func RenderMCP(method string, examinedDimensions uint64, results []registry.Result, cardinalityLimit uint64, labelsByInstance map[string]map[string]string) MCPResponse {
	if cardinalityLimit < 30 {
		cardinalityLimit = 30
	}

	sorted := make([]registry.Result, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })

	out := MCPResponse{
		Columns: []string{
			scoreColumnName(method),
			"Minimum Sample Value", "Maximum Sample Value", "Average Sample Value",
			"# of Samples in Window", "# of Anomalous Samples in Window",
			"Hostname", "Context / Metric Name", "Metrics Instance", "Dimension", "Instance Labels",
		},
	}

	var count uint64
	for _, r := range sorted {
		if count >= cardinalityLimit {
			break
		}
		row := MCPRow{
			Score:        r.Value,
			Min:          r.Highlighted.Min,
			Max:          r.Highlighted.Max,
			Average:      r.Highlighted.Average(),
			SampleCount:  r.Highlighted.Count,
			AnomalyCount: r.Highlighted.AnomalyCount,
			Hostname:     r.Identity.HostID,
			Context:      r.Identity.ContextID,
			Instance:     r.Identity.InstanceID,
			Dimension:    r.Identity.MetricID,
			Labels:       labelsByInstance[r.Identity.InstanceID],
		}
		out.Results = append(out.Results, row.toArray())
		count++
	}

	out.Metadata = MCPMetadata{
		TotalAnalyzed: examinedDimensions,
		TotalReturned: count,
		Method:        method,
	}
	if count >= cardinalityLimit {
		out.Metadata.CardinalityLim = cardinalityLimit
		out.Metadata.Truncated = true
	}

	return out
}
