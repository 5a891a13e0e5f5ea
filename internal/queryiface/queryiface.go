// Package queryiface is the contract between the weights engine and the
// storage/catalog system it runs against. The engine treats everything in
// this package as an external collaborator: no component outside
// internal/localstore is allowed to know how a Backend actually fetches
// data, only that it satisfies this interface.
package queryiface

import (
	"context"

	"github.com/baikal/weights/internal/model"
)

// Options carries the rendering/query flags that travel alongside every
// query_series/query_value call — match-by-id, absolute value, anomaly-bit
// mode, natural-points mode. Kept as a bitset rather than separate bools
// because the backend must be able to pass it through to a real storage
// engine's own option bitfield unchanged.
type Options uint32

const (
	OptionMatchIDs Options = 1 << iota
	OptionAbsolute
	OptionAnomalyBit
	OptionNaturalPoints
	OptionRFC3339
	OptionMinify
)

// Has reports whether all bits in mask are set.
func (o Options) Has(mask Options) bool {
	return o&mask == mask
}

// TimeGrouping selects the aggregation function used when collapsing raw
// samples into query_series/query_value's requested point count.
type TimeGrouping string

const (
	GroupAverage TimeGrouping = "average"
	GroupMin     TimeGrouping = "min"
	GroupMax     TimeGrouping = "max"
	GroupSum     TimeGrouping = "sum"
	GroupCountif TimeGrouping = "countif"
)

// HostDescriptor identifies one matching host passed to a ForeachHost
// callback.
type HostDescriptor struct {
	ID       string
	Hostname string
}

// ContextDescriptor identifies one matching context passed to a
// ForeachContext callback, along with whether it is queryable right now
// (a context can exist in the catalog but have no retained data left).
type ContextDescriptor struct {
	ID         string
	Queryable  bool
	InstanceOf string // e.g. "system.cpu"
}

// MetricDescriptor identifies one leaf metric (a single dimension of a
// single instance) passed to a ForeachMetricInContext callback.
type MetricDescriptor struct {
	InstanceID string
	MetricID   string
}

// Scope narrows a catalog walk to a subset of nodes/contexts/instances/
// labels/dimensions, expressed as the same simple-pattern strings the
// request layer accepts (empty means "no restriction").
type Scope struct {
	Nodes      string
	Contexts   string
	Instances  string
	Labels     string
	Dimensions string
	Alerts     string
}

// Series is query_series's result: equal-stride aligned samples plus the
// aggregate storage point and per-query cost stats for the window. Values
// holds one float64 per point and no per-point count, so a point without
// samples carries no zero-count marker; the reference backend
// (internal/localstore) writes NaN for such a point. StoragePoint
// summarizes the whole window, not individual points.
type Series struct {
	Values          []float64
	StoragePoint    model.StoragePoint
	ResultPoints    uint64
	DBPoints        uint64
	DBPointsPerTier []uint64
}

// QueryValue is query_value's result: one scalar summarizing a window.
type QueryValue struct {
	Value           float64
	AnomalyRate     float64
	StoragePoint    model.StoragePoint
	ResultPoints    uint64
	DBPoints        uint64
	DBPointsPerTier []uint64
	DurationUs      int64
}

// QuerySeriesRequest bundles query_series's parameters; passed by value so
// a Backend implementation never needs to retain the caller's memory.
type QuerySeriesRequest struct {
	Host      HostDescriptor
	Context   string
	Instance  string
	Metric    string
	Window    model.Window
	Options   Options
	TimeGroup TimeGrouping
}

// QueryValueRequest bundles query_value's parameters.
type QueryValueRequest struct {
	Host             HostDescriptor
	Context          string
	Instance         string
	Metric           string
	Window           model.Window
	Options          Options
	TimeGroup        TimeGrouping
	TimeGroupOptions string
}

// Backend is the query-interface contract C6 fans out over. Every method
// is expected to be safe to call concurrently from multiple goroutines
// against the same Backend value — the coordinator calls it from one
// goroutine per host partition.
type Backend interface {
	// ForeachHost invokes cb once per host matching scope (and nodes, a
	// pattern restricting by node id/hostname); iteration stops early if
	// cb returns false.
	ForeachHost(ctx context.Context, scope Scope, cb func(HostDescriptor) bool) error

	// ForeachContext invokes cb once per context matching scope/contexts on
	// host; iteration stops early if cb returns false.
	ForeachContext(ctx context.Context, host HostDescriptor, scope Scope, cb func(ContextDescriptor) bool) error

	// ForeachMetricInContext invokes cb once per leaf metric in context
	// matching scope; iteration stops early if cb returns false.
	ForeachMetricInContext(ctx context.Context, host HostDescriptor, context string, scope Scope, cb func(MetricDescriptor) bool) error

	// QuerySeries returns the equal-stride aligned sample series for one
	// metric's window.
	QuerySeries(ctx context.Context, req QuerySeriesRequest) (Series, error)

	// QueryValue returns the single scalar aggregate for one metric's
	// window.
	QueryValue(ctx context.Context, req QueryValueRequest) (QueryValue, error)

	// StorageTiers reports how many storage tiers the backend exposes, so
	// callers can size per-tier statistics arrays correctly.
	StorageTiers() int
}
