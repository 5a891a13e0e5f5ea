// Package registry implements the result registry (C5): a multiset of
// scored metrics keyed by stable metric identity (one per worker, not
// safe for concurrent use; only Stats is mutex-guarded), with
// merge-by-higher-value semantics so that results computed by independent
// workers (one per host, in the coordinator's fan-out) can be folded
// together without double counting or losing the stronger score.
package registry

import (
	"math"
	"sort"
	"sync"

	"github.com/baikal/weights/internal/model"
)

// Flags records which scoring formula produced a Result's value, needed
// later by the even-spread ranker to decide whether to rescale the value
// before sorting.
type Flags uint8

const (
	// FlagBaseHighRatio marks a value computed as a ratio against the
	// baseline window (KS2's 1-p, Volume's ratio-based pcent).
	FlagBaseHighRatio Flags = 1 << iota
	// FlagPercentageOfTime marks a value that is already a fraction of
	// time in [0,1] (Volume's pcent-of-time branch, when baseline is zero).
	FlagPercentageOfTime
)

// Result is one scored metric, ready for even-spread ranking and rendering.
type Result struct {
	Identity    model.MetricIdentity
	Flags       Flags
	Value       float64
	Highlighted model.StoragePoint
	Baseline    model.StoragePoint
	DurationUs  int64
}

// Stats accumulates the query-cost counters a coordinator run reports
// alongside its results (original_source's WEIGHTS_STATS).
type Stats struct {
	mu               sync.Mutex
	DBQueries        uint64
	ResultPoints     uint64
	DBPoints         uint64
	BinarySearches   uint64
	ExaminedMetrics  uint64
	MaxBaseHighRatio float64
	DBPointsPerTier  []uint64
}

// NewStats allocates a Stats with a per-tier counter slice sized to tiers.
func NewStats(tiers int) *Stats {
	return &Stats{DBPointsPerTier: make([]uint64, tiers)}
}

// AddQuery folds one backend query's cost into the stats, safe for
// concurrent callers (one per coordinator worker).
func (s *Stats) AddQuery(resultPoints, dbPoints uint64, perTier []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DBQueries++
	s.ResultPoints += resultPoints
	s.DBPoints += dbPoints
	for i, v := range perTier {
		if i < len(s.DBPointsPerTier) {
			s.DBPointsPerTier[i] += v
		}
	}
}

// AddBinarySearches folds in the number of binary searches a KS2 scorer
// ran, matching original_source's `2*(base_points-1) + 2*(high_points-1)`
// accounting at the call site.
func (s *Stats) AddBinarySearches(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BinarySearches += n
}

// IncExamined records that one more leaf metric was considered, whether or
// not it produced a registered result.
func (s *Stats) IncExamined() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExaminedMetrics++
}

func (s *Stats) trackRatio(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > s.MaxBaseHighRatio {
		s.MaxBaseHighRatio = v
	}
}

// Merge folds another worker's stats into s, used by the coordinator after
// a parallel fan-out completes (original_source's merge_weights_stats).
func (s *Stats) Merge(other *Stats) {
	other.mu.Lock()
	dbQueries := other.DBQueries
	resultPoints := other.ResultPoints
	dbPoints := other.DBPoints
	binarySearches := other.BinarySearches
	examinedMetrics := other.ExaminedMetrics
	maxRatio := other.MaxBaseHighRatio
	perTier := make([]uint64, len(other.DBPointsPerTier))
	copy(perTier, other.DBPointsPerTier)
	other.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.DBQueries += dbQueries
	s.ResultPoints += resultPoints
	s.DBPoints += dbPoints
	s.BinarySearches += binarySearches
	s.ExaminedMetrics += examinedMetrics
	if maxRatio > s.MaxBaseHighRatio {
		s.MaxBaseHighRatio = maxRatio
	}
	for i, v := range perTier {
		if i < len(s.DBPointsPerTier) {
			s.DBPointsPerTier[i] += v
		}
	}
}

// Snapshot returns a value copy of the counters for rendering, without the
// mutex, so renderers can read it after the coordinator run completes.
type Snapshot struct {
	DBQueries        uint64
	ResultPoints     uint64
	DBPoints         uint64
	BinarySearches   uint64
	ExaminedMetrics  uint64
	MaxBaseHighRatio float64
	DBPointsPerTier  []uint64
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	perTier := make([]uint64, len(s.DBPointsPerTier))
	copy(perTier, s.DBPointsPerTier)
	return Snapshot{
		DBQueries:        s.DBQueries,
		ResultPoints:     s.ResultPoints,
		DBPoints:         s.DBPoints,
		BinarySearches:   s.BinarySearches,
		ExaminedMetrics:  s.ExaminedMetrics,
		MaxBaseHighRatio: s.MaxBaseHighRatio,
		DBPointsPerTier:  perTier,
	}
}

// Registry is a single-threaded multiset of Results keyed by metric
// identity. One Registry exists per coordinator worker; the coordinator
// merges worker-local registries into one via Merge after the fan-out
// completes, so the hot insert path (Register) never needs a lock.
type Registry struct {
	byKey map[string]Result
	stats *Stats
}

// New creates an empty registry reporting into stats. The coordinator gives
// each worker's registry its own Stats and folds them together afterwards
// with Stats.Merge.
func New(stats *Stats) *Registry {
	return &Registry{byKey: make(map[string]Result), stats: stats}
}

// Register stores a scored metric, dropping non-finite and (unless
// registerZero is set) zero-valued results, exactly as original_source's
// register_result does. The stored value is always non-negative (the sign
// carries no ranking meaning, only the magnitude of the distinguishing
// signal does).
func (r *Registry) Register(identity model.MetricIdentity, value float64, flags Flags, highlighted, baseline model.StoragePoint, durationUs int64, registerZero bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}

	v := math.Abs(value)
	if v == 0 && !registerZero {
		return
	}

	if flags&FlagBaseHighRatio != 0 {
		r.stats.trackRatio(v)
	}

	r.byKey[identity.Key()] = Result{
		Identity:    identity,
		Flags:       flags,
		Value:       v,
		Highlighted: highlighted,
		Baseline:    baseline,
		DurationUs:  durationUs,
	}
}

// Stats returns the Stats this registry reports query-cost counters into,
// so scorers invoked with only a *Registry (as coordinator.ScoreFunc does)
// can still account for the queries they issue.
func (r *Registry) Stats() *Stats {
	return r.stats
}

// Len returns the number of distinct metrics currently registered.
func (r *Registry) Len() int {
	return len(r.byKey)
}

// Results returns a newly allocated slice of all registered results, in no
// particular order; callers that need deterministic order should sort it.
func (r *Registry) Results() []Result {
	out := make([]Result, 0, len(r.byKey))
	for _, v := range r.byKey {
		out = append(out, v)
	}
	return out
}

// Merge folds other into r, keeping the higher value on key collisions —
// the same policy as original_source's merge_results_dictionaries, used by
// the coordinator to combine one worker-local registry into the shared one.
func (r *Registry) Merge(other *Registry) {
	for key, v := range other.byKey {
		existing, ok := r.byKey[key]
		if !ok || v.Value > existing.Value {
			r.byKey[key] = v
		}
	}
}

// SortedByValueDescending returns the registered results ordered from
// highest to lowest value. The weights pipeline hands renderers
// Results() instead; RenderMCP does its own descending sort.
func (r *Registry) SortedByValueDescending() []Result {
	out := r.Results()
	sort.Slice(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}
