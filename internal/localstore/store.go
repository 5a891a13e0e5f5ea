// Package localstore implements an in-process, non-persistent
// queryiface.Backend (§12 of the reference backend): a bounded ring of
// timestamped scalar samples per leaf metric, sampled from procfs by the
// adapted Tier 1 collectors (sampler.go) or pre-populated from a YAML
// fixture (fixture.go) for synthetic multi-host fleets. It exists so the
// CLI, the MCP server, and the engine's own tests have something real to
// query without depending on a live Netdata agent.
package localstore

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/queryiface"
)

// DefaultRingCapacity bounds how many samples each leaf metric retains.
// At a 1s sample interval this holds a little over an hour of history,
// comfortably more than the default highlight/baseline windows need.
const DefaultRingCapacity = 4096

type instanceEntry struct {
	metrics map[string]*sampleRing
}

type contextEntry struct {
	instanceOf string
	queryable  bool
	instances  map[string]*instanceEntry
}

type hostEntry struct {
	desc     queryiface.HostDescriptor
	contexts map[string]*contextEntry
}

// Store is the concrete reference backend: a concurrency-safe catalog of
// hosts/contexts/instances/metrics, each leaf metric backed by a
// sampleRing. All read methods (the queryiface.Backend methods) and the
// write methods (Record, SetContextQueryable) may be called concurrently.
type Store struct {
	mu       sync.RWMutex
	hosts    map[string]*hostEntry
	capacity int
	tiers    int
}

// NewStore creates an empty Store. capacity bounds each metric's sample
// ring (DefaultRingCapacity if <= 0); tiers is the StorageTiers() value
// reported to callers sizing per-tier statistics arrays.
func NewStore(capacity, tiers int) *Store {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	if tiers <= 0 {
		tiers = 1
	}
	return &Store{hosts: make(map[string]*hostEntry), capacity: capacity, tiers: tiers}
}

// Record appends one sample for the given leaf metric, creating the host,
// context, instance and metric entries on first use. queryable defaults to
// true for any context seen this way; samplers and fixtures may still mark
// a context non-queryable afterwards via SetContextQueryable.
func (s *Store) Record(hostID, hostname, contextID, instanceID, metricID string, ts int64, value float64) {
	s.mu.Lock()
	host, ok := s.hosts[hostID]
	if !ok {
		host = &hostEntry{
			desc:     queryiface.HostDescriptor{ID: hostID, Hostname: hostname},
			contexts: make(map[string]*contextEntry),
		}
		s.hosts[hostID] = host
	}
	ctxEntry, ok := host.contexts[contextID]
	if !ok {
		ctxEntry = &contextEntry{instanceOf: contextID, queryable: true, instances: make(map[string]*instanceEntry)}
		host.contexts[contextID] = ctxEntry
	}
	inst, ok := ctxEntry.instances[instanceID]
	if !ok {
		inst = &instanceEntry{metrics: make(map[string]*sampleRing)}
		ctxEntry.instances[instanceID] = inst
	}
	ring, ok := inst.metrics[metricID]
	if !ok {
		ring = newSampleRing(s.capacity)
		inst.metrics[metricID] = ring
	}
	s.mu.Unlock()

	ring.append(ts, value)
}

// SetContextQueryable flips a context's queryable flag, used to simulate a
// context whose retention has expired (present in the catalog, but with no
// data left to query) per queryiface.ContextDescriptor's doc comment.
func (s *Store) SetContextQueryable(hostID, contextID string, queryable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if host, ok := s.hosts[hostID]; ok {
		if ctxEntry, ok := host.contexts[contextID]; ok {
			ctxEntry.queryable = queryable
		}
	}
}

func (s *Store) ring(hostID, contextID, instanceID, metricID string) (*sampleRing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	host, ok := s.hosts[hostID]
	if !ok {
		return nil, false
	}
	ctxEntry, ok := host.contexts[contextID]
	if !ok {
		return nil, false
	}
	inst, ok := ctxEntry.instances[instanceID]
	if !ok {
		return nil, false
	}
	ring, ok := inst.metrics[metricID]
	return ring, ok
}

// matchPattern reports whether name matches one of pattern's pipe-separated
// glob terms (netdata's "simple pattern" convention), or is true
// unconditionally when pattern is empty. A term prefixed with '!' negates:
// if name matches a negated term, the whole pattern rejects it regardless
// of any positive term and of where that term sits in the pattern.
func matchPattern(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	matched := false
	for _, term := range strings.Fields(strings.ReplaceAll(pattern, "|", " ")) {
		negate := strings.HasPrefix(term, "!")
		glob := strings.TrimPrefix(term, "!")
		ok, _ := path.Match(glob, name)
		if ok {
			if negate {
				return false
			}
			matched = true
		}
	}
	return matched
}

func (s *Store) ForeachHost(ctx context.Context, scope queryiface.Scope, cb func(queryiface.HostDescriptor) bool) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.hosts))
	descs := make(map[string]queryiface.HostDescriptor, len(s.hosts))
	for id, h := range s.hosts {
		ids = append(ids, id)
		descs[id] = h.desc
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		desc := descs[id]
		if !matchPattern(scope.Nodes, desc.ID) && !matchPattern(scope.Nodes, desc.Hostname) {
			continue
		}
		if !cb(desc) {
			return nil
		}
	}
	return nil
}

func (s *Store) ForeachContext(ctx context.Context, host queryiface.HostDescriptor, scope queryiface.Scope, cb func(queryiface.ContextDescriptor) bool) error {
	s.mu.RLock()
	h, ok := s.hosts[host.ID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	ids := make([]string, 0, len(h.contexts))
	for id := range h.contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	descs := make([]queryiface.ContextDescriptor, len(ids))
	for i, id := range ids {
		ce := h.contexts[id]
		descs[i] = queryiface.ContextDescriptor{ID: id, Queryable: ce.queryable, InstanceOf: ce.instanceOf}
	}
	s.mu.RUnlock()

	for _, desc := range descs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !matchPattern(scope.Contexts, desc.ID) {
			continue
		}
		if !cb(desc) {
			return nil
		}
	}
	return nil
}

func (s *Store) ForeachMetricInContext(ctx context.Context, host queryiface.HostDescriptor, contextID string, scope queryiface.Scope, cb func(queryiface.MetricDescriptor) bool) error {
	s.mu.RLock()
	h, ok := s.hosts[host.ID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	ce, ok := h.contexts[contextID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	type leaf struct{ instanceID, metricID string }
	var leaves []leaf
	instanceIDs := make([]string, 0, len(ce.instances))
	for id := range ce.instances {
		instanceIDs = append(instanceIDs, id)
	}
	sort.Strings(instanceIDs)
	for _, instID := range instanceIDs {
		inst := ce.instances[instID]
		metricIDs := make([]string, 0, len(inst.metrics))
		for id := range inst.metrics {
			metricIDs = append(metricIDs, id)
		}
		sort.Strings(metricIDs)
		for _, m := range metricIDs {
			leaves = append(leaves, leaf{instID, m})
		}
	}
	s.mu.RUnlock()

	for _, l := range leaves {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !matchPattern(scope.Instances, l.instanceID) {
			continue
		}
		if !matchPattern(scope.Dimensions, l.metricID) {
			continue
		}
		if !cb(queryiface.MetricDescriptor{InstanceID: l.instanceID, MetricID: l.metricID}) {
			return nil
		}
	}
	return nil
}

// aggregate collapses samples down to n equal-stride points using group,
// filling a point with NaN when no sample falls in its stride (absence of
// data, never a synthetic zero) — except for GroupCountif, whose empty
// strides reduce to 0.
func aggregate(samples []sample, after, before int64, n uint32, group queryiface.TimeGrouping) ([]float64, model.StoragePoint) {
	values := make([]float64, n)
	var overall model.StoragePoint
	if n == 0 {
		return values, overall
	}

	stride := float64(before-after) / float64(n)
	buckets := make([][]float64, n)
	for _, s := range samples {
		idx := int(float64(s.ts-after) / stride)
		if idx < 0 {
			idx = 0
		}
		if idx >= int(n) {
			idx = int(n) - 1
		}
		buckets[idx] = append(buckets[idx], s.value)
		if overall.Count == 0 {
			overall.Min, overall.Max, overall.Sum = s.value, s.value, s.value
		} else {
			if s.value < overall.Min {
				overall.Min = s.value
			}
			if s.value > overall.Max {
				overall.Max = s.value
			}
			overall.Sum += s.value
		}
		overall.Count++
	}

	for i, bucket := range buckets {
		values[i] = reduce(bucket, group, "")
	}
	return values, overall
}

// reduce applies one time-grouping function over a set of raw values.
// options carries the countif comparator+threshold (e.g. ">5.2") when
// group is GroupCountif; it is ignored otherwise.
func reduce(values []float64, group queryiface.TimeGrouping, options string) float64 {
	if len(values) == 0 {
		if group == queryiface.GroupCountif {
			return 0
		}
		return nanValue()
	}
	switch group {
	case queryiface.GroupMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case queryiface.GroupMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case queryiface.GroupSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case queryiface.GroupCountif:
		cmp, threshold, ok := parseCountif(options)
		if !ok {
			return 0
		}
		var matched int
		for _, v := range values {
			if countifMatches(v, cmp, threshold) {
				matched++
			}
		}
		return float64(matched) / float64(len(values)) * 100.0
	default: // GroupAverage and anything unrecognized
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}

func parseCountif(options string) (cmp string, threshold float64, ok bool) {
	for _, c := range []string{">=", "<=", "!=", ">", "<", "="} {
		if strings.HasPrefix(options, c) {
			v, err := strconv.ParseFloat(strings.TrimPrefix(options, c), 64)
			if err != nil {
				return "", 0, false
			}
			return c, v, true
		}
	}
	return "", 0, false
}

func countifMatches(v float64, cmp string, threshold float64) bool {
	switch cmp {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "!=":
		return v != threshold
	default: // "="
		return v == threshold
	}
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func (s *Store) QuerySeries(ctx context.Context, req queryiface.QuerySeriesRequest) (queryiface.Series, error) {
	select {
	case <-ctx.Done():
		return queryiface.Series{}, ctx.Err()
	default:
	}

	ring, ok := s.ring(req.Host.ID, req.Context, req.Instance, req.Metric)
	if !ok {
		n := int(req.Window.Points)
		if n < 1 {
			n = 1
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = nanValue()
		}
		return queryiface.Series{Values: values}, nil
	}

	samples := ring.inWindow(req.Window.After, req.Window.Before)
	values, overall := aggregate(samples, req.Window.After, req.Window.Before, req.Window.Points, req.TimeGroup)

	perTier := make([]uint64, s.tiers)
	perTier[0] = uint64(len(samples))

	return queryiface.Series{
		Values:          values,
		StoragePoint:    overall,
		ResultPoints:    uint64(req.Window.Points),
		DBPoints:        uint64(len(samples)),
		DBPointsPerTier: perTier,
	}, nil
}

func (s *Store) QueryValue(ctx context.Context, req queryiface.QueryValueRequest) (queryiface.QueryValue, error) {
	select {
	case <-ctx.Done():
		return queryiface.QueryValue{}, ctx.Err()
	default:
	}

	ring, ok := s.ring(req.Host.ID, req.Context, req.Instance, req.Metric)
	if !ok {
		return queryiface.QueryValue{Value: nanValue()}, nil
	}

	samples := ring.inWindow(req.Window.After, req.Window.Before)
	raw := make([]float64, len(samples))
	var overall model.StoragePoint
	for i, smp := range samples {
		raw[i] = smp.value
		overall.Merge(model.StoragePoint{Min: smp.value, Max: smp.value, Sum: smp.value, Count: 1})
	}

	value := reduce(raw, req.TimeGroup, req.TimeGroupOptions)

	perTier := make([]uint64, s.tiers)
	perTier[0] = uint64(len(samples))

	return queryiface.QueryValue{
		Value:           value,
		AnomalyRate:     overall.AnomalyRate(),
		StoragePoint:    overall,
		ResultPoints:    1,
		DBPoints:        uint64(len(samples)),
		DBPointsPerTier: perTier,
	}, nil
}

func (s *Store) StorageTiers() int {
	return s.tiers
}
