// Package model defines the data types shared by every component of the
// weights engine: the storage point returned by the query interface, the
// window/baseline alignment types, and the metric identity tuple used as
// the result registry key.
package model

import "math"

// StoragePoint summarizes a window of raw samples the way the storage
// engine reports them: min/max/sum/count plus how many of those samples
// were flagged anomalous. Count >= AnomalyCount always holds; Count == 0
// means the point is unset (no data in the window).
type StoragePoint struct {
	Min          float64
	Max          float64
	Sum          float64
	Count        uint64
	AnomalyCount uint64
}

// Unset reports whether the point carries no samples.
func (sp StoragePoint) Unset() bool {
	return sp.Count == 0
}

// Average returns Sum/Count, or NaN when the point is unset.
func (sp StoragePoint) Average() float64 {
	if sp.Count == 0 {
		return math.NaN()
	}
	return sp.Sum / float64(sp.Count)
}

// AnomalyRate returns the fraction of samples flagged anomalous, in [0,1],
// or NaN when the point is unset.
func (sp StoragePoint) AnomalyRate() float64 {
	if sp.Count == 0 {
		return math.NaN()
	}
	return float64(sp.AnomalyCount) / float64(sp.Count)
}

// Merge folds other into sp in place, the way partial per-tier storage
// points are combined into one.
func (sp *StoragePoint) Merge(other StoragePoint) {
	if other.Count == 0 {
		return
	}
	if sp.Count == 0 {
		*sp = other
		return
	}
	if other.Min < sp.Min {
		sp.Min = other.Min
	}
	if other.Max > sp.Max {
		sp.Max = other.Max
	}
	sp.Sum += other.Sum
	sp.Count += other.Count
	sp.AnomalyCount += other.AnomalyCount
}

// MetricIdentity is the stable, string-keyed tuple that identifies one
// leaf metric: a single dimension of a single instance of a single
// context on a single host. Equality is defined over the stable string
// identifiers, never over pointers, so the same metric queried by two
// different workers merges cleanly in the registry.
type MetricIdentity struct {
	HostID     string
	ContextID  string
	InstanceID string
	MetricID   string
}

// Key returns the registry key for this identity. It is a plain
// colon-joined string: metric identities are already guaranteed not to
// contain colons (they are sanitized identifiers from the catalog).
func (m MetricIdentity) Key() string {
	return m.HostID + ":" + m.ContextID + ":" + m.InstanceID + ":" + m.MetricID
}
