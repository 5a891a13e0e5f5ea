package registry

import (
	"math"
	"testing"

	"github.com/baikal/weights/internal/model"
)

func TestRegisterDropsNonFinite(t *testing.T) {
	stats := NewStats(1)
	r := New(stats)
	id := model.MetricIdentity{HostID: "h", ContextID: "c", InstanceID: "i", MetricID: "m"}

	r.Register(id, math.NaN(), 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	r.Register(id, math.Inf(1), 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)

	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after registering NaN/Inf", r.Len())
	}
}

func TestRegisterDropsZeroUnlessRequested(t *testing.T) {
	stats := NewStats(1)
	r := New(stats)
	id := model.MetricIdentity{HostID: "h", ContextID: "c", InstanceID: "i", MetricID: "m"}

	r.Register(id, 0.0, 0, model.StoragePoint{}, model.StoragePoint{}, 0, false)
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 when registerZero=false", r.Len())
	}

	r.Register(id, 0.0, 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 when registerZero=true", r.Len())
	}
}

func TestRegisterTakesAbsoluteValue(t *testing.T) {
	stats := NewStats(1)
	r := New(stats)
	id := model.MetricIdentity{HostID: "h", ContextID: "c", InstanceID: "i", MetricID: "m"}

	r.Register(id, -0.75, 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	results := r.Results()
	if len(results) != 1 || results[0].Value != 0.75 {
		t.Fatalf("Register(-0.75) stored %+v, want Value=0.75", results)
	}
}

func TestMergeKeepsHigherValue(t *testing.T) {
	stats := NewStats(1)
	main := New(stats)
	local := New(stats)
	id := model.MetricIdentity{HostID: "h", ContextID: "c", InstanceID: "i", MetricID: "m"}

	main.Register(id, 0.3, 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	local.Register(id, 0.8, 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)

	main.Merge(local)

	results := main.Results()
	if len(results) != 1 || results[0].Value != 0.8 {
		t.Fatalf("Merge() kept %+v, want Value=0.8", results)
	}
}

func TestMergeIgnoresLowerValue(t *testing.T) {
	stats := NewStats(1)
	main := New(stats)
	local := New(stats)
	id := model.MetricIdentity{HostID: "h", ContextID: "c", InstanceID: "i", MetricID: "m"}

	main.Register(id, 0.9, 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	local.Register(id, 0.2, 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)

	main.Merge(local)

	results := main.Results()
	if len(results) != 1 || results[0].Value != 0.9 {
		t.Fatalf("Merge() kept %+v, want Value=0.9", results)
	}
}

func TestSortedByValueDescending(t *testing.T) {
	stats := NewStats(1)
	r := New(stats)
	values := []float64{0.1, 0.9, 0.5}
	for i, v := range values {
		id := model.MetricIdentity{HostID: "h", ContextID: "c", InstanceID: "i", MetricID: string(rune('a' + i))}
		r.Register(id, v, 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	}

	sorted := r.SortedByValueDescending()
	if len(sorted) != 3 {
		t.Fatalf("SortedByValueDescending() returned %d results, want 3", len(sorted))
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Value > sorted[i-1].Value {
			t.Errorf("results not sorted descending at index %d: %v > %v", i, sorted[i].Value, sorted[i-1].Value)
		}
	}
}

func TestStatsMergeAccumulatesCounters(t *testing.T) {
	main := NewStats(2)
	worker := NewStats(2)

	main.AddQuery(10, 20, []uint64{5, 5})
	worker.AddQuery(3, 7, []uint64{1, 2})
	worker.AddBinarySearches(4)
	worker.IncExamined()

	main.Merge(worker)

	snap := main.Snapshot()
	if snap.DBQueries != 2 {
		t.Errorf("DBQueries = %d, want 2", snap.DBQueries)
	}
	if snap.ResultPoints != 13 || snap.DBPoints != 27 {
		t.Errorf("ResultPoints/DBPoints = %d/%d, want 13/27", snap.ResultPoints, snap.DBPoints)
	}
	if snap.BinarySearches != 4 {
		t.Errorf("BinarySearches = %d, want 4", snap.BinarySearches)
	}
	if snap.ExaminedMetrics != 1 {
		t.Errorf("ExaminedMetrics = %d, want 1", snap.ExaminedMetrics)
	}
	if snap.DBPointsPerTier[0] != 6 || snap.DBPointsPerTier[1] != 7 {
		t.Errorf("DBPointsPerTier = %v, want [6 7]", snap.DBPointsPerTier)
	}
}

func TestStatsMaxBaseHighRatioTracksBaseHighRatioFlagOnly(t *testing.T) {
	stats := NewStats(1)
	r := New(stats)
	id := model.MetricIdentity{HostID: "h", ContextID: "c", InstanceID: "i", MetricID: "m"}

	r.Register(id, 5.0, FlagPercentageOfTime, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	if got := stats.Snapshot().MaxBaseHighRatio; got != 0 {
		t.Errorf("MaxBaseHighRatio = %v after PercentageOfTime-only result, want 0", got)
	}

	r.Register(id, 5.0, FlagBaseHighRatio, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	if got := stats.Snapshot().MaxBaseHighRatio; got != 5.0 {
		t.Errorf("MaxBaseHighRatio = %v after BaseHighRatio result, want 5.0", got)
	}
}
