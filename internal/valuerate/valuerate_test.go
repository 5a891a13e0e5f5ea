package valuerate

import (
	"context"
	"math"
	"testing"

	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/queryiface"
	"github.com/baikal/weights/internal/registry"
)

type stubBackend struct {
	queryiface.Backend
	value float64
}

func (s *stubBackend) QueryValue(_ context.Context, _ queryiface.QueryValueRequest) (queryiface.QueryValue, error) {
	return queryiface.QueryValue{Value: s.value}, nil
}

func TestScoreReturnsFiniteValue(t *testing.T) {
	backend := &stubBackend{value: 42.5}
	stats := registry.NewStats(1)

	outcome, err := Score(context.Background(), backend, queryiface.HostDescriptor{}, "ctx", "inst", "metric", model.Window{After: 0, Before: 10, Points: 20}, 0, queryiface.GroupAverage, "", stats)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if outcome.Skip {
		t.Fatalf("Score() unexpectedly skipped")
	}
	if outcome.Value != 42.5 {
		t.Errorf("Value = %v, want 42.5", outcome.Value)
	}
}

func TestScoreSkipsNonNumericValue(t *testing.T) {
	backend := &stubBackend{value: math.NaN()}
	stats := registry.NewStats(1)

	outcome, err := Score(context.Background(), backend, queryiface.HostDescriptor{}, "ctx", "inst", "metric", model.Window{After: 0, Before: 10, Points: 20}, 0, queryiface.GroupAverage, "", stats)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if !outcome.Skip {
		t.Errorf("Score() should skip NaN values")
	}
}
