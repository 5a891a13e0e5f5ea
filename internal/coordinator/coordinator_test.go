package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/queryiface"
	"github.com/baikal/weights/internal/registry"
)

// fakeBackend is an in-memory queryiface.Backend fixture with a fixed
// hosts/contexts/metrics fleet, used to exercise the fan-out partitioning
// without a real time-series store.
type fakeBackend struct {
	hosts    []queryiface.HostDescriptor
	contexts map[string][]queryiface.ContextDescriptor
	metrics  map[string][]queryiface.MetricDescriptor
}

func newFakeBackend(hostCount int) *fakeBackend {
	b := &fakeBackend{
		contexts: make(map[string][]queryiface.ContextDescriptor),
		metrics:  make(map[string][]queryiface.MetricDescriptor),
	}
	for i := 0; i < hostCount; i++ {
		host := queryiface.HostDescriptor{ID: fmt.Sprintf("host-%d", i), Hostname: fmt.Sprintf("host-%d", i)}
		b.hosts = append(b.hosts, host)
		b.contexts[host.ID] = []queryiface.ContextDescriptor{{ID: "system.cpu", Queryable: true}}
		b.metrics[host.ID] = []queryiface.MetricDescriptor{
			{InstanceID: "cpu", MetricID: "user"},
			{InstanceID: "cpu", MetricID: "system"},
		}
	}
	return b
}

func (b *fakeBackend) ForeachHost(_ context.Context, _ queryiface.Scope, cb func(queryiface.HostDescriptor) bool) error {
	for _, h := range b.hosts {
		if !cb(h) {
			break
		}
	}
	return nil
}

func (b *fakeBackend) ForeachContext(_ context.Context, host queryiface.HostDescriptor, _ queryiface.Scope, cb func(queryiface.ContextDescriptor) bool) error {
	for _, c := range b.contexts[host.ID] {
		if !cb(c) {
			break
		}
	}
	return nil
}

func (b *fakeBackend) ForeachMetricInContext(_ context.Context, host queryiface.HostDescriptor, _ string, _ queryiface.Scope, cb func(queryiface.MetricDescriptor) bool) error {
	for _, m := range b.metrics[host.ID] {
		if !cb(m) {
			break
		}
	}
	return nil
}

func (b *fakeBackend) QuerySeries(_ context.Context, _ queryiface.QuerySeriesRequest) (queryiface.Series, error) {
	return queryiface.Series{}, nil
}

func (b *fakeBackend) QueryValue(_ context.Context, _ queryiface.QueryValueRequest) (queryiface.QueryValue, error) {
	return queryiface.QueryValue{Value: 1.0}, nil
}

func (b *fakeBackend) StorageTiers() int { return 1 }

func scoreEverything(_ context.Context, reg *registry.Registry, host queryiface.HostDescriptor, contextID, instanceID, metricID string) error {
	id := model.MetricIdentity{HostID: host.ID, ContextID: contextID, InstanceID: instanceID, MetricID: metricID}
	reg.Register(id, 1.0, 0, model.StoragePoint{}, model.StoragePoint{}, 0, true)
	return nil
}

func TestRunSingleHostFallsBackToSingleThreaded(t *testing.T) {
	backend := newFakeBackend(1)
	plan := Plan{Backend: backend, Score: scoreEverything}

	result, err := Run(context.Background(), plan, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Registry.Len() != 2 {
		t.Fatalf("Registry.Len() = %d, want 2 (one host, two metrics)", result.Registry.Len())
	}
	if result.ExaminedDimensions != 2 {
		t.Errorf("ExaminedDimensions = %d, want 2", result.ExaminedDimensions)
	}
}

func TestRunManyHostsMergesAllPartitions(t *testing.T) {
	backend := newFakeBackend(17)
	plan := Plan{Backend: backend, Score: scoreEverything}

	result, err := Run(context.Background(), plan, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Registry.Len() != 17*2 {
		t.Fatalf("Registry.Len() = %d, want %d", result.Registry.Len(), 17*2)
	}
	if result.ExaminedDimensions != 17*2 {
		t.Errorf("ExaminedDimensions = %d, want %d", result.ExaminedDimensions, 17*2)
	}
	if result.TimedOut || result.Interrupted {
		t.Errorf("unexpected TimedOut/Interrupted: %+v", result)
	}
}

func TestRunNoHostsReturnsEmptyResult(t *testing.T) {
	backend := newFakeBackend(0)
	plan := Plan{Backend: backend, Score: scoreEverything}

	result, err := Run(context.Background(), plan, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Registry.Len() != 0 {
		t.Errorf("Registry.Len() = %d, want 0", result.Registry.Len())
	}
}

func TestRunRespectsExpiredDeadline(t *testing.T) {
	backend := newFakeBackend(5)
	plan := Plan{Backend: backend, Score: scoreEverything}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	result, err := Run(ctx, plan, time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.TimedOut {
		t.Errorf("TimedOut = false, want true when the parent context already expired")
	}
}
