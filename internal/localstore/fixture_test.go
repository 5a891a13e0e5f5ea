package localstore

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/queryiface"
)

const testFixtureYAML = `
hosts:
  - id: node-a
    hostname: node-a.example
    contexts:
      - id: system.cpu
        instances:
          - id: total
            metrics:
              - id: user
                samples:
                  - {offset_seconds: 0, value: 10.0}
                  - {offset_seconds: 1, value: 12.0}
  - id: node-b
    hostname: node-b.example
    contexts:
      - id: system.cpu
        queryable: false
        instances:
          - id: total
            metrics:
              - id: user
                samples:
                  - {offset_seconds: 0, value: 99.0}
`

func TestLoadFixturePopulatesStore(t *testing.T) {
	store := NewStore(16, 1)
	if err := LoadFixture(store, []byte(testFixtureYAML), 1000); err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}

	var hosts []string
	err := store.ForeachHost(context.Background(), queryiface.Scope{}, func(h queryiface.HostDescriptor) bool {
		hosts = append(hosts, h.ID)
		return true
	})
	if err != nil {
		t.Fatalf("ForeachHost() error = %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("hosts = %v, want 2", hosts)
	}

	req := queryiface.QueryValueRequest{
		Host: queryiface.HostDescriptor{ID: "node-a"}, Context: "system.cpu", Instance: "total", Metric: "user",
		Window:    model.Window{After: 1000, Before: 1002, Points: 1},
		TimeGroup: queryiface.GroupAverage,
	}
	qv, err := store.QueryValue(context.Background(), req)
	if err != nil {
		t.Fatalf("QueryValue() error = %v", err)
	}
	if math.Abs(qv.Value-11.0) > 1e-9 {
		t.Errorf("node-a average = %v, want 11.0", qv.Value)
	}
}

func TestLoadFixtureAppliesQueryableFlag(t *testing.T) {
	store := NewStore(16, 1)
	if err := LoadFixture(store, []byte(testFixtureYAML), 1000); err != nil {
		t.Fatalf("LoadFixture() error = %v", err)
	}

	var queryable map[string]bool = map[string]bool{}
	err := store.ForeachContext(context.Background(), queryiface.HostDescriptor{ID: "node-b"}, queryiface.Scope{}, func(c queryiface.ContextDescriptor) bool {
		queryable[c.ID] = c.Queryable
		return true
	})
	if err != nil {
		t.Fatalf("ForeachContext() error = %v", err)
	}
	if queryable["system.cpu"] {
		t.Error("node-b system.cpu should be marked non-queryable by the fixture")
	}
}

func TestLoadFixtureFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.yaml")
	if err := os.WriteFile(path, []byte(testFixtureYAML), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := NewStore(16, 1)
	if err := LoadFixtureFile(store, path, 1000); err != nil {
		t.Fatalf("LoadFixtureFile() error = %v", err)
	}
	if _, ok := store.ring("node-a", "system.cpu", "total", "user"); !ok {
		t.Error("expected node-a/system.cpu/total/user ring to exist after loading fixture file")
	}
}

func TestLoadFixtureInvalidYAMLReturnsError(t *testing.T) {
	store := NewStore(16, 1)
	if err := LoadFixture(store, []byte("not: [valid yaml"), 0); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}
