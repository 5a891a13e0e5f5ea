package localstore

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeProcFixture lays out a minimal procfs tree under a temp dir with the
// given /proc/stat cpu line, used to drive two successive readProcStatCPU
// calls in tests without a real kernel.
func writeProcFixture(t *testing.T, statLine string) string {
	t.Helper()
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "stat"), statLine+"\nprocs_running 3\nprocs_blocked 1\n")
	mustWrite(t, filepath.Join(root, "meminfo"), "MemTotal: 1000000 kB\nMemAvailable: 250000 kB\n")
	mustWrite(t, filepath.Join(root, "diskstats"), "   8       0 sda 100 0 0 0 50 0 0 0 0 0 0\n")
	if err := os.MkdirAll(filepath.Join(root, "net"), 0o755); err != nil {
		t.Fatalf("mkdir net: %v", err)
	}
	mustWrite(t, filepath.Join(root, "net", "dev"), "Inter-|   Receive\n face |bytes packets errs drop fifo frame compressed multicast|bytes packets errs drop fifo colls carrier compressed\n  eth0: 1000 10 0 0 0 0 0 0 2000 20 0 0 0 0 0 0\n")
	return root
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadProcStatCPU(t *testing.T) {
	root := writeProcFixture(t, "cpu  100000 2000 30000 800000 5000 1000 500 0")
	got := readProcStatCPU(root)
	if got.user != 100000 || got.system != 30000 || got.idle != 800000 {
		t.Errorf("readProcStatCPU() = %+v, want user=100000 system=30000 idle=800000", got)
	}
}

func TestReadProcStatCounts(t *testing.T) {
	root := writeProcFixture(t, "cpu  1 1 1 1 1 1 1 1")
	running, blocked := readProcStatCounts(root)
	if running != 3 || blocked != 1 {
		t.Errorf("readProcStatCounts() = (%d, %d), want (3, 1)", running, blocked)
	}
}

func TestReadMeminfoPercentages(t *testing.T) {
	root := writeProcFixture(t, "cpu  1 1 1 1 1 1 1 1")
	used, free := readMeminfoPercentages(root)
	if math.Abs(free-25.0) > 1e-9 || math.Abs(used-75.0) > 1e-9 {
		t.Errorf("readMeminfoPercentages() = (%v, %v), want (75, 25)", used, free)
	}
}

func TestReadDiskStatsAndNetDev(t *testing.T) {
	root := writeProcFixture(t, "cpu  1 1 1 1 1 1 1 1")
	disk := readDiskStats(root)
	if disk["sda"].readOps != 100 || disk["sda"].writeOps != 50 {
		t.Errorf("readDiskStats()[sda] = %+v, want readOps=100 writeOps=50", disk["sda"])
	}
	net := readNetDev(root)
	if net["eth0"].rxBytes != 1000 || net["eth0"].txBytes != 2000 {
		t.Errorf("readNetDev()[eth0] = %+v, want rxBytes=1000 txBytes=2000", net["eth0"])
	}
}

func TestSamplerTickSkipsDeltaMetricsOnFirstTick(t *testing.T) {
	root := writeProcFixture(t, "cpu  100000 2000 30000 800000 5000 1000 500 0")
	store := NewStore(16, 1)
	s := NewSampler(store, root, "host-1", "host-1.example")

	s.tick(1000, 1.0)

	if _, ok := store.ring("host-1", "system.cpu", "total", "user"); ok {
		t.Error("first tick should not record CPU delta metrics (no prior sample)")
	}
	if _, ok := store.ring("host-1", "system.ram", "ram", "used"); !ok {
		t.Error("first tick should still record instantaneous metrics like memory")
	}
}

func TestSamplerTickRecordsDeltaOnSecondTick(t *testing.T) {
	root := writeProcFixture(t, "cpu  100000 2000 30000 800000 5000 1000 500 0")
	store := NewStore(16, 1)
	s := NewSampler(store, root, "host-1", "host-1.example")

	s.tick(1000, 1.0)

	// advance the aggregate cpu counters to simulate one second of 100% user time
	mustWrite(t, filepath.Join(root, "stat"), "cpu  100100 2000 30000 800000 5000 1000 500 0\nprocs_running 3\nprocs_blocked 1\n")
	s.tick(1001, 1.0)

	ring, ok := store.ring("host-1", "system.cpu", "total", "user")
	if !ok {
		t.Fatal("second tick should record a CPU user sample")
	}
	samples := ring.inWindow(0, 2000)
	if len(samples) != 1 {
		t.Fatalf("len(samples) = %d, want 1", len(samples))
	}
	if math.Abs(samples[0].value-100.0) > 1e-6 {
		t.Errorf("user pct = %v, want ~100.0", samples[0].value)
	}
}

func TestSamplerStartStopsOnContextCancel(t *testing.T) {
	root := writeProcFixture(t, "cpu  1 1 1 1 1 1 1 1")
	store := NewStore(16, 1)
	s := NewSampler(store, root, "host-1", "host-1.example")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}
