package localstore

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Sampler periodically reads procfs and records one scalar sample per leaf
// metric into a Store, the way the teacher's Tier 1 collectors (cpu.go,
// memory.go, disk.go, network.go, process.go) read two-point deltas —
// except here the two points are consecutive ticks of one long-running
// loop instead of a sleep-and-resample inside a single Collect() call, so
// the ring keeps a history instead of discarding everything but the latest
// reading.
type Sampler struct {
	store    *Store
	procRoot string
	hostID   string
	hostname string

	havePrev bool
	prevCPU  cpuTimes
	prevDisk map[string]diskCounters
	prevNet  map[string]netCounters
}

// NewSampler creates a Sampler that reads procfs rooted at procRoot and
// records samples for hostID/hostname into store.
func NewSampler(store *Store, procRoot, hostID, hostname string) *Sampler {
	return &Sampler{store: store, procRoot: procRoot, hostID: hostID, hostname: hostname}
}

// Start runs the sample loop until ctx is cancelled, ticking every
// interval. The first tick only establishes the baseline for delta
// counters (CPU, disk, network) and records no samples for them.
func (s *Sampler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now.Unix(), interval.Seconds())
		}
	}
}

func (s *Sampler) tick(ts int64, elapsedSeconds float64) {
	cpu := readProcStatCPU(s.procRoot)
	disk := readDiskStats(s.procRoot)
	net := readNetDev(s.procRoot)
	running, blocked := readProcStatCounts(s.procRoot)
	usedPct, freePct := readMeminfoPercentages(s.procRoot)

	if s.havePrev && elapsedSeconds > 0 {
		s.recordCPU(ts, cpu)
		s.recordDisk(ts, disk, elapsedSeconds)
		s.recordNet(ts, net, elapsedSeconds)
	}

	s.store.Record(s.hostID, s.hostname, "system.ram", "ram", "used", ts, usedPct)
	s.store.Record(s.hostID, s.hostname, "system.ram", "ram", "free", ts, freePct)
	s.store.Record(s.hostID, s.hostname, "system.processes", "system", "running", ts, float64(running))
	s.store.Record(s.hostID, s.hostname, "system.processes", "system", "blocked", ts, float64(blocked))

	s.prevCPU = cpu
	s.prevDisk = disk
	s.prevNet = net
	s.havePrev = true
}

func (s *Sampler) recordCPU(ts int64, cur cpuTimes) {
	totalDelta := float64(cur.total() - s.prevCPU.total())
	if totalDelta <= 0 {
		return
	}
	s.store.Record(s.hostID, s.hostname, "system.cpu", "total", "user", ts,
		float64(cur.user-s.prevCPU.user+cur.nice-s.prevCPU.nice)/totalDelta*100)
	s.store.Record(s.hostID, s.hostname, "system.cpu", "total", "system", ts,
		float64(cur.system-s.prevCPU.system)/totalDelta*100)
	s.store.Record(s.hostID, s.hostname, "system.cpu", "total", "idle", ts,
		float64(cur.idle-s.prevCPU.idle)/totalDelta*100)
	s.store.Record(s.hostID, s.hostname, "system.cpu", "total", "iowait", ts,
		float64(cur.iowait-s.prevCPU.iowait)/totalDelta*100)
}

func (s *Sampler) recordDisk(ts int64, cur map[string]diskCounters, elapsed float64) {
	for dev, c := range cur {
		prev, ok := s.prevDisk[dev]
		if !ok {
			continue
		}
		s.store.Record(s.hostID, s.hostname, "disk.io", dev, "reads", ts, float64(c.readOps-prev.readOps)/elapsed)
		s.store.Record(s.hostID, s.hostname, "disk.io", dev, "writes", ts, float64(c.writeOps-prev.writeOps)/elapsed)
	}
}

func (s *Sampler) recordNet(ts int64, cur map[string]netCounters, elapsed float64) {
	for iface, c := range cur {
		prev, ok := s.prevNet[iface]
		if !ok {
			continue
		}
		s.store.Record(s.hostID, s.hostname, "net.net", iface, "received", ts, float64(c.rxBytes-prev.rxBytes)/elapsed)
		s.store.Record(s.hostID, s.hostname, "net.net", iface, "sent", ts, float64(c.txBytes-prev.txBytes)/elapsed)
	}
}

// cpuTimes holds jiffies for each CPU state, same fields as the teacher's
// collector.cpuTimes.
type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (t cpuTimes) total() uint64 {
	return t.user + t.nice + t.system + t.idle + t.iowait + t.irq + t.softirq + t.steal
}

func readProcStatCPU(procRoot string) cpuTimes {
	f, err := os.Open(filepath.Join(procRoot, "stat"))
	if err != nil {
		return cpuTimes{}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 9 && fields[0] == "cpu" {
			parse := func(idx int) uint64 {
				v, _ := strconv.ParseUint(fields[idx], 10, 64)
				return v
			}
			return cpuTimes{
				user: parse(1), nice: parse(2), system: parse(3), idle: parse(4),
				iowait: parse(5), irq: parse(6), softirq: parse(7), steal: parse(8),
			}
		}
	}
	return cpuTimes{}
}

func readProcStatCounts(procRoot string) (running, blocked int64) {
	f, err := os.Open(filepath.Join(procRoot, "stat"))
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		v, _ := strconv.ParseInt(fields[1], 10, 64)
		switch fields[0] {
		case "procs_running":
			running = v
		case "procs_blocked":
			blocked = v
		}
	}
	return running, blocked
}

func readMeminfoPercentages(procRoot string) (usedPct, freePct float64) {
	f, err := os.Open(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	var total, available int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		valStr := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), " kB"))
		val, _ := strconv.ParseInt(valStr, 10, 64)
		switch key {
		case "MemTotal":
			total = val
		case "MemAvailable":
			available = val
		}
	}
	if total == 0 {
		return 0, 0
	}
	freePct = float64(available) / float64(total) * 100
	usedPct = 100 - freePct
	return usedPct, freePct
}

// diskCounters holds the cumulative /proc/diskstats fields this sampler
// tracks for one device.
type diskCounters struct {
	readOps  uint64
	writeOps uint64
}

func readDiskStats(procRoot string) map[string]diskCounters {
	f, err := os.Open(filepath.Join(procRoot, "diskstats"))
	if err != nil {
		return nil
	}
	defer f.Close()

	out := make(map[string]diskCounters)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 14 {
			continue
		}
		name := fields[2]
		readOps, _ := strconv.ParseUint(fields[3], 10, 64)
		writeOps, _ := strconv.ParseUint(fields[7], 10, 64)
		out[name] = diskCounters{readOps: readOps, writeOps: writeOps}
	}
	return out
}

// netCounters holds the cumulative /proc/net/dev fields this sampler
// tracks for one interface.
type netCounters struct {
	rxBytes uint64
	txBytes uint64
}

func readNetDev(procRoot string) map[string]netCounters {
	f, err := os.Open(filepath.Join(procRoot, "net", "dev"))
	if err != nil {
		return nil
	}
	defer f.Close()

	out := make(map[string]netCounters)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum <= 2 {
			continue // header lines
		}
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		iface := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		if len(fields) < 9 {
			continue
		}
		rx, _ := strconv.ParseUint(fields[0], 10, 64)
		tx, _ := strconv.ParseUint(fields[8], 10, 64)
		out[iface] = netCounters{rxBytes: rx, txBytes: tx}
	}
	return out
}
