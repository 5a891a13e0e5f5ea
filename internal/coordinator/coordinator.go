// Package coordinator implements the query planner and parallel fan-out
// engine (C6): it enumerates hosts, contexts and metrics through a
// queryiface.Backend, partitions the host set across worker goroutines, and
// merges each worker's thread-local registry.Registry and registry.Stats
// into a single result once every worker has finished or the deadline has
// passed.
package coordinator

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baikal/weights/internal/model"
	"github.com/baikal/weights/internal/queryiface"
	"github.com/baikal/weights/internal/registry"
)

// Versions is a cheap cache-invalidation fingerprint: callers that cache a
// weights response client-side can re-run with the same scope and compare
// Versions to decide whether the cached response is still valid, without
// re-running the (expensive) scoring itself. ContextsHardHash changes only
// when the set of matched context identifiers changes; ContextsSoftHash
// also changes when a matched context's queryability flips, which the hard
// hash intentionally ignores.
type Versions struct {
	ContextsHardHash uint64
	ContextsSoftHash uint64
	AlertsHardHash   uint64
	AlertsSoftHash   uint64
}

// add folds another partition's version contribution into v by plain
// addition, matching original_source's `qwd.versions.contexts_hard_hash +=
// thread_data[i].local_versions.contexts_hard_hash` accumulation.
func (v *Versions) add(other Versions) {
	v.ContextsHardHash += other.ContextsHardHash
	v.ContextsSoftHash += other.ContextsSoftHash
	v.AlertsHardHash += other.AlertsHardHash
	v.AlertsSoftHash += other.AlertsSoftHash
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// ScoreFunc scores a single metric against the highlight/baseline windows
// already bound into the Plan and registers its outcome into reg, or skips
// it. Each worker goroutine calls ScoreFunc with its own *registry.Registry,
// so implementations do not need to be safe for concurrent use across
// goroutines, only across the sequential calls within one worker.
type ScoreFunc func(ctx context.Context, reg *registry.Registry, host queryiface.HostDescriptor, contextID, instanceID, metricID string) error

// Plan describes one weights run: the backend to query, the scope to match
// hosts/contexts/metrics against, the windows involved, and the scorer to
// invoke for every matched metric.
type Plan struct {
	Backend      queryiface.Backend
	Scope        queryiface.Scope
	Highlight    model.Window
	Baseline     model.Window
	HasBaseline  bool
	RegisterZero bool
	Score        ScoreFunc
	Log          *zap.Logger
}

// Result is the merged outcome of a Run across every worker.
type Result struct {
	Registry           *registry.Registry
	Stats              *registry.Stats
	ExaminedDimensions uint64
	Versions           Versions
	TimedOut           bool
	Interrupted        bool
	Workers            int
}

// Run enumerates the hosts matching plan.Scope, partitions them across a
// pool of worker goroutines sized to the host count and available CPUs, and
// fans the scan out in parallel the way query_scope_foreach_host_parallel
// does: one goroutine per partition, each with its own registry and stats,
// merged by the caller once every partition finishes.
//
// timeout bounds the whole run; deadline and external cancellation are both
// reported back via Result.TimedOut / Result.Interrupted rather than as an
// error, matching the "partial results on timeout" behaviour the renderers
// expect.
func Run(ctx context.Context, plan Plan, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stats := registry.NewStats(plan.Backend.StorageTiers())
	reg := registry.New(stats)
	result := &Result{Registry: reg, Stats: stats}

	var hosts []queryiface.HostDescriptor
	err := plan.Backend.ForeachHost(runCtx, plan.Scope, func(h queryiface.HostDescriptor) bool {
		hosts = append(hosts, h)
		return true
	})
	if err != nil {
		return result, err
	}

	activeHosts := len(hosts)
	if activeHosts == 0 {
		return result, nil
	}

	numThreads := runtime.NumCPU()
	if numThreads < 1 {
		numThreads = 1
	}
	if activeHosts < numThreads {
		numThreads = activeHosts
	}

	alertsHash := fnv64a(plan.Scope.Alerts)
	result.Versions.AlertsHardHash = alertsHash
	result.Versions.AlertsSoftHash = alertsHash

	if numThreads <= 1 || activeHosts <= 1 {
		examined, versions, timedOut, interrupted := plan.worker(runCtx, hosts, reg)
		result.ExaminedDimensions = examined
		result.Versions.add(versions)
		result.TimedOut = timedOut
		result.Interrupted = interrupted
		result.Workers = 1
		return result, nil
	}

	hostsPerThread := activeHosts / numThreads
	remainingHosts := activeHosts % numThreads

	type partial struct {
		reg         *registry.Registry
		stats       *registry.Stats
		examined    uint64
		versions    Versions
		timedOut    bool
		interrupted bool
	}
	partials := make([]partial, numThreads)

	group, groupCtx := errgroup.WithContext(runCtx)
	currentIdx := 0
	for i := 0; i < numThreads; i++ {
		// Distribute hosts evenly, giving extra hosts to the first threads.
		count := hostsPerThread
		if i < remainingHosts {
			count++
		}
		slice := hosts[currentIdx : currentIdx+count]
		currentIdx += count

		localStats := registry.NewStats(plan.Backend.StorageTiers())
		localReg := registry.New(localStats)
		partials[i] = partial{reg: localReg, stats: localStats}

		i := i
		group.Go(func() error {
			examined, versions, timedOut, interrupted := plan.worker(groupCtx, slice, partials[i].reg)
			partials[i].examined = examined
			partials[i].versions = versions
			partials[i].timedOut = timedOut
			partials[i].interrupted = interrupted
			return nil
		})
	}
	// Every worker above returns nil unconditionally — timeouts and
	// cancellation are reported through partial, not as a group error — so
	// Wait only ever blocks until all workers finish.
	_ = group.Wait()

	var examinedTotal uint64
	for i := range partials {
		reg.Merge(partials[i].reg)
		stats.Merge(partials[i].stats)
		examinedTotal += partials[i].examined
		result.Versions.add(partials[i].versions)
		if partials[i].timedOut {
			result.TimedOut = true
		}
		if partials[i].interrupted {
			result.Interrupted = true
		}
	}
	result.ExaminedDimensions = examinedTotal
	result.Workers = numThreads

	if plan.Log != nil {
		plan.Log.Debug("weights fan-out complete",
			zap.Int("workers", numThreads),
			zap.Int("hosts", activeHosts),
			zap.Uint64("examined_dimensions", examinedTotal),
			zap.Bool("timed_out", result.TimedOut),
			zap.Bool("interrupted", result.Interrupted),
		)
	}

	return result, nil
}

// worker scans every host in hosts, matching contexts and metrics against
// plan.Scope and invoking plan.Score for each, registering outcomes into reg.
// It stops early, reporting timedOut or interrupted, the moment runCtx is
// done — whichever of deadline or external cancellation fired.
func (plan Plan) worker(runCtx context.Context, hosts []queryiface.HostDescriptor, reg *registry.Registry) (examined uint64, versions Versions, timedOut bool, interrupted bool) {
	var examinedLocal uint64
	var v Versions

	done := func() (uint64, Versions, bool, bool) {
		return examinedLocal, v, runCtx.Err() == context.DeadlineExceeded, runCtx.Err() == context.Canceled
	}

	for _, host := range hosts {
		select {
		case <-runCtx.Done():
			return done()
		default:
		}

		err := plan.Backend.ForeachContext(runCtx, host, plan.Scope, func(c queryiface.ContextDescriptor) bool {
			v.ContextsHardHash += fnv64a(c.ID)
			queryableTag := "0"
			if c.Queryable {
				queryableTag = "1"
			}
			v.ContextsSoftHash += fnv64a(c.ID + "|" + queryableTag)

			if !c.Queryable {
				return true
			}
			return plan.scanContext(runCtx, host, c, reg, &examinedLocal)
		})
		if err != nil {
			if plan.Log != nil {
				plan.Log.Warn("host scan failed", zap.String("host", host.ID), zap.Error(err))
			}
			continue
		}

		select {
		case <-runCtx.Done():
			return done()
		default:
		}
	}

	return examinedLocal, v, false, false
}

func (plan Plan) scanContext(runCtx context.Context, host queryiface.HostDescriptor, c queryiface.ContextDescriptor, reg *registry.Registry, examined *uint64) bool {
	err := plan.Backend.ForeachMetricInContext(runCtx, host, c.ID, plan.Scope, func(m queryiface.MetricDescriptor) bool {
		select {
		case <-runCtx.Done():
			return false
		default:
		}

		atomic.AddUint64(examined, 1)
		if err := plan.Score(runCtx, reg, host, c.ID, m.InstanceID, m.MetricID); err != nil {
			if plan.Log != nil {
				plan.Log.Warn("metric scan failed",
					zap.String("host", host.ID), zap.String("context", c.ID),
					zap.String("metric", m.MetricID), zap.Error(err))
			}
			return true
		}
		return true
	})
	return err == nil
}
