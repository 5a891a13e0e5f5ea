// Package telemetry provides opt-in Prometheus metrics for the engine's
// own run statistics (db queries, binary searches, worker fan-out), kept
// separate from the domain metrics a real Netdata deployment would expose
// for the underlying time series themselves. When disabled, Recorder's
// methods are no-ops so callers can wire it in unconditionally.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder accumulates Prometheus metrics across repeated weights runs.
// The zero value records nothing; construct with NewRecorder.
type Recorder struct {
	enabled bool

	runsTotal        prometheus.Counter
	runDuration      prometheus.Histogram
	dbQueriesTotal   prometheus.Counter
	dbPointsTotal    prometheus.Counter
	binarySearches   prometheus.Counter
	examinedTotal    prometheus.Counter
	registeredTotal  prometheus.Counter
	workersLastRun   prometheus.Gauge
	timedOutTotal    prometheus.Counter
	interruptedTotal prometheus.Counter
}

// NewRecorder builds a Recorder and registers its collectors against reg.
// Pass prometheus.NewRegistry() for an isolated registry (tests, multiple
// engine instances in one process) or nil to use the default global
// registry the way the teacher's churn package does.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		enabled: true,
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weights_runs_total",
			Help: "Total number of weights engine runs completed.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weights_run_duration_seconds",
			Help:    "Wall-clock duration of a weights engine run.",
			Buckets: prometheus.DefBuckets,
		}),
		dbQueriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weights_db_queries_total",
			Help: "Total backend query_series/query_value calls issued by scorers.",
		}),
		dbPointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weights_db_points_total",
			Help: "Total raw storage points read across all backend queries.",
		}),
		binarySearches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weights_binary_searches_total",
			Help: "Total binary searches performed by the KS2 scorer's joint traversal of the two samples.",
		}),
		examinedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weights_examined_dimensions_total",
			Help: "Total leaf metrics considered by the coordinator, whether or not they produced a registered result.",
		}),
		registeredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weights_registered_results_total",
			Help: "Total results registered by scorers across all runs.",
		}),
		workersLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weights_workers_last_run",
			Help: "Number of worker goroutines the coordinator's fan-out used for the most recent run.",
		}),
		timedOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weights_timed_out_runs_total",
			Help: "Total runs that hit their timeout before the fan-out finished.",
		}),
		interruptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weights_interrupted_runs_total",
			Help: "Total runs cancelled by the caller's context before the fan-out finished.",
		}),
	}

	reg.MustRegister(
		r.runsTotal, r.runDuration, r.dbQueriesTotal, r.dbPointsTotal,
		r.binarySearches, r.examinedTotal, r.registeredTotal,
		r.workersLastRun, r.timedOutTotal, r.interruptedTotal,
	)
	return r
}

// RunStats is the subset of a completed run's shape the Recorder cares
// about; callers build one from registry.Snapshot and coordinator.Result
// rather than this package importing either (avoiding an import cycle
// between internal/weights and internal/telemetry).
type RunStats struct {
	Duration           time.Duration
	DBQueries          uint64
	DBPoints           uint64
	BinarySearches     uint64
	ExaminedDimensions uint64
	RegisteredResults  int
	Workers            int
	TimedOut           bool
	Interrupted        bool
}

// Record folds one completed run's statistics into the recorder's
// counters and gauges. Safe to call on a nil *Recorder (no-op), so callers
// can leave telemetry unconfigured without nil-checking at every call site.
func (r *Recorder) Record(stats RunStats) {
	if r == nil || !r.enabled {
		return
	}
	r.runsTotal.Inc()
	r.runDuration.Observe(stats.Duration.Seconds())
	r.dbQueriesTotal.Add(float64(stats.DBQueries))
	r.dbPointsTotal.Add(float64(stats.DBPoints))
	r.binarySearches.Add(float64(stats.BinarySearches))
	r.examinedTotal.Add(float64(stats.ExaminedDimensions))
	r.registeredTotal.Add(float64(stats.RegisteredResults))
	r.workersLastRun.Set(float64(stats.Workers))
	if stats.TimedOut {
		r.timedOutTotal.Inc()
	}
	if stats.Interrupted {
		r.interruptedTotal.Inc()
	}
}

// Server serves the recorder's metrics over HTTP. It is a thin wrapper
// around promhttp.Handler so callers don't need to import promhttp
// directly just to wire up cmd/weights' --metrics-addr flag.
type Server struct {
	httpServer *http.Server
}

// NewServer builds an HTTP server exposing /metrics on addr, sourced from
// the same registerer passed to NewRecorder.
func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
}

// Start runs the metrics server until ctx is cancelled, then shuts it down
// gracefully. It returns nil on a clean shutdown, any other listen error
// otherwise.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
