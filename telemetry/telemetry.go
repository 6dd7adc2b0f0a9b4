// Package telemetry provides opt-in, low-overhead instrumentation of graph
// runs. It is safe to call from the scheduler's hot loop: when disabled, all
// public functions are no-ops.
package telemetry

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the telemetry module.
//
// Notes:
//   - MetricsAddr, when non-empty, starts a dedicated HTTP server that serves
//     /metrics. If you already expose Prometheus elsewhere, leave it empty and
//     register promhttp yourself.
type Config struct {
	Enabled     bool
	MetricsAddr string // e.g., ":9090". Empty to disable the standalone endpoint
}

var (
	modEnabled atomic.Bool

	runsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "difflow_graph_runs_total",
		Help: "Total graph runs driven to quiescence",
	})
	stepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "difflow_operator_steps_total",
		Help: "Total operator step invocations across all runs",
	})
	messagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "difflow_messages_total",
		Help: "Total messages enqueued onto stream readers",
	})
	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "difflow_run_duration_seconds",
		Help:    "Distribution of graph run durations",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	})
	passesPerRun = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "difflow_passes_per_run",
		Help:    "Distribution of scheduler passes needed to reach quiescence",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32},
	})
)

func init() {
	// Register eagerly. If no Prometheus endpoint is exposed, the
	// registration is harmless.
	prometheus.MustRegister(runsTotal, stepsTotal, messagesTotal, runDuration, passesPerRun)
}

// Enable configures the module. Safe to call multiple times; subsequent calls
// replace the config.
func Enable(cfg Config) {
	modEnabled.Store(cfg.Enabled)
	if cfg.MetricsAddr != "" {
		startMetricsEndpoint(cfg.MetricsAddr)
	}
}

// Enabled reports whether telemetry is active.
func Enabled() bool { return modEnabled.Load() }

// ObserveRun records one completed graph run.
func ObserveRun(d time.Duration, passes, messages int) {
	if !modEnabled.Load() {
		return
	}
	runsTotal.Inc()
	runDuration.Observe(d.Seconds())
	passesPerRun.Observe(float64(passes))
	if messages > 0 {
		messagesTotal.Add(float64(messages))
	}
}

// ObserveStep records one operator step invocation.
func ObserveStep() {
	if !modEnabled.Load() {
		return
	}
	stepsTotal.Inc()
}

// startMetricsEndpoint exposes /metrics on the given addr in a background
// goroutine. Best-effort: no strict deduplication of addresses.
func startMetricsEndpoint(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
