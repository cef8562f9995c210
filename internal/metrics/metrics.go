// Package metrics exposes the orchestrator's Prometheus surface: how long
// each stage takes, how each host came out of it, and how much a run waits
// on (or loses) advisory locks. Grounded on the teacher's
// internal/metrics/{metrics,prometheus}.go registry-and-collector pattern,
// trimmed to the counters this domain actually has a use for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dg",
			Name:      "stage_duration_seconds",
			Help:      "Duration of a single stage's run, across all hosts.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	hostOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dg",
			Name:      "host_outcomes_total",
			Help:      "Per-host outcomes of a stage, by stage and outcome (ok/failed).",
		},
		[]string{"stage", "outcome"},
	)

	lockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dg",
			Name:      "lock_wait_seconds",
			Help:      "Time spent attempting to acquire an advisory lock.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"path"},
	)

	lockContentionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dg",
			Name:      "lock_contentions_total",
			Help:      "Advisory lock acquisitions that failed because the lock was already held.",
		},
		[]string{"path"},
	)
)

func init() {
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		stageDuration,
		hostOutcomesTotal,
		lockWaitSeconds,
		lockContentionsTotal,
	)
}

// ObserveStageDuration records how long a stage took, in seconds.
func ObserveStageDuration(stage string, seconds float64) {
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordHostOutcome records a single host's outcome ("ok" or "failed") for
// a stage.
func RecordHostOutcome(stage string, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	hostOutcomesTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveLockWait records how long acquiring path's lock took, in seconds,
// whether or not the acquisition ultimately succeeded.
func ObserveLockWait(path string, seconds float64) {
	lockWaitSeconds.WithLabelValues(path).Observe(seconds)
}

// RecordLockContention records that acquiring path's lock failed because
// another holder already had it.
func RecordLockContention(path string) {
	lockContentionsTotal.WithLabelValues(path).Inc()
}

// Handler returns an http.Handler serving the registry in the Prometheus
// exposition format, for wiring into a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests or callers that need
// to register additional collectors.
func Registry() *prometheus.Registry {
	return registry
}
