// Package metrics exports scheduler and sync counters in the Prometheus
// text format and keeps a short history of sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Resinat/Coffer/internal/ratelimit"
)

const namespace = "coffer"

// Metrics owns a private registry. It implements ratelimit.Observer.
type Metrics struct {
	registry *prometheus.Registry
	runs     *RunRing

	requests    *prometheus.CounterVec
	violations  *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
	pause       prometheus.Gauge
	syncRuns    *prometheus.CounterVec
	syncElapsed prometheus.Histogram
	syncItems   prometheus.Gauge
	syncTabs    prometheus.Gauge
}

var _ ratelimit.Observer = (*Metrics)(nil)

// New registers every collector on a fresh registry. runHistory bounds the
// number of sync runs kept for Runs.
func New(runHistory int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs:     NewRunRing(runHistory),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "requests_total",
			Help:      "Requests finished by the scheduler, by policy and outcome.",
		}, []string{"policy", "outcome"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "violations_total",
			Help:      "HTTP 429 replies, by policy.",
		}, []string{"policy"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "queue_depth",
			Help:      "Requests waiting in each policy queue.",
		}, []string{"policy"}),
		pause: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "pause_seconds",
			Help:      "Seconds until the most delayed queue may send again.",
		}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Finished sync runs, by outcome.",
		}, []string{"outcome"}),
		syncElapsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished sync runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		syncItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "items",
			Help:      "Items held after the last sync run.",
		}),
		syncTabs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "locations",
			Help:      "Stash tabs and characters held after the last sync run.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.violations,
		m.queueDepth,
		m.pause,
		m.syncRuns,
		m.syncElapsed,
		m.syncItems,
		m.syncTabs,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Runs returns the recent sync run history.
func (m *Metrics) Runs() *RunRing { return m.runs }

func (m *Metrics) RequestFinished(policy string, outcome ratelimit.Outcome) {
	m.requests.WithLabelValues(policy, string(outcome)).Inc()
	if outcome == ratelimit.OutcomeViolation {
		m.violations.WithLabelValues(policy).Inc()
	}
}

func (m *Metrics) PolicyUpdated(status ratelimit.ManagerStatus) {
	m.queueDepth.WithLabelValues(status.Policy).Set(float64(status.QueueDepth))
}

func (m *Metrics) Paused(p ratelimit.Pause) {
	m.pause.Set(float64(p.Seconds))
}

// SyncFinished records one finished sync run. The item and location counts
// are what the worker holds afterwards.
func (m *Metrics) SyncFinished(runID, outcome string, items, locations int, elapsed time.Duration) {
	m.syncRuns.WithLabelValues(outcome).Inc()
	m.syncElapsed.Observe(elapsed.Seconds())
	m.syncItems.Set(float64(items))
	m.syncTabs.Set(float64(locations))
	m.runs.Push(RunRecord{
		RunID:      runID,
		Outcome:    outcome,
		Items:      items,
		Locations:  locations,
		Elapsed:    elapsed,
		FinishedAt: time.Now(),
	})
}
