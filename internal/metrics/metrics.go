// Package metrics exposes Prometheus collectors for scans, mutations and the
// WAL. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pgrnscan"

// Metrics holds the engine collectors and the registry they belong to.
type Metrics struct {
	registry *prometheus.Registry

	scans        *prometheus.CounterVec
	rows         *prometheus.CounterVec
	killed       prometheus.Counter
	mutations    *prometheus.CounterVec
	castFailures prometheus.Counter
	walEntries   *prometheus.CounterVec
	opLatency    *prometheus.HistogramVec
	activeScans  prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "cursors_total",
			Help:      "Cursors opened, by pipeline path",
		}, []string{"path"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "rows_total",
			Help:      "Row identifiers delivered, by delivery mode",
		}, []string{"mode"}),
		killed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "killed_total",
			Help:      "Stale source records deleted on kill",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "records_total",
			Help:      "Source records written or removed",
		}, []string{"op"}),
		castFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mutation",
			Name:      "cast_failures_total",
			Help:      "Column values skipped because they could not be cast",
		}),
		walEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wal",
			Name:      "entries_total",
			Help:      "WAL entries appended, by action",
		}, []string{"action"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of access method operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		activeScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "active",
			Help:      "Scan states currently registered",
		}),
	}

	m.registry.MustRegister(
		m.scans,
		m.rows,
		m.killed,
		m.mutations,
		m.castFailures,
		m.walEntries,
		m.opLatency,
		m.activeScans,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CursorOpened(path string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(path).Inc()
}

func (m *Metrics) RowsDelivered(mode string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rows.WithLabelValues(mode).Add(float64(n))
}

func (m *Metrics) Killed() {
	if m == nil {
		return
	}
	m.killed.Inc()
}

func (m *Metrics) Mutation(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mutations.WithLabelValues(op).Add(float64(n))
}

func (m *Metrics) CastFailure() {
	if m == nil {
		return
	}
	m.castFailures.Inc()
}

func (m *Metrics) WALEntry(action string) {
	if m == nil {
		return
	}
	m.walEntries.WithLabelValues(action).Inc()
}

func (m *Metrics) ScanRegistered() {
	if m == nil {
		return
	}
	m.activeScans.Inc()
}

func (m *Metrics) ScanUnregistered(n int) {
	if m == nil {
		return
	}
	m.activeScans.Sub(float64(n))
}

// Observe records the latency of op since start.
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.opLatency.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}
