// Package metrics provides Prometheus metrics for proctord.
//
// Features:
//   - Counters for violations, escalations, sessions, signals and batches
//   - Gauges for active sessions and connections
//   - Histogram for session duration
//   - Observer implementation the monitor reports to
//   - Scrape handler for /metrics
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"proctord/internal/proctor"
)

const namespace = "proctord"

// Metrics holds all proctord metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Monitor
	ViolationsTotal      *prometheus.CounterVec
	EscalationsTotal     *prometheus.CounterVec
	SessionsTotal        prometheus.Counter
	ActiveSessions       prometheus.Gauge
	SessionDuration      prometheus.Histogram
	AuditEvictionsTotal  prometheus.Counter
	AdapterFailuresTotal *prometheus.CounterVec

	// Transport
	Connections    prometheus.Gauge
	SignalsTotal   *prometheus.CounterVec
	ThrottledTotal prometheus.Counter
	BatchesTotal   *prometheus.CounterVec
	DroppedNotices prometheus.Counter

	mu      sync.Mutex
	forward [3]int64
}

// New creates and registers all metrics with reg. A nil reg uses a fresh
// registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		ViolationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violations_total",
				Help:      "Total number of violations recorded by type and severity.",
			},
			[]string{"type", "severity"},
		),
		EscalationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Total number of escalation notices by treatment.",
			},
			[]string{"treatment"},
		),
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of monitored sessions started.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions currently monitored.",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Length of ended sessions in seconds.",
			// 1m to ~4h
			Buckets: prometheus.ExponentialBuckets(60, 2, 9),
		}),
		AuditEvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_evictions_total",
			Help:      "Total number of audit log lines evicted by the capacity bound.",
		}),
		AdapterFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_failures_total",
				Help:      "Total number of signal adapter failures by adapter.",
			},
			[]string{"adapter"},
		),

		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "Number of open session connections.",
		}),
		SignalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "server",
				Name:      "signals_total",
				Help:      "Total number of signals received by kind.",
			},
			[]string{"kind"},
		),
		ThrottledTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "throttled_frames_total",
			Help:      "Total number of inbound frames rejected by the rate limit.",
		}),
		BatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "forward",
				Name:      "batches_total",
				Help:      "Total number of forwarded batches by outcome.",
			},
			[]string{"outcome"},
		),
		DroppedNotices: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forward",
			Name:      "dropped_notices_total",
			Help:      "Total number of notices dropped by a full forward queue.",
		}),
	}
}

// SessionStarted implements proctor.Observer.
func (m *Metrics) SessionStarted(string) {
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// SessionEnded implements proctor.Observer.
func (m *Metrics) SessionEnded(_ string, d time.Duration) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(d.Seconds())
}

// ViolationRecorded implements proctor.Observer.
func (m *Metrics) ViolationRecorded(v proctor.Violation) {
	m.ViolationsTotal.WithLabelValues(string(v.Type), string(v.Severity)).Inc()
}

// Escalated implements proctor.Observer.
func (m *Metrics) Escalated(n proctor.Notice) {
	m.EscalationsTotal.WithLabelValues(string(n.Treatment)).Inc()
}

// AuditEvicted implements proctor.Observer.
func (m *Metrics) AuditEvicted() {
	m.AuditEvictionsTotal.Inc()
}

// AdapterFailed implements proctor.Observer.
func (m *Metrics) AdapterFailed(adapter string) {
	m.AdapterFailuresTotal.WithLabelValues(adapter).Inc()
}

// RecordSignal counts an inbound signal.
func (m *Metrics) RecordSignal(kind proctor.SignalKind) {
	m.SignalsTotal.WithLabelValues(string(kind)).Inc()
}

// RecordForwarder publishes forwarder totals. The arguments are cumulative
// and only their growth since the previous call is added.
func (m *Metrics) RecordForwarder(delivered, failed, dropped int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counters := [3]prometheus.Counter{
		m.BatchesTotal.WithLabelValues("delivered"),
		m.BatchesTotal.WithLabelValues("failed"),
		m.DroppedNotices,
	}
	for i, total := range [3]int64{delivered, failed, dropped} {
		if d := total - m.forward[i]; d > 0 {
			counters[i].Add(float64(d))
			m.forward[i] = total
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics. Its registry also carries the
// Go runtime and process collectors.
func Default() *Metrics {
	defaultOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		defaultMetrics = New(reg)
	})
	return defaultMetrics
}

var _ proctor.Observer = (*Metrics)(nil)
