// Package metrics exposes Prometheus metrics for the CostQ lifecycle
// manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the lifecycle collectors. It implements hub.Recorder.
type Metrics struct {
	activeConnections prometheus.Gauge
	activeQueries     prometheus.Gauge

	connectionsTotal   prometheus.Counter
	reapedTotal        *prometheus.CounterVec
	queriesTotal       prometheus.Counter
	queryOutcomes      *prometheus.CounterVec
	admissionsRejected *prometheus.CounterVec
}

// New creates the collectors and registers them with the registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "costq_active_connections",
			Help: "Number of currently tracked WebSocket connections.",
		}),
		activeQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "costq_active_queries",
			Help: "Number of currently tracked in-flight queries.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "costq_connections_total",
			Help: "Total connections accepted.",
		}),
		reapedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costq_connections_reaped_total",
			Help: "Connections closed by the reaper, by reason.",
		}, []string{"reason"}),
		queriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "costq_queries_total",
			Help: "Total queries admitted.",
		}),
		queryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costq_query_outcomes_total",
			Help: "Finished queries, by final status.",
		}, []string{"status"}),
		admissionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "costq_admissions_rejected_total",
			Help: "Admission rejections, by kind (connection, query, rate).",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.activeQueries,
		m.connectionsTotal,
		m.reapedTotal,
		m.queriesTotal,
		m.queryOutcomes,
		m.admissionsRejected,
	)
	return m
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed() {
	m.activeConnections.Dec()
}

// QueryStarted records an admitted query.
func (m *Metrics) QueryStarted() {
	m.activeQueries.Inc()
	m.queriesTotal.Inc()
}

// QueryFinished records a finished query with its final status.
func (m *Metrics) QueryFinished(status string) {
	m.activeQueries.Dec()
	m.queryOutcomes.WithLabelValues(status).Inc()
}

// AdmissionRejected records a rejected admission attempt.
func (m *Metrics) AdmissionRejected(kind string) {
	m.admissionsRejected.WithLabelValues(kind).Inc()
}

// ConnectionReaped records a reaper-closed connection.
func (m *Metrics) ConnectionReaped(reason string) {
	m.reapedTotal.WithLabelValues(reason).Inc()
}
