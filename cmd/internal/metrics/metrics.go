// Package metrics owns the Prometheus collectors exported on /metrics.
//
// All recording methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "messenger"

// Metrics groups the server collectors.
type Metrics struct {
	reg *prometheus.Registry

	connectionsActive   prometheus.Gauge
	connectionsTotal    *prometheus.CounterVec
	inboundEvents       *prometheus.CounterVec
	broadcastDelivered  prometheus.Counter
	broadcastDropped    prometheus.Counter
	presenceTransitions *prometheus.CounterVec
	presenceErrors      *prometheus.CounterVec
	receiptUpdates      *prometheus.CounterVec
	taskResults         *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
// Go runtime and process collectors are included so /metrics is useful on its own.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Websocket connections currently attached to the router.",
		}),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Websocket connection attempts by result.",
		}, []string{"result"}),
		inboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "inbound_events_total",
			Help:      "Inbound client events by type.",
		}, []string{"type"}),
		broadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "deliveries_total",
			Help:      "Envelopes queued to a connection.",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "drops_total",
			Help:      "Envelopes dropped because a connection queue was full or closing.",
		}),
		presenceTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "transitions_total",
			Help:      "Persisted presence transitions by status.",
		}, []string{"status"}),
		presenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presence",
			Name:      "store_errors_total",
			Help:      "Presence store failures by operation.",
		}, []string{"op"}),
		receiptUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "receipts_total",
			Help:      "Delivery/read receipt operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		taskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "results_total",
			Help:      "Background task outcomes.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsActive,
		m.connectionsTotal,
		m.inboundEvents,
		m.broadcastDelivered,
		m.broadcastDropped,
		m.presenceTransitions,
		m.presenceErrors,
		m.receiptUpdates,
		m.taskResults,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// ConnectionOpened records an attached connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
	m.connectionsTotal.WithLabelValues("accepted").Inc()
}

// ConnectionClosed records a detached connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// ConnectionRejected records a refused handshake ("auth", "origin", "upgrade").
func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues("rejected_" + reason).Inc()
}

// InboundEvent records one client event.
func (m *Metrics) InboundEvent(typ string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(typ).Inc()
}

// Delivered records envelopes queued to connections.
func (m *Metrics) Delivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.broadcastDelivered.Add(float64(n))
}

// Dropped records envelopes that could not be queued.
func (m *Metrics) Dropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.broadcastDropped.Add(float64(n))
}

// PresenceTransition records a persisted online/offline transition.
func (m *Metrics) PresenceTransition(status string) {
	if m == nil {
		return
	}
	m.presenceTransitions.WithLabelValues(status).Inc()
}

// PresenceError records a presence store failure for op ("connect", "disconnect", "persist").
func (m *Metrics) PresenceError(op string) {
	if m == nil {
		return
	}
	m.presenceErrors.WithLabelValues(op).Inc()
}

// Receipt records a delivery coordinator outcome.
func (m *Metrics) Receipt(kind, outcome string) {
	if m == nil {
		return
	}
	m.receiptUpdates.WithLabelValues(kind, outcome).Inc()
}

// TaskResult records a background task outcome ("ok", "error", "panic", "rejected", "dropped").
func (m *Metrics) TaskResult(result string) {
	if m == nil {
		return
	}
	m.taskResults.WithLabelValues(result).Inc()
}
