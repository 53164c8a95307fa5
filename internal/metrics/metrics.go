// Package metrics holds the Prometheus collectors for bidding, settlement
// and the transports. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "auctiond"

// Metrics groups the service collectors.
type Metrics struct {
	bids           *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	settleDuration prometheus.Histogram
	sweeps         *prometheus.CounterVec
	wsConnections  prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the process
// and Go runtime collectors, on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bids: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bids",
				Name:      "submitted_total",
				Help:      "Bids submitted, by outcome reason.",
			},
			[]string{"reason"},
		),
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "attempts_total",
				Help:      "Settlement attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		settleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "settlement",
				Name:      "duration_seconds",
				Help:      "Duration of settlement transactions.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "auctions_total",
				Help:      "Due auctions processed by the sweeper, by result.",
			},
			[]string{"result"},
		),
		wsConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "connections",
				Help:      "Open WebSocket bidding connections.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		m.bids,
		m.settlements,
		m.settleDuration,
		m.sweeps,
		m.wsConnections,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveBid counts a bid submission. An empty reason means accepted.
func (m *Metrics) ObserveBid(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "accepted"
	}
	m.bids.WithLabelValues(reason).Inc()
}

// ObserveSettlement counts a settlement attempt and its duration.
func (m *Metrics) ObserveSettlement(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
	m.settleDuration.Observe(d.Seconds())
}

// ObserveSweep counts one due auction handled by the sweeper.
func (m *Metrics) ObserveSweep(result string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
}

// WSConnected tracks a new WebSocket connection.
func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

// WSDisconnected tracks a closed WebSocket connection.
func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}

// ObserveHTTP records one handled request. route is the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
