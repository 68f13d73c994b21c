// Package metrics holds the prometheus collectors exported on /metrics.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	TickDuration    prometheus.Histogram
	ActiveUnits     prometheus.Gauge
	Stops           prometheus.Counter
	SkippedUnits    prometheus.Counter
	RouteFallbacks  prometheus.Counter
	Refreshes       prometheus.Counter
	UnitFaults      prometheus.Counter
	BroadcastSent   *prometheus.CounterVec
	BroadcastDrops  *prometheus.CounterVec
	BroadcastErrors *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Time spent advancing all units in one tick.",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05},
		}),
		ActiveUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_units",
			Help: "Units with a live simulation state.",
		}),
		Stops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_stops_total",
			Help: "Simulated traffic stops scheduled.",
		}),
		SkippedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_skipped_units_total",
			Help: "Units left out of a refresh because no route could be built.",
		}),
		RouteFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_route_fallbacks_total",
			Help: "Routes that fell back to straight lines between checkpoints.",
		}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_refresh_total",
			Help: "Completed simulation refreshes.",
		}),
		UnitFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_unit_faults_total",
			Help: "Units omitted from a tick batch after a processing fault.",
		}),
		BroadcastSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_broadcast_sent_total",
			Help: "Batches delivered per sink.",
		}, []string{"sink"}),
		BroadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_broadcast_dropped_total",
			Help: "Batches dropped because a sink queue was full.",
		}, []string{"sink"}),
		BroadcastErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_broadcast_errors_total",
			Help: "Batches a sink failed to deliver.",
		}, []string{"sink"}),
	}

	m.registry.MustRegister(
		m.TickDuration, m.ActiveUnits, m.Stops, m.SkippedUnits, m.RouteFallbacks,
		m.Refreshes, m.UnitFaults, m.BroadcastSent, m.BroadcastDrops, m.BroadcastErrors,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
}

func (m *Metrics) SetActiveUnits(n int) {
	if m == nil {
		return
	}
	m.ActiveUnits.Set(float64(n))
}

func (m *Metrics) IncStops() {
	if m == nil {
		return
	}
	m.Stops.Inc()
}

func (m *Metrics) IncSkipped() {
	if m == nil {
		return
	}
	m.SkippedUnits.Inc()
}

func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.RouteFallbacks.Inc()
}

func (m *Metrics) IncRefresh() {
	if m == nil {
		return
	}
	m.Refreshes.Inc()
}

func (m *Metrics) IncUnitFault() {
	if m == nil {
		return
	}
	m.UnitFaults.Inc()
}

func (m *Metrics) IncSent(sink string) {
	if m == nil {
		return
	}
	m.BroadcastSent.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncDropped(sink string) {
	if m == nil {
		return
	}
	m.BroadcastDrops.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncError(sink string) {
	if m == nil {
		return
	}
	m.BroadcastErrors.WithLabelValues(sink).Inc()
}
