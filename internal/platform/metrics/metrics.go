// Package metrics exposes allocation and queue measurements to Prometheus.
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	allocations   *prometheus.CounterVec
	allocationDur *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	queueScore    *prometheus.GaugeVec
	queueSurge    *prometheus.GaugeVec
	oracleFalls   prometheus.Counter
	eventsDropped prometheus.Counter
}

// New registers collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientflow",
			Name:      "allocations_total",
			Help:      "Allocation attempts by category and outcome.",
		}, []string{"operation", "category", "outcome"}),
		allocationDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patientflow",
			Name:      "allocation_duration_seconds",
			Help:      "Duration of allocation transactions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientflow",
			Name:      "unit_transitions_total",
			Help:      "Committed unit lifecycle transitions.",
		}, []string{"category", "event"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "patientflow",
			Name:      "queue_depth",
			Help:      "Waiting entries per category.",
		}, []string{"category"}),
		queueScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "patientflow",
			Name:      "queue_average_score",
			Help:      "Average priority score per category.",
		}, []string{"category"}),
		queueSurge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "patientflow",
			Name:      "queue_surge",
			Help:      "1 when the category's queue is in surge.",
		}, []string{"category"}),
		oracleFalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patientflow",
			Name:      "oracle_fallbacks_total",
			Help:      "Classifications that used the fallback acuity.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patientflow",
			Name:      "events_dropped_total",
			Help:      "Notifications skipped because an observer was slow.",
		}),
	}
	reg.MustRegister(
		m.allocations, m.allocationDur, m.transitions,
		m.queueDepth, m.queueScore, m.queueSurge,
		m.oracleFalls, m.eventsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAllocation records one allocation attempt.
func (m *Metrics) ObserveAllocation(operation, category, outcome string, took time.Duration) {
	m.allocations.WithLabelValues(operation, category, outcome).Inc()
	m.allocationDur.WithLabelValues(operation).Observe(took.Seconds())
}

// ObserveTransition records a committed lifecycle transition.
func (m *Metrics) ObserveTransition(category, event string) {
	m.transitions.WithLabelValues(category, event).Inc()
}

// ObserveQueue implements queue.Gauges.
func (m *Metrics) ObserveQueue(category string, depth int, averageScore float64, surge bool) {
	m.queueDepth.WithLabelValues(category).Set(float64(depth))
	m.queueScore.WithLabelValues(category).Set(averageScore)
	v := 0.0
	if surge {
		v = 1
	}
	m.queueSurge.WithLabelValues(category).Set(v)
}

// OracleFallback counts a fallback classification.
func (m *Metrics) OracleFallback() {
	m.oracleFalls.Inc()
}

// EventDropped counts a skipped notification.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(h)
}

// RegisterRoutes mounts GET /metrics.
func (m *Metrics) RegisterRoutes(e *echo.Echo) {
	e.GET("/metrics", m.Handler())
}
