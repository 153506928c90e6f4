package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ErrorMetrics holds error handling specific metrics
type ErrorMetrics struct {
	// Side output metrics
	SideOutputEvents  *prometheus.CounterVec
	SideOutputDropped *prometheus.CounterVec

	// Error categorization metrics
	ErrorsByCategory *prometheus.CounterVec

	// Delivery metrics for sinks
	SinkWrites   *prometheus.CounterVec
	SinkFailures *prometheus.CounterVec
}

// NewErrorMetrics creates a new error metrics collector
func NewErrorMetrics(registry *prometheus.Registry) *ErrorMetrics {
	em := &ErrorMetrics{}
	em.initMetrics()
	em.registerMetrics(registry)
	return em
}

func (em *ErrorMetrics) initMetrics() {
	em.SideOutputEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_side_output_events_total",
			Help: "Total number of records emitted to side outputs",
		},
		[]string{"tag"},
	)

	em.SideOutputDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_side_output_dropped_total",
			Help: "Side output records dropped because the channel was full",
		},
		[]string{"tag"},
	)

	em.ErrorsByCategory = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_errors_by_category_total",
			Help: "Total number of errors by category",
		},
		[]string{"component", "category"},
	)

	em.SinkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_sink_writes_total",
			Help: "Window results written to a sink",
		},
		[]string{"sink"},
	)

	em.SinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventtime_sink_failures_total",
			Help: "Window results a sink failed to write",
		},
		[]string{"sink"},
	)
}

func (em *ErrorMetrics) registerMetrics(registry *prometheus.Registry) {
	registry.MustRegister(em.SideOutputEvents)
	registry.MustRegister(em.SideOutputDropped)
	registry.MustRegister(em.ErrorsByCategory)
	registry.MustRegister(em.SinkWrites)
	registry.MustRegister(em.SinkFailures)
}

// RecordError counts an error under its category label
func (c *Collector) RecordError(component, category string) {
	if c == nil {
		return
	}
	c.ErrorMetrics.ErrorsByCategory.WithLabelValues(component, category).Inc()
}

// RecordSideOutput counts a side output emission, delivered or dropped
func (c *Collector) RecordSideOutput(tag string, delivered bool) {
	if c == nil {
		return
	}
	if delivered {
		c.ErrorMetrics.SideOutputEvents.WithLabelValues(tag).Inc()
		return
	}
	c.ErrorMetrics.SideOutputDropped.WithLabelValues(tag).Inc()
}

// RecordSinkWrite counts a sink write outcome
func (c *Collector) RecordSinkWrite(sink string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.ErrorMetrics.SinkFailures.WithLabelValues(sink).Inc()
		return
	}
	c.ErrorMetrics.SinkWrites.WithLabelValues(sink).Inc()
}
