package affiliate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the conversion subsystem.
type Metrics struct {
	Registry         *prometheus.Registry
	ConversionsTotal *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	Duration         prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	conversions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_conversions_total",
			Help: "Conversion requests by marketplace and outcome status.",
		},
		[]string{"marketplace", "status"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_conversion_errors_total",
			Help: "Converter failures by marketplace and error kind.",
		},
		[]string{"marketplace", "kind"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "affiliate_conversion_duration_seconds",
			Help:    "Latency of converter calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(conversions, errorsTotal, duration)

	return &Metrics{
		Registry:         registry,
		ConversionsTotal: conversions,
		ErrorsTotal:      errorsTotal,
		Duration:         duration,
	}
}

// IncConversion increments the conversions counter.
func (m *Metrics) IncConversion(marketplace, status string) {
	if m == nil {
		return
	}
	m.ConversionsTotal.WithLabelValues(marketplace, status).Inc()
}

// IncError increments the errors counter for an error-kind label.
func (m *Metrics) IncError(marketplace, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(marketplace, kind).Inc()
}

// ObserveDuration records one converter call duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.Duration.Observe(d.Seconds())
}
