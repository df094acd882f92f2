// Package middleware provides cross-cutting concerns for the detection
// engine: rate limiting and operational metrics.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/qaforge/botshield/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It provides real-time monitoring of classification
// outcomes, cache behavior, rate limiting, and layer performance.
type PrometheusMetrics struct {
	classificationsTotal *prometheus.CounterVec
	cacheEventsTotal     *prometheus.CounterVec
	rateLimitDenials     prometheus.Counter
	layerErrorsTotal     *prometheus.CounterVec
	executionLatency     *prometheus.HistogramVec
	consensusScore       prometheus.Histogram
	systemGauges         *prometheus.GaugeVec
	operationCounter     *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance and
// registers all required metrics in the global Prometheus registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		classificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botshield_classifications_total",
				Help: "Total verdicts by classification outcome.",
			},
			[]string{"classification", "is_bot"},
		),
		cacheEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botshield_cache_events_total",
				Help: "Cache hits, misses, and errors.",
			},
			[]string{"event"},
		),
		rateLimitDenials: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botshield_rate_limit_denials_total",
				Help: "Requests denied by the per-client rate limiter.",
			},
		),
		layerErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botshield_layer_errors_total",
				Help: "Detection layer failures excluded from consensus.",
			},
			[]string{"layer"},
		),
		executionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botshield_execution_duration_seconds",
				Help:    "Execution time of detection operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "layer"},
		),
		consensusScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "botshield_consensus_score",
				Help:    "Distribution of weighted consensus scores.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		systemGauges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "botshield_system_state",
				Help: "Current system state values for the detection engine.",
			},
			[]string{"metric"},
		),
		operationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botshield_operations_total",
				Help: "Total operations performed by the detection engine.",
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	layer, ok := labels["layer"]
	if !ok {
		layer = "all"
	}
	pm.executionLatency.WithLabelValues(operation, layer).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "classifications":
		pm.classificationsTotal.WithLabelValues(
			labels["classification"],
			labels["is_bot"],
		).Add(value)
	case "cache_hits":
		pm.cacheEventsTotal.WithLabelValues("hit").Add(value)
	case "cache_misses":
		pm.cacheEventsTotal.WithLabelValues("miss").Add(value)
	case "cache_errors":
		pm.cacheEventsTotal.WithLabelValues("error").Add(value)
	case "rate_limit_denials":
		pm.rateLimitDenials.Add(value)
	case "layer_errors":
		pm.layerErrorsTotal.WithLabelValues(labels["layer"]).Add(value)
	default:
		status, ok := labels["status"]
		if !ok {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, _ map[string]string,
) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	if metric == "consensus_score" {
		pm.consensusScore.Observe(value)
		return
	}
	layer, ok := labels["layer"]
	if !ok {
		layer = "all"
	}
	pm.executionLatency.WithLabelValues(metric, layer).Observe(value)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
