// Package middleware contains the unit tests for the middleware package.
package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaforge/botshield/internal/ports"
)

// testPrometheusMetrics provides a global instance to avoid duplicate metric
// registration issues across tests in the same package.
var testPrometheusMetrics *PrometheusMetrics

func init() {
	// Create a single PrometheusMetrics instance to be shared across all tests
	// in this package. This prevents Prometheus from panicking due to duplicate
	// metric registration.
	testPrometheusMetrics = NewPrometheusMetrics()
}

// TestNewPrometheusMetrics verifies that a new PrometheusMetrics instance is
// created with all its internal metrics properly initialized.
func TestNewPrometheusMetrics(t *testing.T) {
	pm := testPrometheusMetrics

	assert.NotNil(t, pm, "PrometheusMetrics instance should not be nil")
	assert.NotNil(t, pm.classificationsTotal, "classificationsTotal should be initialized")
	assert.NotNil(t, pm.cacheEventsTotal, "cacheEventsTotal should be initialized")
	assert.NotNil(t, pm.rateLimitDenials, "rateLimitDenials should be initialized")
	assert.NotNil(t, pm.layerErrorsTotal, "layerErrorsTotal should be initialized")
	assert.NotNil(t, pm.executionLatency, "executionLatency should be initialized")
	assert.NotNil(t, pm.consensusScore, "consensusScore should be initialized")
	assert.NotNil(t, pm.systemGauges, "systemGauges should be initialized")
	assert.NotNil(t, pm.operationCounter, "operationCounter should be initialized")
}

// TestPrometheusMetrics_RecordLatency tests the recording of latency metrics
// with various label combinations.
func TestPrometheusMetrics_RecordLatency(t *testing.T) {
	pm := testPrometheusMetrics

	tests := []struct {
		name      string
		operation string
		duration  time.Duration
		labels    map[string]string
	}{
		{
			name:      "record latency with layer label",
			operation: "layer_execution",
			duration:  100 * time.Millisecond,
			labels:    map[string]string{"layer": "signature"},
		},
		{
			name:      "record latency without layer label",
			operation: "classify",
			duration:  250 * time.Millisecond,
			labels:    map[string]string{"other": "value"},
		},
		{
			name:      "record latency with nil labels",
			operation: "classify",
			duration:  50 * time.Millisecond,
			labels:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				pm.RecordLatency(tt.operation, tt.duration, tt.labels)
			}, "RecordLatency should not panic")
		})
	}
}

// TestPrometheusMetrics_RecordCounter tests the recording of detection-specific
// counter metrics, including the generic fallback counter.
func TestPrometheusMetrics_RecordCounter(t *testing.T) {
	pm := testPrometheusMetrics

	tests := []struct {
		name   string
		metric string
		value  float64
		labels map[string]string
	}{
		{
			name:   "record classification outcome",
			metric: "classifications",
			value:  1.0,
			labels: map[string]string{"classification": "consensus_block", "is_bot": "true"},
		},
		{
			name:   "record cache hit",
			metric: "cache_hits",
			value:  1.0,
			labels: nil,
		},
		{
			name:   "record cache miss",
			metric: "cache_misses",
			value:  1.0,
			labels: nil,
		},
		{
			name:   "record rate limit denial",
			metric: "rate_limit_denials",
			value:  1.0,
			labels: nil,
		},
		{
			name:   "record layer error",
			metric: "layer_errors",
			value:  1.0,
			labels: map[string]string{"layer": "authorship"},
		},
		{
			name:   "record unknown metric as generic counter",
			metric: "unknown_metric",
			value:  42.0,
			labels: map[string]string{"status": "success"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				pm.RecordCounter(tt.metric, tt.value, tt.labels)
			}, "RecordCounter should not panic for valid inputs")
		})
	}
}

// TestPrometheusMetrics_RecordGauge tests the recording of gauge metrics.
func TestPrometheusMetrics_RecordGauge(t *testing.T) {
	pm := testPrometheusMetrics

	tests := []struct {
		name   string
		metric string
		value  float64
	}{
		{name: "record active clients", metric: "active_clients", value: 12},
		{name: "record cache entries", metric: "cache_entries", value: 850},
		{name: "record arbitrary gauge", metric: "unknown_gauge", value: 123.45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				pm.RecordGauge(tt.metric, tt.value, nil)
			}, "RecordGauge should not panic for valid inputs")
		})
	}
}

// TestPrometheusMetrics_RecordHistogram tests the recording of histogram
// metrics, including the consensus score distribution.
func TestPrometheusMetrics_RecordHistogram(t *testing.T) {
	pm := testPrometheusMetrics

	tests := []struct {
		name   string
		metric string
		value  float64
		labels map[string]string
	}{
		{
			name:   "record consensus score",
			metric: "consensus_score",
			value:  0.87,
			labels: nil,
		},
		{
			name:   "record generic histogram with layer",
			metric: "layer_duration",
			value:  0.123,
			labels: map[string]string{"layer": "behavioral"},
		},
		{
			name:   "record generic histogram without labels",
			metric: "other_duration",
			value:  0.456,
			labels: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				pm.RecordHistogram(tt.metric, tt.value, tt.labels)
			}, "RecordHistogram should not panic for valid inputs")
		})
	}
}

// TestPrometheusMetrics_InterfaceCompliance ensures that PrometheusMetrics
// correctly implements the ports.MetricsCollector interface.
func TestPrometheusMetrics_InterfaceCompliance(t *testing.T) {
	var metrics ports.MetricsCollector = testPrometheusMetrics
	require.NotNil(t, metrics, "PrometheusMetrics should implement MetricsCollector")

	labels := map[string]string{"layer": "signature"}

	assert.NotPanics(t, func() {
		metrics.RecordLatency("test", 100*time.Millisecond, labels)
	}, "RecordLatency should be callable through interface")

	assert.NotPanics(t, func() {
		metrics.RecordCounter("test", 1.0, labels)
	}, "RecordCounter should be callable through interface")

	assert.NotPanics(t, func() {
		metrics.RecordGauge("test", 42.0, labels)
	}, "RecordGauge should be callable through interface")

	assert.NotPanics(t, func() {
		metrics.RecordHistogram("test", 0.5, labels)
	}, "RecordHistogram should be callable through interface")
}

// TestPrometheusMetrics_EdgeCases tests various edge cases to ensure the
// metrics collector is robust.
func TestPrometheusMetrics_EdgeCases(t *testing.T) {
	pm := testPrometheusMetrics

	t.Run("zero duration latency", func(t *testing.T) {
		assert.NotPanics(t, func() {
			pm.RecordLatency("zero_duration", 0, nil)
		}, "Should handle zero duration gracefully")
	})

	t.Run("negative counter value", func(t *testing.T) {
		// Prometheus counters cannot be negative, so this should panic.
		assert.Panics(t, func() {
			pm.RecordCounter("negative_counter", -1.0, nil)
		}, "Prometheus counters should panic on negative values")
	})

	t.Run("very large gauge value", func(t *testing.T) {
		assert.NotPanics(t, func() {
			pm.RecordGauge("large_gauge", 1e9, nil)
		}, "Should handle large gauge values gracefully")
	})

	t.Run("missing classification labels", func(t *testing.T) {
		// Missing labels fall back to empty strings rather than panicking.
		assert.NotPanics(t, func() {
			pm.RecordCounter("classifications", 1.0, map[string]string{})
		}, "Should handle incomplete classification labels gracefully")
	})
}

// BenchmarkPrometheusMetrics_RecordLatency benchmarks the performance of
// recording latency metrics.
func BenchmarkPrometheusMetrics_RecordLatency(b *testing.B) {
	pm := testPrometheusMetrics
	labels := map[string]string{"layer": "signature"}
	duration := 100 * time.Millisecond

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pm.RecordLatency("benchmark_operation", duration, labels)
	}
}

// BenchmarkPrometheusMetrics_RecordCounter benchmarks the performance of
// recording counter metrics.
func BenchmarkPrometheusMetrics_RecordCounter(b *testing.B) {
	pm := testPrometheusMetrics

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pm.RecordCounter("benchmark_counter", 1.0, nil)
	}
}
