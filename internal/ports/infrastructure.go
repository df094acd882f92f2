package ports

import (
	"context"
	"time"

	"github.com/qaforge/botshield/internal/domain"
)

// CacheStore defines the interface for caching consensus verdicts.
// Implementations could use an in-memory map, SQLite, Redis, or Memcached.
// The cache is a best-effort performance optimization: an outage degrades
// to always-recompute, never to incorrect results.
type CacheStore interface {
	// Get retrieves a cached verdict by key.
	// Returns the verdict and true if found and unexpired, or nil and
	// false otherwise. Expired entries are evicted on read.
	Get(ctx context.Context, key string) (*domain.ConsensusVerdict, bool, error)

	// Set stores a verdict with an expiration time.
	// A zero duration means the entry doesn't expire.
	Set(ctx context.Context, key string, verdict *domain.ConsensusVerdict, ttl time.Duration) error

	// Delete removes a verdict from the cache.
	// Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Clear removes all cached verdicts.
	Clear(ctx context.Context) error
}

// RateLimiter decides whether a client may issue another detection request.
// Implementations maintain per-client sliding counters and must make the
// window rollover check-and-reset atomic with respect to concurrent calls.
type RateLimiter interface {
	// Allow records one request attempt for the client and reports
	// whether it is within quota. Once a client exceeds either window
	// ceiling it stays blocked until that window rolls over.
	Allow(clientID string) bool
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus or OpenTelemetry.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like cache hits/misses,
	// rate-limit denials, and layer errors.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like consensus scores.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// TextFeatures summarizes the authorship-relevant characteristics of a
// text body as produced by a TextFeatureAnalyzer.
type TextFeatures struct {
	// AIProbability is the analyzer's base estimate that the text is
	// machine-generated, in [0,1].
	AIProbability float64

	// Confidence is the analyzer's certainty in its own estimate.
	Confidence float64

	// Indicators lists the phrase-level signals that fired.
	Indicators []string
}

// TextFeatureAnalyzer estimates whether free text was machine-generated.
// The reference implementation is a phrase-frequency heuristic; a real NLP
// backend can be substituted without touching the engine.
type TextFeatureAnalyzer interface {
	// AnalyzeText scores a text body for machine-authorship signals.
	AnalyzeText(ctx context.Context, text string) (TextFeatures, error)
}
