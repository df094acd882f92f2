package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qaforge/botshield/internal/domain"
	"github.com/qaforge/botshield/internal/ports"
)

// fakeLayer returns a canned verdict, optionally after a delay.
type fakeLayer struct {
	id      string
	verdict domain.LayerVerdict
	err     error
	delay   time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeLayer) ID() string      { return f.id }
func (f *fakeLayer) Validate() error { return nil }

func (f *fakeLayer) Analyze(ctx context.Context, _ *domain.DetectionRequest) (domain.LayerVerdict, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.LayerVerdict{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.LayerVerdict{}, f.err
	}
	return f.verdict, nil
}

func (f *fakeLayer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeCache is a plain map store without TTL handling.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.ConsensusVerdict
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]domain.ConsensusVerdict)}
}

func (f *fakeCache) Get(_ context.Context, key string) (*domain.ConsensusVerdict, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := v
	return &out, true, nil
}

func (f *fakeCache) Set(_ context.Context, key string, verdict *domain.ConsensusVerdict, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = *verdict
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	return nil
}

func (f *fakeCache) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]domain.ConsensusVerdict)
	return nil
}

// allowAllLimiter admits everything.
type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }

// denyAllLimiter rejects everything.
type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) bool { return false }

// nopMetrics discards all measurements.
type nopMetrics struct{}

func (nopMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (nopMetrics) RecordCounter(string, float64, map[string]string)       {}
func (nopMetrics) RecordGauge(string, float64, map[string]string)         {}
func (nopMetrics) RecordHistogram(string, float64, map[string]string)     {}

func sigLayer(confidence float64) *fakeLayer {
	return &fakeLayer{
		id: domain.LayerSignature,
		verdict: domain.LayerVerdict{
			LayerID:    domain.LayerSignature,
			Confidence: confidence,
			IsFlagged:  confidence >= 0.7,
		},
	}
}

func behLayer(confidence float64) *fakeLayer {
	return &fakeLayer{
		id: domain.LayerBehavioral,
		verdict: domain.LayerVerdict{
			LayerID:    domain.LayerBehavioral,
			Confidence: confidence,
			IsFlagged:  confidence >= 0.7,
		},
	}
}

func authLayer(confidence float64) *fakeLayer {
	return &fakeLayer{
		id: domain.LayerAuthorship,
		verdict: domain.LayerVerdict{
			LayerID:    domain.LayerAuthorship,
			Confidence: confidence,
			IsFlagged:  confidence >= 0.5,
		},
	}
}

func newTestCoordinator(t *testing.T, layers []ports.DetectionLayer, limiter ports.RateLimiter) (*Coordinator, *fakeCache) {
	t.Helper()
	cache := newFakeCache()
	coord, err := NewCoordinator(
		DefaultEngineConfig(), layers, cache, limiter, nopMetrics{}, zap.NewNop(),
	)
	require.NoError(t, err)
	return coord, cache
}

func mediumRequest(content string) *domain.DetectionRequest {
	return &domain.DetectionRequest{
		Content:  content,
		Metadata: domain.CommentMetadata{Author: "margaret", Score: 5},
		ClientID: "test-client",
		Priority: domain.PriorityMedium,
	}
}

func TestNewCoordinatorRequiresSignatureLayer(t *testing.T) {
	_, err := NewCoordinator(
		DefaultEngineConfig(),
		[]ports.DetectionLayer{behLayer(0.5)},
		newFakeCache(), allowAllLimiter{}, nopMetrics{}, zap.NewNop(),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature layer is required")
}

func TestCoordinatorRateLimitedBeforeLayers(t *testing.T) {
	sig := sigLayer(0.9)
	coord, _ := newTestCoordinator(t, []ports.DetectionLayer{sig}, denyAllLimiter{})

	result, err := coord.Execute(context.Background(), mediumRequest("some comment body"), Strategy{})
	require.NoError(t, err)
	assert.True(t, result.RateLimited)
	assert.Zero(t, sig.callCount(), "no layer may run for a rate-limited request")
}

func TestCoordinatorMediumRunsSignatureOnly(t *testing.T) {
	sig := sigLayer(0.4)
	beh := behLayer(0.8)
	auth := authLayer(0.8)
	coord, _ := newTestCoordinator(t, []ports.DetectionLayer{sig, beh, auth}, allowAllLimiter{})

	result, err := coord.Execute(context.Background(), mediumRequest("some comment body"),
		Strategy{RunBehavioral: true, RunAuthorship: true})
	require.NoError(t, err)

	assert.Contains(t, result.Verdicts, domain.LayerSignature)
	assert.NotContains(t, result.Verdicts, domain.LayerBehavioral)
	assert.NotContains(t, result.Verdicts, domain.LayerAuthorship)
	assert.Zero(t, beh.callCount())
	assert.Zero(t, auth.callCount())
}

func TestCoordinatorLowPriorityQuickScan(t *testing.T) {
	sig := sigLayer(0.4)
	coord, _ := newTestCoordinator(t, []ports.DetectionLayer{sig}, allowAllLimiter{})

	tests := []struct {
		name           string
		content        string
		wantConfidence float64
		wantFlagged    bool
	}{
		{
			name:           "well-known phrase hits",
			content:        "short. i am a bot.",
			wantConfidence: 0.9,
			wantFlagged:    true,
		},
		{
			name:           "benign short content misses",
			content:        "thanks, that worked!",
			wantConfidence: 0.1,
			wantFlagged:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mediumRequest(tt.content)
			req.Priority = domain.PriorityLow

			result, err := coord.Execute(context.Background(), req, Strategy{})
			require.NoError(t, err)

			require.Contains(t, result.Verdicts, domain.LayerRealtime)
			rt := result.Verdicts[domain.LayerRealtime]
			assert.InDelta(t, tt.wantConfidence, rt.Confidence, 1e-9)
			assert.Equal(t, tt.wantFlagged, rt.IsFlagged)
			assert.NotContains(t, result.Verdicts, domain.LayerSignature,
				"low priority must not instantiate layers")
		})
	}
	assert.Zero(t, sig.callCount())
}

func TestCoordinatorHighPriorityShortCircuit(t *testing.T) {
	sig := sigLayer(0.93)
	beh := behLayer(0.5)
	coord, _ := newTestCoordinator(t, []ports.DetectionLayer{sig, beh}, allowAllLimiter{})

	req := mediumRequest("some comment body")
	req.Priority = domain.PriorityHigh

	result, err := coord.Execute(context.Background(), req, Strategy{RunBehavioral: true})
	require.NoError(t, err)

	assert.Contains(t, result.Verdicts, domain.LayerSignature)
	assert.NotContains(t, result.Verdicts, domain.LayerBehavioral,
		"confident signature hit must short-circuit")
	assert.Zero(t, beh.callCount())
}

func TestCoordinatorHighPriorityBlend(t *testing.T) {
	sig := sigLayer(0.5)
	beh := behLayer(0.8)
	coord, _ := newTestCoordinator(t, []ports.DetectionLayer{sig, beh}, allowAllLimiter{})

	req := mediumRequest("some comment body")
	req.Priority = domain.PriorityHigh

	result, err := coord.Execute(context.Background(), req, Strategy{RunBehavioral: true})
	require.NoError(t, err)

	require.Contains(t, result.Verdicts, domain.LayerBehavioral)
	require.Contains(t, result.Verdicts, domain.LayerRealtime)
	blend := result.Verdicts[domain.LayerRealtime]
	assert.InDelta(t, 0.6*0.5+0.4*0.8, blend.Confidence, 1e-9)
}

func TestCoordinatorCriticalRunsAllRelevantLayers(t *testing.T) {
	sig := sigLayer(0.4)
	beh := behLayer(0.6)
	auth := authLayer(0.7)
	coord, _ := newTestCoordinator(t, []ports.DetectionLayer{sig, beh, auth}, allowAllLimiter{})

	req := mediumRequest("a longer comment body that merits every layer")
	req.Priority = domain.PriorityCritical

	result, err := coord.Execute(context.Background(), req,
		Strategy{RunBehavioral: true, RunAuthorship: true})
	require.NoError(t, err)

	assert.Contains(t, result.Verdicts, domain.LayerSignature)
	assert.Contains(t, result.Verdicts, domain.LayerBehavioral)
	assert.Contains(t, result.Verdicts, domain.LayerAuthorship)
	assert.Contains(t, result.Verdicts, domain.LayerRealtime)
}

func TestCoordinatorCriticalSkipsIrrelevantLayers(t *testing.T) {
	sig := sigLayer(0.4)
	beh := behLayer(0.6)
	auth := authLayer(0.7)
	coord, _ := newTestCoordinator(t, []ports.DetectionLayer{sig, beh, auth}, allowAllLimiter{})

	req := mediumRequest("short body")
	req.Priority = domain.PriorityCritical

	result, err := coord.Execute(context.Background(), req, Strategy{})
	require.NoError(t, err)

	assert.Contains(t, result.Verdicts, domain.LayerSignature)
	assert.NotContains(t, result.Verdicts, domain.LayerBehavioral)
	assert.NotContains(t, result.Verdicts, domain.LayerAuthorship)
}

func TestCoordinatorLayerFailureIsExcludedNotFatal(t *testing.T) {
	sig := sigLayer(0.4)
	failing := &fakeLayer{id: domain.LayerBehavioral, err: errors.New("boom")}
	coord, _ := newTestCoordinator(t, []ports.DetectionLayer{sig, failing}, allowAllLimiter{})

	req := mediumRequest("some comment body")
	req.Priority = domain.PriorityCritical

	result, err := coord.Execute(context.Background(), req, Strategy{RunBehavioral: true})
	require.NoError(t, err)

	assert.Contains(t, result.Verdicts, domain.LayerSignature)
	assert.NotContains(t, result.Verdicts, domain.LayerBehavioral)
}

func TestCoordinatorSoftTimeoutKeepsPartialResults(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.LayerTimeout = Duration(50 * time.Millisecond)

	sig := sigLayer(0.4)
	slow := &fakeLayer{
		id:      domain.LayerBehavioral,
		verdict: domain.LayerVerdict{LayerID: domain.LayerBehavioral, Confidence: 0.9},
		delay:   500 * time.Millisecond,
	}
	coord, err := NewCoordinator(cfg, []ports.DetectionLayer{sig, slow},
		newFakeCache(), allowAllLimiter{}, nopMetrics{}, zap.NewNop())
	require.NoError(t, err)

	req := mediumRequest("some comment body")
	req.Priority = domain.PriorityCritical

	start := time.Now()
	result, err := coord.Execute(context.Background(), req, Strategy{RunBehavioral: true})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 400*time.Millisecond,
		"a slow layer must not block delivery")
	assert.Contains(t, result.Verdicts, domain.LayerSignature)
	assert.NotContains(t, result.Verdicts, domain.LayerBehavioral,
		"a timed-out layer is excluded")
}

func TestCoordinatorServesCachedVerdict(t *testing.T) {
	sig := sigLayer(0.4)
	coord, cache := newTestCoordinator(t, []ports.DetectionLayer{sig}, allowAllLimiter{})

	req := mediumRequest("some comment body")
	key := CacheKey(req)
	cached := domain.ConsensusVerdict{ID: "cached-id", IsBot: true, Confidence: 0.9}
	require.NoError(t, cache.Set(context.Background(), key, &cached, time.Hour))

	result, err := coord.Execute(context.Background(), req, Strategy{})
	require.NoError(t, err)
	require.NotNil(t, result.CachedVerdict)
	assert.Equal(t, "cached-id", result.CachedVerdict.ID)
	assert.Zero(t, sig.callCount(), "cache hit must not run layers")
}

func TestCoordinatorCacheFailureDegradesToRecompute(t *testing.T) {
	sig := sigLayer(0.4)
	cache := newFakeCache()
	cache.getErr = errors.New("cache down")

	coord, err := NewCoordinator(DefaultEngineConfig(), []ports.DetectionLayer{sig},
		cache, allowAllLimiter{}, nopMetrics{}, zap.NewNop())
	require.NoError(t, err)

	result, err := coord.Execute(context.Background(), mediumRequest("some comment body"), Strategy{})
	require.NoError(t, err, "a cache outage must not fail the request")
	assert.Contains(t, result.Verdicts, domain.LayerSignature)
}

func TestCacheKeyDeterministicAndSensitive(t *testing.T) {
	a := mediumRequest("same content")
	b := mediumRequest("same content")
	assert.Equal(t, CacheKey(a), CacheKey(b), "identical content+metadata must share a key")

	b.History = []domain.HistoricalPost{{Text: "extra"}}
	b.Priority = domain.PriorityCritical
	assert.Equal(t, CacheKey(a), CacheKey(b), "history and priority do not participate in the key")

	c := mediumRequest("different content")
	assert.NotEqual(t, CacheKey(a), CacheKey(c))

	d := mediumRequest("same content")
	d.Metadata.Author = "someone-else"
	assert.NotEqual(t, CacheKey(a), CacheKey(d), "metadata participates in the key")
}
