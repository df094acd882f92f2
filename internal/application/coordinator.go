package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/qaforge/botshield/internal/domain"
	"github.com/qaforge/botshield/internal/ports"
)

// quickScanPhrases is the constant-time phrase list used for low-priority
// traffic. A hit is near-certain automation; a miss says very little.
var quickScanPhrases = []string{
	"i am a bot",
	"automoderator",
	"this action was performed automatically",
	"contact the moderators",
	"your post was submitted successfully",
}

// Quick-scan confidences for low-priority traffic.
const (
	quickScanHitConfidence  = 0.9
	quickScanMissConfidence = 0.1
)

// Strategy tells the coordinator which optional layers are relevant for
// a request. The signature layer always runs (except at low priority).
type Strategy struct {
	// RunBehavioral is set when the request carries enough history for
	// the behavioral layer to say anything.
	RunBehavioral bool

	// RunAuthorship is set when the content is long enough for
	// stylometry.
	RunAuthorship bool
}

// ExecutionResult is the coordinator's output for one request: either a
// cached verdict, a rate-limit denial, or the per-layer verdicts to fuse.
type ExecutionResult struct {
	// CachedVerdict is non-nil when the request was served from cache.
	CachedVerdict *domain.ConsensusVerdict

	// RateLimited is set when the client is over quota; no layer ran.
	RateLimited bool

	// Verdicts maps layer ID to that layer's opinion. Failed or
	// timed-out layers are absent.
	Verdicts map[string]domain.LayerVerdict

	// LayerDurations maps layer ID to execution milliseconds.
	LayerDurations map[string]float64

	// CacheKey is where the fused verdict should be stored.
	CacheKey string
}

// Coordinator executes the detection layers for a request according to
// its priority, consulting the rate limiter and verdict cache first.
// Identical concurrent requests are collapsed into one layer execution.
type Coordinator struct {
	layers  map[string]ports.DetectionLayer
	cache   ports.CacheStore
	limiter ports.RateLimiter
	metrics ports.MetricsCollector
	logger  *zap.Logger

	cacheTTL     time.Duration
	layerTimeout time.Duration
	shortCircuit float64

	group singleflight.Group
}

// NewCoordinator creates a Coordinator over the given layers and
// infrastructure. The cache, limiter, and metrics may not be nil; use
// no-op implementations to disable a concern.
func NewCoordinator(
	config EngineConfig,
	layers []ports.DetectionLayer,
	cache ports.CacheStore,
	limiter ports.RateLimiter,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*Coordinator, error) {
	if cache == nil || limiter == nil || metrics == nil {
		return nil, fmt.Errorf("cache, limiter, and metrics are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	byID := make(map[string]ports.DetectionLayer, len(layers))
	for _, layer := range layers {
		if layer == nil {
			return nil, fmt.Errorf("nil detection layer")
		}
		if err := layer.Validate(); err != nil {
			return nil, fmt.Errorf("layer %q: %w", layer.ID(), err)
		}
		byID[layer.ID()] = layer
	}
	if _, ok := byID[domain.LayerSignature]; !ok {
		return nil, fmt.Errorf("signature layer is required")
	}

	return &Coordinator{
		layers:       byID,
		cache:        cache,
		limiter:      limiter,
		metrics:      metrics,
		logger:       logger,
		cacheTTL:     config.CacheTTL.Std(),
		layerTimeout: config.LayerTimeout.Std(),
		shortCircuit: config.Thresholds.SignatureShortCircuit,
	}, nil
}

// ActiveLayers returns the IDs of the configured detection layers.
func (c *Coordinator) ActiveLayers() []string {
	ids := make([]string, 0, len(c.layers))
	for id := range c.layers {
		ids = append(ids, id)
	}
	return ids
}

// CacheKey derives the cache key for a request from its content and
// metadata. History and priority do not participate: the same comment
// seen twice gets the same verdict.
func CacheKey(req *domain.DetectionRequest) string {
	payload, err := json.Marshal(struct {
		Content  string                 `json:"content"`
		Metadata domain.CommentMetadata `json:"metadata"`
	}{req.Content, req.Metadata})
	if err != nil {
		// Marshaling a plain struct of strings and times cannot fail;
		// fall back to the raw content to stay deterministic.
		payload = []byte(req.Content)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Execute runs the detection pipeline for one request. The rate limiter
// is consulted first, then the cache; only then do layers run.
func (c *Coordinator) Execute(ctx context.Context, req *domain.DetectionRequest, strategy Strategy) (*ExecutionResult, error) {
	if req == nil {
		return nil, domain.ErrInvalidInput
	}

	if !c.limiter.Allow(req.ClientID) {
		c.metrics.RecordCounter("rate_limit_denials", 1, nil)
		c.logger.Debug("rate limited", zap.String("client_id", req.ClientID))
		return &ExecutionResult{RateLimited: true}, nil
	}

	key := CacheKey(req)
	if cached, hit, err := c.cache.Get(ctx, key); err != nil {
		// A cache failure degrades to recompute, never to an error.
		c.metrics.RecordCounter("cache_errors", 1, nil)
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if hit {
		c.metrics.RecordCounter("cache_hits", 1, nil)
		return &ExecutionResult{CachedVerdict: cached, CacheKey: key}, nil
	}
	c.metrics.RecordCounter("cache_misses", 1, nil)

	type layerRun struct {
		verdicts  map[string]domain.LayerVerdict
		durations map[string]float64
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		verdicts, durations := c.runForPriority(ctx, req, strategy)
		return layerRun{verdicts: verdicts, durations: durations}, nil
	})
	if err != nil {
		return nil, err
	}
	run := v.(layerRun)

	return &ExecutionResult{
		Verdicts:       run.verdicts,
		LayerDurations: run.durations,
		CacheKey:       key,
	}, nil
}

// Store writes a fused verdict into the cache. Failures are logged and
// swallowed; caching is best-effort.
func (c *Coordinator) Store(ctx context.Context, key string, verdict *domain.ConsensusVerdict) {
	if key == "" || verdict == nil {
		return
	}
	if err := c.cache.Set(ctx, key, verdict, c.cacheTTL); err != nil {
		c.metrics.RecordCounter("cache_errors", 1, nil)
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Coordinator) runForPriority(ctx context.Context, req *domain.DetectionRequest, strategy Strategy) (map[string]domain.LayerVerdict, map[string]float64) {
	switch req.Priority {
	case domain.PriorityLow:
		verdict, dur := c.quickScan(req)
		return map[string]domain.LayerVerdict{domain.LayerRealtime: verdict},
			map[string]float64{domain.LayerRealtime: dur}

	case domain.PriorityHigh:
		return c.runHigh(ctx, req, strategy)

	case domain.PriorityCritical:
		return c.runCritical(ctx, req, strategy)

	default: // medium
		return c.runLayers(ctx, req, []string{domain.LayerSignature})
	}
}

// quickScan is the constant-time substring check for low-value traffic.
// No layer objects are involved.
func (c *Coordinator) quickScan(req *domain.DetectionRequest) (domain.LayerVerdict, float64) {
	start := time.Now()
	haystack := strings.ToLower(req.Content + " " + req.Metadata.Author)

	verdict := domain.LayerVerdict{
		LayerID:    domain.LayerRealtime,
		Confidence: quickScanMissConfidence,
	}
	for _, phrase := range quickScanPhrases {
		if strings.Contains(haystack, phrase) {
			verdict.Confidence = quickScanHitConfidence
			verdict.IsFlagged = true
			verdict.Indicators = append(verdict.Indicators, "well-known phrase: "+phrase)
			break
		}
	}
	return verdict, float64(time.Since(start).Microseconds()) / 1000.0
}

// runHigh executes signature first and short-circuits on a confident
// hit; otherwise the behavioral layer joins and a 0.6/0.4 blend is
// published as the realtime opinion.
func (c *Coordinator) runHigh(ctx context.Context, req *domain.DetectionRequest, strategy Strategy) (map[string]domain.LayerVerdict, map[string]float64) {
	verdicts, durations := c.runLayers(ctx, req, []string{domain.LayerSignature})

	sig, ok := verdicts[domain.LayerSignature]
	if ok && sig.Confidence >= c.shortCircuit {
		return verdicts, durations
	}

	if strategy.RunBehavioral {
		more, moreDur := c.runLayers(ctx, req, []string{domain.LayerBehavioral})
		for id, v := range more {
			verdicts[id] = v
		}
		for id, d := range moreDur {
			durations[id] = d
		}
	}

	if ok {
		blend := 0.6 * sig.Confidence
		if beh, has := verdicts[domain.LayerBehavioral]; has {
			blend += 0.4 * beh.Confidence
		}
		verdicts[domain.LayerRealtime] = domain.LayerVerdict{
			LayerID:    domain.LayerRealtime,
			Confidence: domain.ClampConfidence(blend),
			IsFlagged:  blend >= 0.7,
			Indicators: []string{"signature/behavioral blend"},
		}
		durations[domain.LayerRealtime] = 0
	}
	return verdicts, durations
}

// runCritical executes every relevant layer concurrently and adds the
// quick-scan verdict as the realtime opinion.
func (c *Coordinator) runCritical(ctx context.Context, req *domain.DetectionRequest, strategy Strategy) (map[string]domain.LayerVerdict, map[string]float64) {
	ids := []string{domain.LayerSignature}
	if strategy.RunBehavioral {
		ids = append(ids, domain.LayerBehavioral)
	}
	if strategy.RunAuthorship {
		ids = append(ids, domain.LayerAuthorship)
	}

	verdicts, durations := c.runLayers(ctx, req, ids)

	realtime, dur := c.quickScan(req)
	verdicts[domain.LayerRealtime] = realtime
	durations[domain.LayerRealtime] = dur
	return verdicts, durations
}

type layerResult struct {
	id      string
	verdict domain.LayerVerdict
	err     error
	ms      float64
}

// runLayers executes the named layers concurrently with gather
// semantics: every successful verdict is collected, failures are logged
// and excluded, and the soft timeout abandons layers still running.
func (c *Coordinator) runLayers(ctx context.Context, req *domain.DetectionRequest, ids []string) (map[string]domain.LayerVerdict, map[string]float64) {
	results := make(chan layerResult, len(ids))
	launched := 0
	for _, id := range ids {
		layer, ok := c.layers[id]
		if !ok {
			continue
		}
		launched++
		go func(id string, layer ports.DetectionLayer) {
			start := time.Now()
			verdict, err := layer.Analyze(ctx, req)
			results <- layerResult{
				id:      id,
				verdict: verdict,
				err:     err,
				ms:      float64(time.Since(start).Microseconds()) / 1000.0,
			}
		}(id, layer)
	}

	verdicts := make(map[string]domain.LayerVerdict, launched)
	durations := make(map[string]float64, launched)

	var timeout <-chan time.Time
	if c.layerTimeout > 0 {
		timer := time.NewTimer(c.layerTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for received := 0; received < launched; received++ {
		select {
		case res := <-results:
			durations[res.id] = res.ms
			if res.err != nil {
				c.metrics.RecordCounter("layer_errors", 1, map[string]string{"layer": res.id})
				c.logger.Warn("layer execution failed",
					zap.String("layer", res.id),
					zap.Error(res.err),
				)
				continue
			}
			c.metrics.RecordLatency("layer_execution",
				time.Duration(res.ms*float64(time.Millisecond)),
				map[string]string{"layer": res.id},
			)
			verdicts[res.id] = res.verdict

		case <-timeout:
			// Completed layers are kept; the rest are excluded.
			c.logger.Warn("layer execution timed out",
				zap.Duration("timeout", c.layerTimeout),
				zap.Int("completed", received),
				zap.Int("launched", launched),
			)
			return verdicts, durations

		case <-ctx.Done():
			// Caller gone: stop waiting, keep what finished.
			return verdicts, durations
		}
	}
	return verdicts, durations
}
