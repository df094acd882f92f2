package application

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qaforge/botshield/internal/domain"
	"github.com/qaforge/botshield/internal/ports"
)

// Content-length boundaries for priority escalation.
const (
	lowPriorityMaxLen  = 50
	highPriorityMinLen = 500
)

// moderatorMarkers escalate a request straight to critical priority:
// moderation boilerplate must never be waved through by a cheap scan.
var moderatorMarkers = []string{
	"i am a bot",
	"this action was performed automatically",
	"contact the moderators",
}

// priorityRank orders priorities for escalation comparisons.
var priorityRank = map[domain.Priority]int{
	domain.PriorityLow:      0,
	domain.PriorityMedium:   1,
	domain.PriorityHigh:     2,
	domain.PriorityCritical: 3,
}

// SystemStatus is the observability snapshot consumed by the
// surrounding pipeline's dashboard.
type SystemStatus struct {
	ActiveLayers         []string                        `json:"active_layers"`
	ClassificationCounts map[domain.Classification]int64 `json:"classification_counts"`
	AverageLatencyMs     float64                         `json:"average_latency_ms"`
	LayerWeights         FusionWeights                   `json:"layer_weights"`
	Thresholds           Thresholds                      `json:"thresholds"`
}

// AccuracyReport summarizes classification outcome rates.
type AccuracyReport struct {
	InstantBlockRate      float64 `json:"instant_block_rate"`
	ConsensusBlockRate    float64 `json:"consensus_block_rate"`
	HumanVerificationRate float64 `json:"human_verification_rate"`
	UncertainRate         float64 `json:"uncertain_rate"`
	AvgProcessingTimeMs   float64 `json:"avg_processing_time_ms"`
	P95ProcessingTimeMs   float64 `json:"p95_processing_time_ms"`
	P99ProcessingTimeMs   float64 `json:"p99_processing_time_ms"`
}

// ConsensusEngine fuses per-layer opinions into one decision with a risk
// rating and recommendation. It never returns an error for well-formed
// input: layer failures, rate limiting, and cache outages all degrade to
// a verdict instead.
type ConsensusEngine struct {
	config      EngineConfig
	coordinator *Coordinator
	metrics     ports.MetricsCollector
	logger      *zap.Logger
	stats       *engineStats

	// now and newID are replaceable in tests.
	now   func() time.Time
	newID func() string
}

// NewConsensusEngine creates a ConsensusEngine over the given
// coordinator.
func NewConsensusEngine(
	config EngineConfig,
	coordinator *Coordinator,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*ConsensusEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if coordinator == nil {
		return nil, domain.ErrInvalidConfiguration
	}
	if metrics == nil {
		return nil, domain.ErrInvalidConfiguration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsensusEngine{
		config:      config,
		coordinator: coordinator,
		metrics:     metrics,
		logger:      logger,
		stats:       newEngineStats(),
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}, nil
}

// Classify runs the detection pipeline for one request and returns the
// consensus verdict. The only error conditions are programming-contract
// violations (nil request, malformed priority); every runtime failure
// degrades to a verdict.
func (e *ConsensusEngine) Classify(ctx context.Context, req *domain.DetectionRequest) (*domain.ConsensusVerdict, error) {
	start := e.now()

	if req == nil {
		return nil, domain.ErrInvalidInput
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return nil, domain.ErrInvalidPriority
	}

	// Empty bodies are a common bot artifact; decide without layer work.
	if strings.TrimSpace(req.Content) == "" {
		verdict := e.degenerateVerdict(domain.ClassUncertain, true,
			e.config.Thresholds.BehavioralBlock, "empty content", start)
		e.finish(ctx, "", verdict, start)
		return verdict, nil
	}

	prepared := *req
	prepared.Priority = e.escalatePriority(req)
	strategy := Strategy{
		RunBehavioral: len(req.History) >= 2,
		RunAuthorship: len(req.Content) > lowPriorityMaxLen,
	}

	result, err := e.coordinator.Execute(ctx, &prepared, strategy)
	if err != nil {
		return nil, err
	}

	switch {
	case result.RateLimited:
		verdict := e.degenerateVerdict(domain.ClassUncertain, false, 0, "rate limited", start)
		// Rate-limited pseudo-verdicts are not cached.
		e.finish(ctx, "", verdict, start)
		return verdict, nil

	case result.CachedVerdict != nil:
		verdict := result.CachedVerdict
		verdict.CacheHit = true
		verdict.Timing.TotalMs = msSince(e.now(), start)
		e.logger.Debug("served from cache", zap.String("verdict_id", verdict.ID))
		return verdict, nil

	case len(result.Verdicts) == 0:
		verdict := e.degenerateVerdict(domain.ClassUncertain, false, 0, "all detection layers failed", start)
		e.finish(ctx, "", verdict, start)
		return verdict, nil
	}

	verdict := e.fuse(result.Verdicts)
	verdict.ID = e.newID()
	verdict.Timestamp = e.now()
	verdict.Timing = domain.Timing{
		TotalMs:    msSince(e.now(), start),
		PerLayerMs: result.LayerDurations,
	}

	e.coordinator.Store(ctx, result.CacheKey, verdict)
	e.finish(ctx, result.CacheKey, verdict, start)
	return verdict, nil
}

// escalatePriority derives the effective priority from the content and
// the caller's request, taking whichever is more thorough.
func (e *ConsensusEngine) escalatePriority(req *domain.DetectionRequest) domain.Priority {
	derived := domain.PriorityMedium
	folded := strings.ToLower(req.Content)
	switch {
	case containsAnyMarker(folded):
		derived = domain.PriorityCritical
	case len(req.Content) > highPriorityMinLen:
		derived = domain.PriorityHigh
	case len(req.Content) < lowPriorityMaxLen:
		derived = domain.PriorityLow
	}

	if req.Priority.Valid() && priorityRank[req.Priority] > priorityRank[derived] {
		return req.Priority
	}
	return derived
}

func containsAnyMarker(folded string) bool {
	for _, marker := range moderatorMarkers {
		if strings.Contains(folded, marker) {
			return true
		}
	}
	return false
}

// fuse computes the weighted consensus over the executed layers.
func (e *ConsensusEngine) fuse(verdicts map[string]domain.LayerVerdict) *domain.ConsensusVerdict {
	th := e.config.Thresholds

	// A single decisive layer overrides the weighted consensus.
	var instant *domain.LayerVerdict
	for id := range verdicts {
		v := verdicts[id]
		if v.Confidence >= th.InstantBlock && (instant == nil || v.Confidence > instant.Confidence) {
			instant = &v
		}
	}

	var weightSum, scoreSum, botVotes, humanVotes float64
	allFlagged := true
	var indicators []string
	for id, v := range verdicts {
		w := e.config.Weights.ForLayer(id)
		if w == 0 {
			continue
		}
		weightSum += w
		scoreSum += w * v.Confidence
		if v.IsFlagged {
			botVotes += w
		} else {
			humanVotes += w
			allFlagged = false
		}
		indicators = append(indicators, v.Indicators...)
	}

	var consensus float64
	if weightSum > 0 {
		consensus = scoreSum / weightSum
	}
	consensus = domain.ClampConfidence(consensus)

	verdict := &domain.ConsensusVerdict{
		LayerVerdicts:  verdicts,
		ConsensusScore: consensus,
		Confidence:     consensus,
	}

	switch {
	case instant != nil:
		verdict.Classification = domain.ClassInstantBlock
		verdict.Confidence = instant.Confidence
		verdict.IsBot = true

	case consensus >= th.ConsensusBlock:
		if botVotes >= humanVotes {
			verdict.Classification = domain.ClassConsensusBlock
		} else {
			verdict.Classification = domain.ClassHumanVerified
		}
		verdict.IsBot = true

	case consensus >= th.BehavioralBlock:
		switch {
		case botVotes >= humanVotes && allFlagged && len(verdicts) >= 2:
			verdict.Classification = domain.ClassSophisticatedBlock
		case botVotes >= humanVotes:
			verdict.Classification = domain.ClassBehavioralBlock
		default:
			verdict.Classification = domain.ClassHumanLikely
		}
		verdict.IsBot = true

	default:
		verdict.Classification = domain.ClassUncertain
		verdict.IsBot = false
	}

	verdict.BotType = domain.ClassifyBotType(verdict.IsBot, indicators)
	verdict.RiskLabel = domain.RiskLabel(verdict.Classification, verdict.Confidence)
	verdict.Recommendation = domain.Recommendation(verdict.IsBot, verdict.Confidence)
	return verdict
}

// degenerateVerdict builds the fixed verdicts for empty content, rate
// limiting, and total layer failure.
func (e *ConsensusEngine) degenerateVerdict(
	classification domain.Classification,
	isBot bool,
	confidence float64,
	reasoning string,
	start time.Time,
) *domain.ConsensusVerdict {
	verdict := &domain.ConsensusVerdict{
		ID:             e.newID(),
		IsBot:          isBot,
		Confidence:     domain.ClampConfidence(confidence),
		Classification: classification,
		BotType:        domain.BotTypeHuman,
		Reasoning:      reasoning,
		Timestamp:      e.now(),
	}
	if isBot {
		verdict.BotType = domain.BotTypeSophisticated
	}
	verdict.RiskLabel = domain.RiskLabel(classification, verdict.Confidence)
	verdict.Recommendation = domain.Recommendation(isBot, verdict.Confidence)
	verdict.Timing.TotalMs = msSince(e.now(), start)
	return verdict
}

// finish records stats, metrics, and the decision log line.
func (e *ConsensusEngine) finish(_ context.Context, cacheKey string, verdict *domain.ConsensusVerdict, start time.Time) {
	latency := msSince(e.now(), start)
	e.stats.record(verdict.Classification, latency)

	e.metrics.RecordCounter("classifications", 1, map[string]string{
		"classification": string(verdict.Classification),
		"is_bot":         boolLabel(verdict.IsBot),
	})
	e.metrics.RecordHistogram("consensus_score", verdict.ConsensusScore, nil)
	e.metrics.RecordLatency("classify", time.Duration(latency*float64(time.Millisecond)), nil)

	e.logger.Info("classified",
		zap.String("verdict_id", verdict.ID),
		zap.String("classification", string(verdict.Classification)),
		zap.Bool("is_bot", verdict.IsBot),
		zap.Float64("confidence", verdict.Confidence),
		zap.Float64("latency_ms", latency),
		zap.String("cache_key", cacheKey),
	)
}

// GetSystemStatus returns the engine's observability snapshot.
func (e *ConsensusEngine) GetSystemStatus() SystemStatus {
	_, avg, counts := e.stats.snapshot()
	return SystemStatus{
		ActiveLayers:         e.coordinator.ActiveLayers(),
		ClassificationCounts: counts,
		AverageLatencyMs:     avg,
		LayerWeights:         e.config.Weights,
		Thresholds:           e.config.Thresholds,
	}
}

// GetAccuracyReport returns classification outcome rates over the
// engine's lifetime.
func (e *ConsensusEngine) GetAccuracyReport() AccuracyReport {
	total, avg, counts := e.stats.snapshot()
	p95, p99 := e.stats.percentiles()

	report := AccuracyReport{
		AvgProcessingTimeMs: avg,
		P95ProcessingTimeMs: p95,
		P99ProcessingTimeMs: p99,
	}
	if total == 0 {
		return report
	}

	n := float64(total)
	report.InstantBlockRate = float64(counts[domain.ClassInstantBlock]) / n
	report.ConsensusBlockRate = float64(counts[domain.ClassConsensusBlock]) / n
	report.HumanVerificationRate = float64(counts[domain.ClassHumanVerified]+counts[domain.ClassHumanLikely]) / n
	report.UncertainRate = float64(counts[domain.ClassUncertain]) / n
	return report
}

func msSince(now, start time.Time) float64 {
	return float64(now.Sub(start).Microseconds()) / 1000.0
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
