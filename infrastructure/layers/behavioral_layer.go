package layers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/qaforge/botshield/internal/domain"
	"github.com/qaforge/botshield/internal/ports"
)

var _ ports.DetectionLayer = (*BehavioralLayer)(nil)

// qualityTierRisk maps a contributor quality tier to its base risk value.
var qualityTierRisk = map[domain.QualityTier]float64{
	domain.TierLowest:  0.95,
	domain.TierLow:     0.75,
	domain.TierMedium:  0.4,
	domain.TierHigh:    0.1,
	domain.TierHighest: 0.02,
}

// BehavioralWeights are the fixed weights of the eight behavioral
// metrics. They are hand-tuned against labeled traffic and must sum to
// exactly 1.0.
type BehavioralWeights struct {
	QualityRisk    float64 `yaml:"quality_risk" json:"quality_risk"`
	Timing         float64 `yaml:"timing" json:"timing"`
	Similarity     float64 `yaml:"similarity" json:"similarity"`
	Frequency      float64 `yaml:"frequency" json:"frequency"`
	Response       float64 `yaml:"response" json:"response"`
	Engagement     float64 `yaml:"engagement" json:"engagement"`
	Complexity     float64 `yaml:"complexity" json:"complexity"`
	AccountAge     float64 `yaml:"account_age" json:"account_age"`
}

// Sum returns the total weight mass.
func (w BehavioralWeights) Sum() float64 {
	return w.QualityRisk + w.Timing + w.Similarity + w.Frequency +
		w.Response + w.Engagement + w.Complexity + w.AccountAge
}

// DefaultBehavioralWeights returns the production metric weights.
func DefaultBehavioralWeights() BehavioralWeights {
	return BehavioralWeights{
		QualityRisk: 0.20,
		Timing:      0.18,
		Similarity:  0.15,
		Frequency:   0.12,
		Response:    0.12,
		Engagement:  0.10,
		Complexity:  0.08,
		AccountAge:  0.05,
	}
}

// BehavioralConfig controls the behavioral layer.
type BehavioralConfig struct {
	// FlagThreshold is the confidence at or above which the layer flags
	// the author as bot-like.
	FlagThreshold float64 `yaml:"flag_threshold" json:"flag_threshold" validate:"min=0,max=1"`

	// Weights are the per-metric weights; they must sum to 1.0.
	Weights BehavioralWeights `yaml:"weights" json:"weights"`
}

// DefaultBehavioralConfig returns the production behavioral configuration.
func DefaultBehavioralConfig() BehavioralConfig {
	return BehavioralConfig{
		FlagThreshold: 0.7,
		Weights:       DefaultBehavioralWeights(),
	}
}

// BehavioralLayer performs statistical analysis of an author's posting
// history. It computes eight independent metrics in [0,1] and combines
// them with fixed weights. Authors with fewer than two historical posts
// get a zero-confidence no-op verdict: there is nothing to measure.
//
// The layer is pure and thread-safe for concurrent execution.
type BehavioralLayer struct {
	config BehavioralConfig
	tracer trace.Tracer
}

// NewBehavioralLayer creates a BehavioralLayer with the given
// configuration. Returns an error if validation fails or the metric
// weights do not sum to 1.0.
func NewBehavioralLayer(config BehavioralConfig) (*BehavioralLayer, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if sum := config.Weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("behavioral weights must sum to 1.0, got %v", sum)
	}
	return &BehavioralLayer{
		config: config,
		tracer: otel.Tracer("behavioral-layer"),
	}, nil
}

// ID returns the stable identifier of the behavioral layer.
func (bl *BehavioralLayer) ID() string { return domain.LayerBehavioral }

// Validate checks that the layer configuration is usable.
func (bl *BehavioralLayer) Validate() error {
	if err := validate.Struct(bl.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if sum := bl.config.Weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("behavioral weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Analyze computes the weighted behavioral confidence for the request's
// posting history.
func (bl *BehavioralLayer) Analyze(ctx context.Context, req *domain.DetectionRequest) (domain.LayerVerdict, error) {
	_, span := bl.tracer.Start(ctx, "BehavioralLayer.Analyze",
		trace.WithAttributes(attribute.String("layer.id", bl.ID())),
	)
	defer span.End()

	if req == nil {
		return domain.LayerVerdict{}, ErrNilRequest
	}

	verdict := domain.LayerVerdict{LayerID: bl.ID()}
	if len(req.History) < 2 {
		verdict.Indicators = []string{"insufficient posting history"}
		span.SetAttributes(attribute.Bool("layer.skipped", true))
		return verdict, nil
	}

	w := bl.config.Weights
	metrics := []struct {
		name   string
		weight float64
		score  float64
	}{
		{"contributor quality risk", w.QualityRisk, qualityRiskScore(req.Profile)},
		{"timing regularity", w.Timing, bl.timingScore(req.History)},
		{"content similarity", w.Similarity, similarityScore(req.History)},
		{"posting frequency", w.Frequency, frequencyScore(req.History)},
		{"response consistency", w.Response, responseConsistencyScore(req.History)},
		{"engagement pattern", w.Engagement, engagementScore(req.History)},
		{"language complexity", w.Complexity, complexityScore(req.History)},
		{"account age", w.AccountAge, accountAgeScore(req.Profile)},
	}

	var confidence float64
	dominant, dominantMass := "", -1.0
	for _, m := range metrics {
		mass := m.weight * m.score
		confidence += mass
		if mass > dominantMass {
			dominant, dominantMass = m.name, mass
		}
		verdict.Indicators = append(verdict.Indicators,
			fmt.Sprintf("%s: %.2f", m.name, m.score))
	}
	verdict.Indicators = append(verdict.Indicators, "dominant signal: "+dominant)

	verdict.Confidence = domain.ClampConfidence(confidence)
	verdict.IsFlagged = verdict.Confidence >= bl.config.FlagThreshold

	span.SetAttributes(
		attribute.Float64("layer.confidence", verdict.Confidence),
		attribute.Bool("layer.flagged", verdict.IsFlagged),
		attribute.Int("history.posts", len(req.History)),
	)
	return verdict, nil
}

// qualityRiskScore maps the contributor quality tier to a fixed risk
// value and nudges it upward for implausible karma shapes. A missing
// profile is treated as medium-risk.
func qualityRiskScore(p *domain.UserProfile) float64 {
	if p == nil {
		return 0.5
	}
	risk, ok := qualityTierRisk[p.QualityTier]
	if !ok {
		risk = 0.5
	}

	total := p.LinkKarma + p.CommentKarma
	// All-post or all-comment accounts at volume are a farming pattern.
	if total > 500 && (p.LinkKarma == 0 || p.CommentKarma == 0) {
		risk += 0.1
	}
	// An old account that never accumulated karma is dormant-then-sold.
	if p.AccountAgeDays > 365 && total < 100 {
		risk += 0.15
	}
	return domain.ClampConfidence(risk)
}

// timingScore measures how mechanical the author's posting cadence is,
// using the coefficient of variation of inter-post gaps.
func (bl *BehavioralLayer) timingScore(history []domain.HistoricalPost) float64 {
	times := make([]time.Time, 0, len(history))
	for _, post := range history {
		if !post.CreatedAt.IsZero() {
			times = append(times, post.CreatedAt)
		}
	}
	if len(times) < 3 {
		return 0.5
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i].Sub(times[i-1]).Seconds())
	}
	return timingScoreFromCV(coefficientOfVariation(intervals))
}

// timingScoreFromCV maps a coefficient of variation to a regularity
// score. Humans post irregularly; a CV near zero means clockwork.
// An infinite CV comes from a zero mean gap (all posts at the same
// instant), the most mechanical pattern of all.
func timingScoreFromCV(cv float64) float64 {
	switch {
	case math.IsInf(cv, 1):
		return 1.0
	case cv < 0.1:
		return 0.9
	case cv < 0.3:
		return 0.7
	case cv < 0.5:
		return 0.4
	default:
		return 0.1
	}
}

// similarityScore measures near-duplicate content across the history
// using pairwise character-trigram Jaccard similarity.
func similarityScore(history []domain.HistoricalPost) float64 {
	var sims []float64
	for i := 0; i < len(history); i++ {
		for j := i + 1; j < len(history); j++ {
			sims = append(sims, trigramJaccard(history[i].Text, history[j].Text))
		}
	}
	if len(sims) == 0 {
		return 0
	}
	maxSim := 0.0
	for _, s := range sims {
		if s > maxSim {
			maxSim = s
		}
	}
	return 0.6*mean(sims) + 0.4*maxSim
}

// frequencyScore buckets posts into wall-clock hours and scores burst
// volume.
func frequencyScore(history []domain.HistoricalPost) float64 {
	buckets := make(map[time.Time]int)
	for _, post := range history {
		if post.CreatedAt.IsZero() {
			continue
		}
		buckets[post.CreatedAt.Truncate(time.Hour)]++
	}
	if len(buckets) == 0 {
		return 0.1
	}

	maxPerHour, total := 0, 0
	for _, n := range buckets {
		total += n
		if n > maxPerHour {
			maxPerHour = n
		}
	}
	avgPerHour := float64(total) / float64(len(buckets))

	switch {
	case maxPerHour > 20:
		return 0.9
	case maxPerHour > 10:
		return 0.7
	case avgPerHour > 5:
		return 0.6
	default:
		return 0.1
	}
}

// responseConsistencyScore measures how uniform the author's response
// lengths and pacing are. Humans vary; templates do not.
func responseConsistencyScore(history []domain.HistoricalPost) float64 {
	lengths := make([]float64, 0, len(history))
	for _, post := range history {
		lengths = append(lengths, float64(len(post.Text)))
	}
	lengthCV := coefficientOfVariation(lengths)

	times := make([]time.Time, 0, len(history))
	for _, post := range history {
		if !post.CreatedAt.IsZero() {
			times = append(times, post.CreatedAt)
		}
	}
	gapCV := math.Inf(1)
	if len(times) >= 3 {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		gaps := make([]float64, 0, len(times)-1)
		for i := 1; i < len(times); i++ {
			gaps = append(gaps, times[i].Sub(times[i-1]).Seconds())
		}
		gapCV = coefficientOfVariation(gaps)
	}

	uniformLengths := !math.IsNaN(lengthCV) && (math.IsInf(lengthCV, 1) || lengthCV < 0.2)
	uniformGaps := math.IsInf(gapCV, 1) || gapCV < 0.3

	switch {
	case uniformLengths && uniformGaps:
		return 0.9
	case uniformLengths:
		return 0.6
	case !math.IsInf(lengthCV, 1) && lengthCV < 0.5:
		return 0.4
	default:
		return 0.1
	}
}

// engagementScore looks for the flat, ignored-content footprint bots
// leave: low scores, low upvote ratios, and no variance in either.
func engagementScore(history []domain.HistoricalPost) float64 {
	scores := make([]float64, 0, len(history))
	ratios := make([]float64, 0, len(history))
	for _, post := range history {
		scores = append(scores, float64(post.Score))
		ratios = append(ratios, post.UpvoteRatio)
	}

	score := 0.1
	if len(history) >= 5 && mean(scores) < 2 {
		score += 0.3
	}
	if mean(ratios) < 0.5 {
		score += 0.3
	}
	if len(history) >= 3 && variance(ratios) < 0.01 {
		score += 0.2
	}
	return domain.ClampConfidence(score)
}

// Normal bands for human-authored text. Values outside these ranges
// across an entire history suggest generated content.
const (
	minNormalWordLen  = 3.5
	maxNormalWordLen  = 6.5
	minNormalRichness = 0.4
	maxNormalRichness = 0.9
)

// complexityScore measures deviation of the history's language
// statistics from normal human bands.
func complexityScore(history []domain.HistoricalPost) float64 {
	var allTokens []string
	var sentenceLens []float64
	punctVariety := 0
	for _, post := range history {
		allTokens = append(allTokens, words(post.Text)...)
		for _, s := range splitSentences(post.Text) {
			sentenceLens = append(sentenceLens, float64(len(words(s))))
		}
		if v := punctuationVariety(post.Text); v > punctVariety {
			punctVariety = v
		}
	}
	if len(allTokens) == 0 {
		return 0.5
	}

	var totalLen int
	for _, tok := range allTokens {
		totalLen += len([]rune(tok))
	}
	avgWordLen := float64(totalLen) / float64(len(allTokens))
	richness := vocabularyRichness(allTokens)

	score := 0.1
	if avgWordLen < minNormalWordLen || avgWordLen > maxNormalWordLen {
		score += 0.2
	}
	if richness < minNormalRichness || richness > maxNormalRichness {
		score += 0.2
	}
	if punctVariety < 2 {
		score += 0.2
	}
	if len(sentenceLens) >= 3 && variance(sentenceLens) < 1.0 {
		score += 0.2
	}
	return domain.ClampConfidence(score)
}

// accountAgeScore scores account freshness. A missing profile reads as
// an established account.
func accountAgeScore(p *domain.UserProfile) float64 {
	if p == nil {
		return 0.1
	}
	switch {
	case p.AccountAgeDays < 1:
		return 0.8
	case p.AccountAgeDays < 7:
		return 0.6
	case p.AccountAgeDays < 30:
		return 0.3
	default:
		return 0.1
	}
}
