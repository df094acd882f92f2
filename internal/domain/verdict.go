package domain

import (
	"strings"
	"time"
)

// Layer identifiers used across verdicts, fusion weights, and metrics.
const (
	// LayerSignature is the stateless pattern/metadata layer.
	LayerSignature = "signature"

	// LayerBehavioral is the posting-history statistics layer.
	LayerBehavioral = "behavioral"

	// LayerAuthorship is the AI-authorship heuristics layer.
	LayerAuthorship = "authorship"

	// LayerRealtime is the coordinator's own constant-time opinion,
	// derived from the well-known-phrase scan or the high-priority blend.
	LayerRealtime = "realtime"
)

// LayerVerdict is one detection layer's opinion about a single request.
// A verdict is produced once per layer per request and never mutated.
type LayerVerdict struct {
	// LayerID identifies the layer that produced this verdict.
	LayerID string `json:"layer_id"`

	// IsFlagged reports whether the layer's confidence crossed its own
	// flag threshold.
	IsFlagged bool `json:"is_flagged"`

	// Confidence is the layer's bot probability, clamped to [0,1].
	Confidence float64 `json:"confidence"`

	// Indicators lists the human-readable signals that fired.
	Indicators []string `json:"indicators,omitempty"`

	// Err records a layer execution failure. A failed layer is excluded
	// from consensus; it never aborts the request.
	Err error `json:"-"`
}

// Classification is the consensus engine's decision category.
type Classification string

// Decision categories, strongest bot signal first.
const (
	// ClassInstantBlock means a single layer was confident enough
	// (>= 0.95) to override the weighted consensus.
	ClassInstantBlock Classification = "instant_block"

	// ClassConsensusBlock means the weighted consensus reached the high
	// band (>= 0.85) with a bot vote majority.
	ClassConsensusBlock Classification = "consensus_block"

	// ClassBehavioralBlock means the consensus reached the medium band
	// (>= 0.70) with a bot vote majority.
	ClassBehavioralBlock Classification = "behavioral_block"

	// ClassSophisticatedBlock means every executed layer flagged the
	// content despite no single layer being individually decisive.
	ClassSophisticatedBlock Classification = "sophisticated_block"

	// ClassHumanVerified means the high band was reached with a human
	// vote majority.
	ClassHumanVerified Classification = "human_verified"

	// ClassHumanLikely means the medium band was reached with a human
	// vote majority.
	ClassHumanLikely Classification = "human_likely"

	// ClassUncertain covers mixed or weak signals, rate-limited requests,
	// and total layer failure.
	ClassUncertain Classification = "uncertain"
)

// BotTypeKind is the closed set of bot categories derived from indicator
// text. It is reporting-only: the boolean decision path never consults it.
type BotTypeKind string

// Bot categories recognized by the indicator classifier.
const (
	BotTypeModerator     BotTypeKind = "moderator"
	BotTypeSpam          BotTypeKind = "spam"
	BotTypeAutoResponse  BotTypeKind = "auto_response"
	BotTypeSophisticated BotTypeKind = "sophisticated"
	BotTypeHuman         BotTypeKind = "human"
)

// ClassifyBotType derives a bot category from the indicators collected
// across layers. Moderator signals win over spam, spam over auto-response;
// anything flagged without a recognizable family is sophisticated.
func ClassifyBotType(isBot bool, indicators []string) BotTypeKind {
	if !isBot || len(indicators) == 0 {
		return BotTypeHuman
	}

	joined := strings.ToLower(strings.Join(indicators, " "))
	switch {
	case strings.Contains(joined, "moderator") ||
		strings.Contains(joined, "stickied") ||
		strings.Contains(joined, "submission"):
		return BotTypeModerator
	case strings.Contains(joined, "spam") ||
		strings.Contains(joined, "discount") ||
		strings.Contains(joined, "free"):
		return BotTypeSpam
	case strings.Contains(joined, "auto-response") ||
		strings.Contains(joined, "template") ||
		strings.Contains(joined, "generic"):
		return BotTypeAutoResponse
	default:
		return BotTypeSophisticated
	}
}

// Timing captures where a request spent its time.
type Timing struct {
	// TotalMs is the wall-clock duration of the whole classification.
	TotalMs float64 `json:"total_ms"`

	// PerLayerMs maps layer ID to that layer's execution time.
	PerLayerMs map[string]float64 `json:"per_layer_ms,omitempty"`
}

// ConsensusVerdict is the engine's final decision for one request.
// It is immutable after creation; cached verdicts are returned as-is with
// only CacheHit and Timing differing between calls.
type ConsensusVerdict struct {
	// ID uniquely identifies this verdict (a UUID).
	ID string `json:"id"`

	// IsBot is the gate consumed by the downstream pipeline. It is true
	// exactly when Confidence >= 0.70 or a single layer reported >= 0.95.
	IsBot bool `json:"is_bot"`

	// Confidence is the fused bot probability in [0,1].
	Confidence float64 `json:"confidence"`

	// Classification is the decision category.
	Classification Classification `json:"classification"`

	// BotType is the reporting-only bot category.
	BotType BotTypeKind `json:"bot_type"`

	// LayerVerdicts maps layer ID to that layer's opinion. Failed layers
	// are absent.
	LayerVerdicts map[string]LayerVerdict `json:"layer_verdicts,omitempty"`

	// ConsensusScore is the weight-renormalized fused confidence before
	// any instant-block override.
	ConsensusScore float64 `json:"consensus_score"`

	// RiskLabel is the confidence-band risk description.
	RiskLabel string `json:"risk_label"`

	// Recommendation is the suggested downstream action.
	Recommendation string `json:"recommendation"`

	// Reasoning explains degenerate outcomes (rate limited, empty
	// content, all layers failed). Empty for ordinary verdicts.
	Reasoning string `json:"reasoning,omitempty"`

	// Timing records total and per-layer execution time.
	Timing Timing `json:"timing"`

	// CacheHit reports whether this verdict was served from the cache.
	CacheHit bool `json:"cache_hit"`

	// Timestamp records when the verdict was first computed. Cached
	// verdicts retain the original timestamp.
	Timestamp time.Time `json:"timestamp"`
}

// RiskLabel maps a decision to its confidence-band risk description.
func RiskLabel(classification Classification, confidence float64) string {
	switch {
	case classification == ClassInstantBlock:
		return "critical risk - immediate action required"
	case confidence >= 0.9:
		return "high risk - strong bot indicators"
	case confidence >= 0.7:
		return "medium risk - moderate bot indicators"
	case confidence >= 0.5:
		return "low risk - weak bot indicators"
	default:
		return "minimal risk - likely human"
	}
}

// Recommendation maps a decision to the suggested downstream action.
func Recommendation(isBot bool, confidence float64) string {
	if !isBot {
		return "allow - human content detected"
	}
	switch {
	case confidence >= 0.9:
		return "block immediately"
	case confidence >= 0.7:
		return "flag for review"
	default:
		return "monitor closely"
	}
}

// ClampConfidence clamps c to the valid confidence range [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
