package layers

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/qaforge/botshield/internal/domain"
	"github.com/qaforge/botshield/internal/ports"
)

var _ ports.DetectionLayer = (*AuthorshipLayer)(nil)

// minAuthorshipLength is the shortest text the layer will score; anything
// shorter gets a near-zero verdict since stylometry needs material.
const minAuthorshipLength = 10

// Phrase tables for the explicit signature counts. These complement the
// analyzer's frequency scoring with hard tells on either side.
var (
	aiSignaturePhrases = []string{
		"as an ai",
		"as a language model",
		"i don't have personal",
		"i cannot browse",
		"certainly! here",
		"i'd be glad to assist",
		"it's important to note",
		"in conclusion",
		"to summarize",
	}

	humanColloquialisms = []string{
		"lol", "lmao", "tbh", "imo", "imho", "idk", "btw", "fwiw",
		"gonna", "wanna", "kinda", "yeah", "nah", "ugh", "welp",
	}
)

// AuthorshipConfig controls the authorship layer.
type AuthorshipConfig struct {
	// FlagThreshold is the confidence at or above which the layer flags
	// the text as machine-authored. It sits lower than the other layers
	// because stylometry is noisier and never instant-blocks on its own.
	FlagThreshold float64 `yaml:"flag_threshold" json:"flag_threshold" validate:"min=0,max=1"`
}

// DefaultAuthorshipConfig returns the production authorship configuration.
func DefaultAuthorshipConfig() AuthorshipConfig {
	return AuthorshipConfig{FlagThreshold: 0.5}
}

// AuthorshipLayer estimates whether a comment body was machine-written.
// It combines a pluggable text-feature analyzer's base probability with
// structural, pattern-count, and semantic components:
//
//	confidence = 0.4*base + 0.2*structural + 0.2*aiPatterns
//	           + 0.1*semantic - 0.1*humanPatterns
//
// clamped to [0,1]. The layer is pure given a pure analyzer.
type AuthorshipLayer struct {
	config   AuthorshipConfig
	analyzer ports.TextFeatureAnalyzer
	tracer   trace.Tracer
}

// NewAuthorshipLayer creates an AuthorshipLayer on top of the given
// text-feature analyzer. Returns an error if the analyzer is nil or the
// configuration is invalid.
func NewAuthorshipLayer(config AuthorshipConfig, analyzer ports.TextFeatureAnalyzer) (*AuthorshipLayer, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("text feature analyzer cannot be nil")
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &AuthorshipLayer{
		config:   config,
		analyzer: analyzer,
		tracer:   otel.Tracer("authorship-layer"),
	}, nil
}

// ID returns the stable identifier of the authorship layer.
func (al *AuthorshipLayer) ID() string { return domain.LayerAuthorship }

// Validate checks that the layer configuration is usable.
func (al *AuthorshipLayer) Validate() error {
	if al.analyzer == nil {
		return fmt.Errorf("text feature analyzer cannot be nil")
	}
	if err := validate.Struct(al.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Analyze scores the request content for machine authorship.
func (al *AuthorshipLayer) Analyze(ctx context.Context, req *domain.DetectionRequest) (domain.LayerVerdict, error) {
	ctx, span := al.tracer.Start(ctx, "AuthorshipLayer.Analyze",
		trace.WithAttributes(attribute.String("layer.id", al.ID())),
	)
	defer span.End()

	if req == nil {
		return domain.LayerVerdict{}, ErrNilRequest
	}

	verdict := domain.LayerVerdict{LayerID: al.ID()}
	if len(req.Content) < minAuthorshipLength {
		verdict.Indicators = []string{"text too short for stylometry"}
		span.SetAttributes(attribute.Bool("layer.skipped", true))
		return verdict, nil
	}

	features, err := al.analyzer.AnalyzeText(ctx, req.Content)
	if err != nil {
		return domain.LayerVerdict{}, domain.NewLayerExecutionError(al.ID(), err)
	}

	structural := structuralScore(req.Content)
	semantic := semanticConsistencyScore(req.Content)
	aiPatterns := cappedPhraseScore(req.Content, aiSignaturePhrases)
	humanPatterns := cappedPhraseScore(req.Content, humanColloquialisms)

	confidence := 0.4*features.AIProbability +
		0.2*structural +
		0.2*aiPatterns +
		0.1*semantic -
		0.1*humanPatterns
	verdict.Confidence = domain.ClampConfidence(confidence)
	verdict.IsFlagged = verdict.Confidence >= al.config.FlagThreshold

	verdict.Indicators = append(verdict.Indicators, features.Indicators...)
	verdict.Indicators = append(verdict.Indicators,
		fmt.Sprintf("structural: %.2f", structural),
		fmt.Sprintf("semantic: %.2f", semantic),
	)
	if aiPatterns > 0 {
		verdict.Indicators = append(verdict.Indicators,
			fmt.Sprintf("ai signature phrases: %.2f", aiPatterns))
	}
	if humanPatterns > 0 {
		verdict.Indicators = append(verdict.Indicators,
			fmt.Sprintf("human colloquialisms: %.2f", humanPatterns))
	}

	span.SetAttributes(
		attribute.Float64("layer.confidence", verdict.Confidence),
		attribute.Bool("layer.flagged", verdict.IsFlagged),
	)
	return verdict, nil
}

// cappedPhraseScore counts phrase occurrences and converts them to a
// [0,1] score, saturating at three hits.
func cappedPhraseScore(text string, phrases []string) float64 {
	folded := fold(text)
	hits := 0
	for _, phrase := range phrases {
		hits += strings.Count(folded, phrase)
	}
	score := float64(hits) / 3.0
	if score > 1 {
		return 1
	}
	return score
}

// structuralScore measures template-like shape: uniform sentence
// lengths, heavy paragraphing, list scaffolding, and markdown density.
func structuralScore(text string) float64 {
	sentences := splitSentences(text)
	score := 0.0

	if len(sentences) >= 3 {
		lens := make([]float64, len(sentences))
		for i, s := range sentences {
			lens[i] = float64(len(words(s)))
		}
		m := mean(lens)
		// Mid-length sentences with almost no variance read as generated.
		if m >= 10 && m <= 25 && variance(lens) < 4.0 {
			score += 0.3
		}
	}

	paragraphs := 0
	listItems := 0
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		paragraphs++
		if strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "* ") {
			listItems++
		}
	}
	if paragraphs > 3 {
		score += 0.2
	}
	if listItems >= 3 {
		score += 0.25
	}

	if tokens := len(words(text)); tokens > 0 {
		boldPerWord := float64(strings.Count(text, "**")) / float64(tokens)
		if boldPerWord > 0.05 {
			score += 0.25
		}
	}
	return domain.ClampConfidence(score)
}

// semanticConsistencyScore measures vocabulary shape. Machine text
// recycles a narrow vocabulary over long spans.
func semanticConsistencyScore(text string) float64 {
	tokens := words(text)
	if len(tokens) == 0 {
		return 0
	}

	score := 0.0
	if richness := vocabularyRichness(tokens); len(tokens) > 20 && richness < 0.4 {
		score += 0.5
	}
	if len(tokens) > 30 && punctuationVariety(text) <= 1 {
		score += 0.5
	}
	return score
}
