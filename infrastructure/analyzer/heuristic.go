// Package analyzer provides text-feature backends for the authorship
// layer. The heuristic analyzer is a phrase-frequency scorer; a real NLP
// model can replace it behind the same port.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/qaforge/botshield/internal/ports"
)

var _ ports.TextFeatureAnalyzer = (*HeuristicAnalyzer)(nil)

var foldCaser = cases.Fold()

// Phrase tables with per-category weights. Hedging and courtesy language
// dominates machine-generated replies; formal transitions and list
// scaffolding come next.
var phraseCategories = []struct {
	name    string
	weight  float64
	phrases []string
}{
	{
		name:   "hedging",
		weight: 1.0,
		phrases: []string{
			"it's important to note",
			"it is important to note",
			"it's worth noting",
			"keep in mind that",
			"generally speaking",
			"in most cases",
			"typically, you would",
			"you may want to",
			"it depends on",
		},
	},
	{
		name:   "formal transition",
		weight: 0.8,
		phrases: []string{
			"furthermore",
			"moreover",
			"additionally",
			"in conclusion",
			"in summary",
			"on the other hand",
			"as a result",
			"consequently",
			"first and foremost",
		},
	},
	{
		name:   "list scaffolding",
		weight: 0.7,
		phrases: []string{
			"here are the steps",
			"follow these steps",
			"step 1",
			"step 2",
			"the following options",
			"there are several ways",
			"here's how to",
		},
	},
	{
		name:   "courtesy",
		weight: 0.9,
		phrases: []string{
			"i hope this helps",
			"i'd be happy to",
			"feel free to",
			"please don't hesitate",
			"let me know if",
			"happy to assist",
			"great question",
		},
	},
}

// HeuristicConfig tunes the phrase-frequency analyzer.
type HeuristicConfig struct {
	// PerfectGrammarBonus is added when every sentence is capitalized
	// and terminated. Humans are sloppier than that.
	PerfectGrammarBonus float64 `yaml:"perfect_grammar_bonus" json:"perfect_grammar_bonus" validate:"min=0,max=1"`

	// ListBonus is added when the text contains three or more
	// list-formatted lines.
	ListBonus float64 `yaml:"list_bonus" json:"list_bonus" validate:"min=0,max=1"`
}

// DefaultHeuristicConfig returns the production analyzer tuning.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		PerfectGrammarBonus: 0.2,
		ListBonus:           0.15,
	}
}

// HeuristicAnalyzer estimates machine-authorship probability from
// weighted phrase counts normalized by text length. It is pure,
// allocation-light, and safe for concurrent use.
type HeuristicAnalyzer struct {
	config HeuristicConfig
}

// NewHeuristicAnalyzer creates a HeuristicAnalyzer with the given tuning.
func NewHeuristicAnalyzer(config HeuristicConfig) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{config: config}
}

// AnalyzeText scores a text body for machine-authorship signals.
func (ha *HeuristicAnalyzer) AnalyzeText(_ context.Context, text string) (ports.TextFeatures, error) {
	wordCount := len(strings.Fields(text))
	if wordCount == 0 {
		return ports.TextFeatures{}, nil
	}

	folded := foldCaser.String(text)

	var features ports.TextFeatures
	var weighted float64
	for _, cat := range phraseCategories {
		hits := 0
		for _, phrase := range cat.phrases {
			hits += strings.Count(folded, phrase)
		}
		if hits == 0 {
			continue
		}
		weighted += cat.weight * float64(hits)
		features.Indicators = append(features.Indicators,
			fmt.Sprintf("%s phrases: %d", cat.name, hits))
	}

	// Normalize by length so a long thorough human answer is not
	// penalized for using one transition word.
	probability := weighted / (float64(wordCount) / 20.0)
	if probability > 1 {
		probability = 1
	}

	if hasPerfectGrammar(text) {
		probability += ha.config.PerfectGrammarBonus
		features.Indicators = append(features.Indicators, "uniformly perfect grammar")
	}
	if countListLines(text) >= 3 {
		probability += ha.config.ListBonus
		features.Indicators = append(features.Indicators, "list-formatted structure")
	}
	if probability > 1 {
		probability = 1
	}
	features.AIProbability = probability

	// Short texts give the phrase tables little to work with.
	switch {
	case wordCount >= 100:
		features.Confidence = 0.9
	case wordCount >= 40:
		features.Confidence = 0.7
	case wordCount >= 15:
		features.Confidence = 0.5
	default:
		features.Confidence = 0.3
	}
	return features, nil
}

// hasPerfectGrammar reports whether every sentence starts with an
// uppercase letter and the text ends with terminal punctuation.
func hasPerfectGrammar(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	last := []rune(trimmed)[len([]rune(trimmed))-1]
	if last != '.' && last != '!' && last != '?' {
		return false
	}

	sentences := 0
	for _, part := range strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		sentences++
		first := []rune(s)[0]
		if unicode.IsLetter(first) && !unicode.IsUpper(first) {
			return false
		}
	}
	return sentences > 0
}

// countListLines counts lines that start with a bullet or numbered
// list marker.
func countListLines(text string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "* ") {
			count++
			continue
		}
		if len(s) >= 3 && unicode.IsDigit(rune(s[0])) && (s[1] == '.' || s[1] == ')') && s[2] == ' ' {
			count++
		}
	}
	return count
}
