package layers

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Text statistics shared by the behavioral and authorship layers.
// Everything here is pure and allocation-light; layers call these helpers
// on every request.

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?]+`)
	nonWordRe       = regexp.MustCompile(`[^\w\s]`)
	wordRe          = regexp.MustCompile(`\b\w+\b`)
)

// trigramSet returns the set of character trigrams of text after stripping
// punctuation. An empty map means the text is too short to fingerprint.
func trigramSet(text string) map[string]struct{} {
	cleaned := nonWordRe.ReplaceAllString(text, "")
	runes := []rune(cleaned)
	if len(runes) < 3 {
		return nil
	}
	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// trigramJaccard computes the Jaccard similarity of two texts' character
// trigram sets. Identical texts score 1.0; texts sharing no 3-character
// substring score 0.0.
func trigramJaccard(a, b string) float64 {
	setA := trigramSet(a)
	setB := trigramSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// mean returns the arithmetic mean of values, or 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdev returns the sample standard deviation of values.
// Fewer than two values yield 0.
func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// variance returns the population variance of values.
func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

// coefficientOfVariation returns stdev/mean for a set of values.
// A zero mean returns +Inf to signal a degenerate (all-zero) interval set;
// callers treat that as maximally regular.
func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return math.Inf(1)
	}
	return stdev(values) / m
}

// splitSentences splits text on terminal punctuation and returns the
// non-empty trimmed sentences.
func splitSentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// words returns the lowercase word tokens of text.
func words(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// vocabularyRichness returns the unique-to-total word ratio of tokens.
func vocabularyRichness(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, w := range tokens {
		seen[w] = struct{}{}
	}
	return float64(len(seen)) / float64(len(tokens))
}

// punctuationVariety counts the distinct punctuation marks in text.
func punctuationVariety(text string) int {
	seen := make(map[rune]struct{})
	for _, r := range text {
		if unicode.IsPunct(r) || strings.ContainsRune(`"-()[]{}`, r) {
			seen[r] = struct{}{}
		}
	}
	return len(seen)
}
