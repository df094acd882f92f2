package layers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/qaforge/botshield/internal/domain"
	"github.com/qaforge/botshield/internal/ports"
)

var _ ports.DetectionLayer = (*SignatureLayer)(nil)

// Username shapes that automated account generators tend to produce.
var (
	lettersDigitsRe = regexp.MustCompile(`^[A-Za-z]+\d{4,}$`)
	wordWordDigitRe = regexp.MustCompile(`^[A-Za-z]+_[A-Za-z]+\d+$`)
	genericUserRe   = regexp.MustCompile(`^(user|reddit|anonymous)\d+$`)

	markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\([^)]*\)`)
	emptyBulletRe  = regexp.MustCompile(`(?m)^\s*(-|\*|\d+\.)\s*$`)
)

// SignatureConfig controls the pattern tables and flag threshold of the
// signature layer. The defaults carry the hand-tuned production tables;
// overriding them is only needed when pointing the engine at a different
// community.
type SignatureConfig struct {
	// FlagThreshold is the confidence at or above which the layer flags
	// the content as bot-authored.
	FlagThreshold float64 `yaml:"flag_threshold" json:"flag_threshold" validate:"min=0,max=1"`

	// KnownBots is the exact-match set of known bot usernames.
	KnownBots []string `yaml:"known_bots" json:"known_bots"`

	// BotKeywords are substrings of usernames that indicate automation.
	BotKeywords []string `yaml:"bot_keywords" json:"bot_keywords"`

	// DomainTerms are the on-topic vocabulary of the community being
	// collected. Long replies containing none of them are suspicious,
	// and a "helper" username combined with one of them is forgiven.
	DomainTerms []string `yaml:"domain_terms" json:"domain_terms"`
}

// DefaultSignatureConfig returns the production pattern tables.
func DefaultSignatureConfig() SignatureConfig {
	return SignatureConfig{
		FlagThreshold: 0.7,
		KnownBots: []string{
			"AutoModerator",
			"BotDefense",
			"RepostSleuthBot",
			"RemindMeBot",
			"ExcelHelperBot",
			"FormulaBot",
			"SpreadsheetBot",
		},
		BotKeywords: []string{"bot", "auto", "mod", "helper", "assist"},
		DomainTerms: []string{
			"formula", "cell", "column", "row", "sheet", "workbook",
			"vlookup", "hlookup", "index", "match", "sumif", "countif",
			"pivot", "table", "chart", "macro", "vba", "xlookup",
			"filter", "sort", "conditional", "formatting", "range",
			"reference", "function", "array", "dynamic", "spill", "lambda",
		},
	}
}

// SignatureLayer performs stateless pattern and metadata analysis of a
// single comment. It runs five independent sub-checks (username, content,
// structure, context, metadata) and reports the maximum sub-check
// confidence, not a sum: one decisive signal is enough.
//
// The layer is pure and thread-safe for concurrent execution.
type SignatureLayer struct {
	config SignatureConfig
	tracer trace.Tracer

	// Folded lookup tables derived from the config once at construction.
	knownBots   map[string]struct{}
	botKeywords []string
	domainTerms []string

	moderatorPhrases    []string
	autoResponsePhrases []string
	courtesyPhrases     []string
	genericPhrases      []string
	offTopicTerms       []string
	templatePatterns    []*regexp.Regexp
	spamPatterns        []*regexp.Regexp
}

// Moderation boilerplate observed on collected communities. Matching any
// of these is near-certain automation.
var moderatorPhrases = []string{
	"your post was submitted successfully",
	"i am a bot",
	"contact the moderators",
	"this action was performed automatically",
	"performed automatically",
	"moderators of this subreddit",
	"follow the submission rules",
	"submission rules",
	"removed for rule violation",
	"please read the rules",
	"this comment was automatically generated",
	"solution verified",
	"close the thread",
	"post being removed without warning",
}

var autoResponsePhrases = []string{
	"thank you for your submission",
	"this is an automated response",
	"if you need further assistance",
	"please refer to the documentation",
	"this response was generated automatically",
	"for more information, please visit",
	"if this helped you, please consider",
	"this is a common question",
	"you can find more information at",
	"this action cannot be undone",
	"please confirm your request",
	"this feature is not available",
	"error: invalid input",
	"success: operation completed",
}

var courtesyPhrases = []string{
	"i hope this helps",
	"let me know if you need further assistance",
	"please don't hesitate to ask",
	"i'd be happy to help",
	"here's what i would suggest",
	"you might want to consider",
	"one approach would be to",
	"another option is to",
	"i hope this clarifies",
	"feel free to reach out",
	"i'm here to help",
	"if you have any questions",
}

var genericPhrases = []string{
	"i hope this helps",
	"let me know if you need help",
	"please try this",
	"this should work",
	"you can do this",
	"try this solution",
}

var offTopicTerms = []string{
	"politics", "sports", "weather", "cooking", "music", "movies",
}

// Username fragments that mark a "helper" account as a likely human
// expert rather than automation.
var helperAllowTerms = []string{"excel", "vba", "formula", "expert"}

var templatePatternSrcs = []string{
	`\{\{.*\}\}`,
	`(?m)^---$`,
	`(?m)^\s*\[.*\]:\s*http`,
	`(?m)^\s*\*\s*\*\s*\*\s*$`,
}

var spamPatternSrcs = []string{
	`(?i)\b(free|discount|limited time|special offer|click here|sign up now)\b`,
	`(?i)\b(buy now|order today|exclusive deal|save \d+%)\b`,
	`(?i)\b(earn money|make money|work from home|business opportunity)\b`,
	`(?i)\b(viagra|casino|poker|lottery|winner)\b`,
	`(?i)\b(download now|install now|register now|join now)\b`,
}

// NewSignatureLayer creates a SignatureLayer with the given configuration.
// Returns an error if configuration validation fails.
func NewSignatureLayer(config SignatureConfig) (*SignatureLayer, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	sl := &SignatureLayer{
		config:              config,
		tracer:              otel.Tracer("signature-layer"),
		knownBots:           make(map[string]struct{}, len(config.KnownBots)),
		moderatorPhrases:    foldAll(moderatorPhrases),
		autoResponsePhrases: foldAll(autoResponsePhrases),
		courtesyPhrases:     foldAll(courtesyPhrases),
		genericPhrases:      foldAll(genericPhrases),
		offTopicTerms:       foldAll(offTopicTerms),
	}
	for _, name := range config.KnownBots {
		sl.knownBots[name] = struct{}{}
	}
	sl.botKeywords = foldAll(config.BotKeywords)
	sl.domainTerms = foldAll(config.DomainTerms)

	for _, src := range templatePatternSrcs {
		sl.templatePatterns = append(sl.templatePatterns, regexp.MustCompile(src))
	}
	for _, src := range spamPatternSrcs {
		sl.spamPatterns = append(sl.spamPatterns, regexp.MustCompile(src))
	}
	return sl, nil
}

func foldAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fold(s)
	}
	return out
}

// ID returns the stable identifier of the signature layer.
func (sl *SignatureLayer) ID() string { return domain.LayerSignature }

// Validate checks that the layer configuration is usable.
func (sl *SignatureLayer) Validate() error {
	if err := validate.Struct(sl.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// subResult carries one sub-check's contribution to the layer verdict.
type subResult struct {
	confidence float64
	indicators []string
}

func (r *subResult) raise(confidence float64, indicator string) {
	if confidence > r.confidence {
		r.confidence = confidence
	}
	r.indicators = append(r.indicators, indicator)
}

// Analyze runs the five signature sub-checks and returns the layer
// verdict. The overall confidence is the maximum across sub-checks.
func (sl *SignatureLayer) Analyze(ctx context.Context, req *domain.DetectionRequest) (domain.LayerVerdict, error) {
	_, span := sl.tracer.Start(ctx, "SignatureLayer.Analyze",
		trace.WithAttributes(attribute.String("layer.id", sl.ID())),
	)
	defer span.End()

	if req == nil {
		return domain.LayerVerdict{}, ErrNilRequest
	}

	checks := []subResult{
		sl.checkUsername(req),
		sl.checkContent(req.Content),
		sl.checkStructure(req.Content),
		sl.checkContext(req.Content),
		sl.checkMetadata(req),
	}

	verdict := domain.LayerVerdict{LayerID: sl.ID()}
	for _, c := range checks {
		if c.confidence > verdict.Confidence {
			verdict.Confidence = c.confidence
		}
		verdict.Indicators = append(verdict.Indicators, c.indicators...)
	}
	verdict.Confidence = domain.ClampConfidence(verdict.Confidence)
	verdict.IsFlagged = verdict.Confidence >= sl.config.FlagThreshold

	span.SetAttributes(
		attribute.Float64("layer.confidence", verdict.Confidence),
		attribute.Bool("layer.flagged", verdict.IsFlagged),
		attribute.Int("layer.indicators", len(verdict.Indicators)),
	)
	return verdict, nil
}

// checkUsername matches the author name against known bots, automation
// keywords, and generated-name shapes.
func (sl *SignatureLayer) checkUsername(req *domain.DetectionRequest) subResult {
	var res subResult

	author := req.Metadata.Author
	if author == "" || author == "[deleted]" {
		return res
	}

	if _, known := sl.knownBots[author]; known {
		res.raise(1.0, "known bot username: "+author)
	}

	folded := fold(author)
	for _, keyword := range sl.botKeywords {
		if !strings.Contains(folded, keyword) {
			continue
		}
		// "helper" next to on-topic vocabulary is usually a legitimate
		// human expert, not automation.
		if keyword == "helper" && containsAny(folded, helperAllowTerms) {
			res.raise(0.3, "bot keyword in username (possibly legitimate helper): "+keyword)
			continue
		}
		res.raise(0.9, "bot keyword in username: "+keyword)
	}

	if lettersDigitsRe.MatchString(author) {
		res.raise(0.8, "suspicious username shape: letters+digits")
	}
	if wordWordDigitRe.MatchString(author) {
		res.raise(0.7, "suspicious username shape: word_word_digits")
	}
	if genericUserRe.MatchString(folded) {
		res.raise(0.6, "generic username shape")
	}
	return res
}

// checkContent matches the body against the moderation, auto-response,
// template, spam, and AI-courtesy phrase tables.
func (sl *SignatureLayer) checkContent(content string) subResult {
	var res subResult

	if strings.TrimSpace(content) == "" {
		// Empty bodies are a common bot artifact on collected threads.
		res.raise(0.75, "empty content body")
		return res
	}

	folded := fold(content)

	for _, phrase := range sl.moderatorPhrases {
		if strings.Contains(folded, phrase) {
			res.raise(0.95, "moderator boilerplate: "+phrase)
		}
	}
	for _, phrase := range sl.autoResponsePhrases {
		if strings.Contains(folded, phrase) {
			res.raise(0.85, "auto-response boilerplate: "+phrase)
		}
	}
	for _, re := range sl.templatePatterns {
		if re.MatchString(content) {
			res.raise(0.8, "template pattern: "+re.String())
		}
	}
	for _, re := range sl.spamPatterns {
		if re.MatchString(content) {
			res.raise(0.9, "spam pattern")
		}
	}

	courtesy := 0
	for _, phrase := range sl.courtesyPhrases {
		if strings.Contains(folded, phrase) {
			courtesy++
		}
	}
	switch {
	case courtesy >= 3:
		res.raise(0.8, fmt.Sprintf("multiple ai-courtesy phrases: %d", courtesy))
	case courtesy == 2:
		res.raise(0.6, fmt.Sprintf("ai-courtesy phrases: %d", courtesy))
	}
	return res
}

// checkStructure looks for template-like formatting: excessive bold
// markers, link-only bodies, empty bullets, blank-line runs, and
// repeated sentences.
func (sl *SignatureLayer) checkStructure(content string) subResult {
	var res subResult
	if content == "" {
		return res
	}

	if strings.Count(content, "**") > 6 {
		res.raise(0.6, "excessive bold formatting")
	}

	links := markdownLinkRe.FindAllString(content, -1)
	prose := strings.TrimSpace(strings.ReplaceAll(content, "\n", ""))
	if len(links) > 3 && len(prose) < 100 {
		res.raise(0.7, "content is mostly links")
	}

	if len(emptyBulletRe.FindAllString(content, -1)) > 2 {
		res.raise(0.6, "template-like empty bullet structure")
	}

	if strings.Count(content, "\n\n") > 5 {
		res.raise(0.5, "excessive blank lines")
	}

	if ratio := repeatedSentenceRatio(content); ratio > 0.3 {
		res.raise(0.7, fmt.Sprintf("repeated sentences: %.0f%%", ratio*100))
	}
	return res
}

// repeatedSentenceRatio returns the fraction of sentences that are exact
// or near duplicates (edit similarity >= 0.9) of an earlier sentence.
// Fewer than four sentences yield 0: short comments repeat naturally.
func repeatedSentenceRatio(content string) float64 {
	sentences := splitSentences(content)
	if len(sentences) <= 3 {
		return 0
	}

	repeats := 0
	seen := make([]string, 0, len(sentences))
	for _, s := range sentences {
		lower := strings.ToLower(s)
		duplicate := false
		for _, prev := range seen {
			if sentenceSimilarity(lower, prev) >= 0.9 {
				duplicate = true
				break
			}
		}
		if duplicate {
			repeats++
		} else {
			seen = append(seen, lower)
		}
	}
	return float64(repeats) / float64(len(sentences))
}

// sentenceSimilarity is a normalized edit-distance similarity in [0,1].
func sentenceSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if n := len([]rune(b)); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	sim := 1.0 - float64(distance)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// checkContext flags long replies that never touch the community's topic,
// canned generic phrasing, and clearly off-topic vocabulary.
func (sl *SignatureLayer) checkContext(content string) subResult {
	var res subResult
	if content == "" {
		return res
	}

	folded := fold(content)
	wordCount := len(strings.Fields(content))

	if wordCount > 20 && !sl.containsDomainTerm(folded) {
		res.raise(0.5, "long reply with no domain vocabulary")
	}

	generic := 0
	for _, phrase := range sl.genericPhrases {
		if strings.Contains(folded, phrase) {
			generic++
		}
	}
	if generic >= 3 {
		res.raise(0.6, fmt.Sprintf("multiple generic phrases: %d", generic))
	}

	if wordCount > 50 {
		for _, term := range sl.offTopicTerms {
			if strings.Contains(folded, term) {
				res.raise(0.7, "off-topic vocabulary: "+term)
				break
			}
		}
	}
	return res
}

// checkMetadata inspects moderation flags, score, reply latency, account
// age, and karma shape.
func (sl *SignatureLayer) checkMetadata(req *domain.DetectionRequest) subResult {
	var res subResult
	md := req.Metadata

	if md.Stickied {
		res.raise(0.8, "stickied comment")
	}
	if md.DistinguishedModerator {
		res.raise(0.9, "distinguished moderator comment")
	}
	if md.Score == 1 {
		res.raise(0.3, "default score")
	}

	if !md.CreatedAt.IsZero() && !md.PreviousCommentAt.IsZero() {
		if gap := md.CreatedAt.Sub(md.PreviousCommentAt); gap >= 0 && gap.Seconds() < 5 {
			res.raise(0.6, "sub-5-second reply latency")
		}
	}

	if p := req.Profile; p != nil {
		if p.AccountAgeDays < 1 {
			res.raise(0.5, "account younger than one day")
		}
		if p.LinkKarma == 1 && p.CommentKarma == 1 {
			res.raise(0.6, "default karma split")
		}
	}
	return res
}

func (sl *SignatureLayer) containsDomainTerm(folded string) bool {
	return containsAny(folded, sl.domainTerms)
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
