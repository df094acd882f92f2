// Package domain contains pure, dependency-free domain models and types
// for the bot-detection consensus engine.
package domain

import (
	"time"
)

// Priority controls how much detection work the coordinator is willing to
// spend on a single request. Higher priorities run more layers.
type Priority string

// Supported detection priorities, ordered from cheapest to most thorough.
const (
	// PriorityLow runs only the constant-time well-known-phrase scan.
	// It exists to bound tail latency for low-value traffic.
	PriorityLow Priority = "low"

	// PriorityMedium runs the signature layer only.
	PriorityMedium Priority = "medium"

	// PriorityHigh runs the signature layer first and short-circuits on a
	// confident hit; otherwise the behavioral layer runs as well.
	PriorityHigh Priority = "high"

	// PriorityCritical runs every relevant layer concurrently.
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the defined priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// QualityTier is the platform-provided contributor quality score (CQS)
// for an account. The engine maps it to a numeric bot-risk prior; no other
// source-specific vocabulary crosses the engine boundary.
type QualityTier string

// Known contributor quality tiers, lowest trust first.
const (
	TierLowest  QualityTier = "lowest"
	TierLow     QualityTier = "low"
	TierMedium  QualityTier = "medium"
	TierHigh    QualityTier = "high"
	TierHighest QualityTier = "highest"
)

// CommentMetadata carries the lightweight per-comment metadata supplied by
// upstream collectors. Zero values mean "unknown".
type CommentMetadata struct {
	// Author is the posting account's username. May be empty or "[deleted]".
	Author string `json:"author"`

	// Score is the comment's vote score. Auto-generated content tends to
	// sit at the default score of exactly 1.
	Score int `json:"score"`

	// CreatedAt is when the comment was posted. Zero if unknown.
	CreatedAt time.Time `json:"created_at,omitempty"`

	// Stickied marks comments pinned by moderation tooling.
	Stickied bool `json:"stickied,omitempty"`

	// DistinguishedModerator marks comments posted with moderator
	// distinguish, a strong moderation-bot signal.
	DistinguishedModerator bool `json:"distinguished_moderator,omitempty"`

	// PreviousCommentAt is the timestamp of the previous observed comment
	// in the same thread, used for reply-latency analysis. Zero if unknown.
	PreviousCommentAt time.Time `json:"previous_comment_at,omitempty"`
}

// UserProfile is the optional account-level information used by the
// behavioral layer's quality and age analysis.
type UserProfile struct {
	// AccountAgeDays is the account age in days. Fractional values matter
	// for accounts younger than a day.
	AccountAgeDays float64 `json:"account_age_days"`

	// LinkKarma is the account's cumulative post karma.
	LinkKarma int `json:"link_karma"`

	// CommentKarma is the account's cumulative comment karma.
	CommentKarma int `json:"comment_karma"`

	// QualityTier is the platform's contributor quality score for the
	// account. Empty means unknown and is treated as TierMedium.
	QualityTier QualityTier `json:"contributor_quality_tier,omitempty"`
}

// HistoricalPost is one entry of an author's posting history. The engine
// never mutates or retains historical posts beyond a single request.
type HistoricalPost struct {
	// Text is the post or comment body.
	Text string `json:"text"`

	// Score is the post's vote score.
	Score int `json:"score"`

	// CreatedAt is when the post was made.
	CreatedAt time.Time `json:"created_at"`

	// UpvoteRatio is the post's upvote ratio in [0,1]. Zero if unknown.
	UpvoteRatio float64 `json:"upvote_ratio"`
}

// DetectionRequest is the immutable input to a single detection run.
// Callers own the request and all referenced history; the engine only reads.
type DetectionRequest struct {
	// Content is the comment body under analysis. May be empty; an empty
	// body is itself a common bot artifact and is treated as suspicious.
	Content string `json:"content"`

	// Metadata carries the per-comment metadata.
	Metadata CommentMetadata `json:"metadata"`

	// Profile is the optional account profile. Nil when the upstream
	// collector could not resolve the author.
	Profile *UserProfile `json:"profile,omitempty"`

	// History is the author's recent posting history, oldest first.
	// The behavioral layer needs at least two entries to say anything.
	History []HistoricalPost `json:"history,omitempty"`

	// ClientID identifies the calling pipeline stage for rate limiting.
	ClientID string `json:"client_id"`

	// Priority is the requested detection priority. The engine may
	// escalate or demote it based on content characteristics.
	Priority Priority `json:"priority"`
}
