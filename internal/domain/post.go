package domain

import (
	"fmt"
	"time"
)

// PostKey identifies a post by its source channel and the message id
// assigned by that channel. It is the identity used for deduplication.
type PostKey struct {
	ChannelID string `json:"channel_id"`
	MessageID int64  `json:"message_id"`
}

func (k PostKey) String() string {
	return fmt.Sprintf("%s/%d", k.ChannelID, k.MessageID)
}

// Valid reports whether the key is well-formed.
func (k PostKey) Valid() bool {
	return k.ChannelID != "" && k.MessageID > 0
}

// Post is one ingested channel message. It is created by the channel
// transport and never mutated afterwards.
type Post struct {
	Key             PostKey   `json:"key"`
	ChannelTitle    string    `json:"channel_title"`
	ChannelUsername string    `json:"channel_username"`
	Text            string    `json:"text"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Link returns the public URL of the post, or empty if the channel has
// no public username.
func (p Post) Link() string {
	if p.ChannelUsername == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", p.ChannelUsername, p.Key.MessageID)
}

// Sentiment labels used across the pipeline.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// AnalysisResult is the structured output of analyzing one post.
// Exactly one result is ever produced per admitted post.
type AnalysisResult struct {
	PostKey      PostKey   `json:"post_key"`
	Summary      string    `json:"summary"`
	Sentiment    string    `json:"sentiment"`
	Topic        string    `json:"topic"`
	Hashtags     []string  `json:"hashtags"`
	ModelUsed    string    `json:"model_used"`
	QualityScore float64   `json:"quality_score"`
	ProducedAt   time.Time `json:"produced_at"`
}

// Subscriber is a notification recipient. Criteria is a set of topics or
// keywords; the single entry "all" matches every result.
type Subscriber struct {
	ID       int64    `db:"chat_id"`
	Criteria []string `db:"-"`
	Active   bool     `db:"active"`
}

// FilterAll is the wildcard criteria entry.
const FilterAll = "all"
