package analyzer

import "strings"

// QualityWeights parameterize the structural quality heuristic. The exact
// formula is a policy knob, not a contract; callers should rely only on
// its monotonic behavior.
type QualityWeights struct {
	Sentiment    float64
	Topic        float64
	Summary      float64
	HasHashtags  float64
	CountInRange float64
	Overlap      float64
}

// DefaultQualityWeights sum to 1.0.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		Sentiment:    0.15,
		Topic:        0.15,
		Summary:      0.1,
		HasHashtags:  0.1,
		CountInRange: 0.2,
		Overlap:      0.3,
	}
}

const (
	minHashtags = 2
	maxHashtags = 6
)

// QualityScore rates an analysis against the source text in [0,1] using
// structural signals only: which fields came back, whether the hashtag
// count lands in the expected range, and how much the hashtags lexically
// overlap the source. More overlap always scores higher.
func QualityScore(a Analysis, sourceText string, w QualityWeights) float64 {
	var score float64

	if a.Sentiment != "" {
		score += w.Sentiment
	}
	if a.Topic != "" {
		score += w.Topic
	}
	if a.Summary != "" {
		score += w.Summary
	}
	if len(a.Hashtags) > 0 {
		score += w.HasHashtags
	}
	if len(a.Hashtags) >= minHashtags && len(a.Hashtags) <= maxHashtags {
		score += w.CountInRange
	}
	score += w.Overlap * overlapFraction(a.Hashtags, sourceText)

	if score > 1 {
		score = 1
	}
	return score
}

// overlapFraction is the share of hashtags whose words occur in the
// source text, case-insensitive.
func overlapFraction(hashtags []string, sourceText string) float64 {
	if len(hashtags) == 0 {
		return 0
	}
	source := strings.ToLower(sourceText)

	matched := 0
	for _, tag := range hashtags {
		for _, word := range strings.Split(strings.ToLower(tag), "_") {
			if word != "" && strings.Contains(source, word) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(hashtags))
}
