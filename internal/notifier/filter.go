package notifier

import (
	"strings"

	"news_monitor/internal/domain"
)

// Matches reports whether an analysis result should be delivered to the
// subscriber. Pure function: a subscriber with the "all" criteria entry
// matches everything, otherwise the criteria set must intersect the
// result's topic or hashtags, case-insensitive. Inactive subscribers
// never match.
func Matches(result *domain.AnalysisResult, sub domain.Subscriber) bool {
	if !sub.Active {
		return false
	}
	if len(sub.Criteria) == 0 {
		return false
	}

	topic := strings.ToLower(result.Topic)
	for _, criterion := range sub.Criteria {
		c := strings.ToLower(strings.TrimSpace(criterion))
		if c == domain.FilterAll {
			return true
		}
		if c != "" && c == topic {
			return true
		}
		for _, tag := range result.Hashtags {
			if c == strings.ToLower(tag) {
				return true
			}
		}
	}
	return false
}
