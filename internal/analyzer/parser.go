package analyzer

import (
	"encoding/json"
	"regexp"
	"strings"

	"news_monitor/internal/domain"
)

// Analysis is the partially-populated structure extracted from one
// backend response. Missing fields stay at their zero value; the parser
// never fails on malformed input.
type Analysis struct {
	Summary   string
	Sentiment string
	Topic     string
	Hashtags  []string
}

var (
	jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)
	codeFenceRe = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*(.+?)\\s*```\\s*$")
	tagCleanRe  = regexp.MustCompile(`[^\p{L}\p{N}\s_]`)
	fieldLineRe = regexp.MustCompile(`(?i)^\s*"?(summary|sentiment|topic|hashtags)"?\s*[:=]\s*(.+?)\s*,?\s*$`)
)

// Parse extracts {summary, sentiment, topic, hashtags} from the
// backend's free-text response. It tries a JSON object first (models in
// JSON mode usually comply), then falls back to scanning field:value
// lines. Truncated or garbled output yields whatever fields were
// recoverable.
func Parse(raw string) Analysis {
	text := stripCodeFence(raw)

	block := jsonBlockRe.FindString(text)
	if block == "" {
		// Truncated output may lack the closing brace entirely.
		if idx := strings.Index(text, "{"); idx >= 0 {
			block = text[idx:]
		}
	}

	var a Analysis
	if block != "" {
		if parsed, ok := parseJSON(block); ok {
			a = parsed
		} else if parsed, ok := parseJSON(repairTruncated(block)); ok {
			a = parsed
		}
	}
	if a.Summary == "" && a.Sentiment == "" && a.Topic == "" && len(a.Hashtags) == 0 {
		a = parseLines(text)
	}

	a.Sentiment = normalizeSentiment(a.Sentiment)
	a.Topic = strings.ToLower(strings.TrimSpace(a.Topic))
	a.Hashtags = CleanHashtags(a.Hashtags)
	if a.Topic == "" && len(a.Hashtags) > 0 {
		a.Topic = a.Hashtags[0]
	}
	return a
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

func parseJSON(block string) (Analysis, bool) {
	var payload struct {
		Summary   string `json:"summary"`
		Sentiment string `json:"sentiment"`
		Topic     string `json:"topic"`
		Hashtags  []any  `json:"hashtags"`
	}
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return Analysis{}, false
	}

	a := Analysis{
		Summary:   strings.TrimSpace(payload.Summary),
		Sentiment: payload.Sentiment,
		Topic:     payload.Topic,
	}
	for _, tag := range payload.Hashtags {
		if s, ok := tag.(string); ok {
			a.Hashtags = append(a.Hashtags, s)
		}
	}
	return a, true
}

// repairTruncated closes an object cut off mid-stream so that the fields
// emitted before the cut are still recoverable.
func repairTruncated(block string) string {
	trimmed := strings.TrimRight(block, " \t\r\n,")
	if strings.Count(trimmed, `"`)%2 == 1 {
		trimmed += `"`
	}
	if open, closed := strings.Count(trimmed, "["), strings.Count(trimmed, "]"); open > closed {
		trimmed += strings.Repeat("]", open-closed)
	}
	if open, closed := strings.Count(trimmed, "{"), strings.Count(trimmed, "}"); open > closed {
		trimmed += strings.Repeat("}", open-closed)
	}
	return trimmed
}

func parseLines(text string) Analysis {
	var a Analysis
	for _, line := range strings.Split(text, "\n") {
		m := fieldLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := strings.Trim(strings.TrimSpace(m[2]), `"`)
		switch strings.ToLower(m[1]) {
		case "summary":
			a.Summary = value
		case "sentiment":
			a.Sentiment = value
		case "topic":
			a.Topic = value
		case "hashtags":
			value = strings.Trim(value, "[]")
			for _, tag := range strings.FieldsFunc(value, func(r rune) bool {
				return r == ',' || r == ' '
			}) {
				a.Hashtags = append(a.Hashtags, strings.Trim(tag, `"'`))
			}
		}
	}
	return a
}

// normalizeSentiment maps backend vocabulary (including the Russian
// labels some prompts produce) onto the pipeline's fixed set. Anything
// unrecognized defaults to neutral.
func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "позитивная", "позитивный":
		return domain.SentimentPositive
	case "negative", "негативная", "негативный":
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

// CleanHashtags strips punctuation, lowercases, replaces inner spaces
// with underscores and drops duplicates while preserving order.
func CleanHashtags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := tagCleanRe.ReplaceAllString(tag, "")
		t = strings.TrimSpace(t)
		t = strings.ReplaceAll(t, " ", "_")
		t = strings.ToLower(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		cleaned = append(cleaned, t)
	}
	return cleaned
}
