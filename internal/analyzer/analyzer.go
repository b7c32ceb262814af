package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"news_monitor/internal/domain"
)

//go:generate mockgen -source=analyzer.go -destination=mocks/mocks.go -package=mocks

// Invoker is one named analysis backend.
type Invoker interface {
	Name() string
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Config holds the analyzer's retry and sizing policy.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	CallTimeout    time.Duration
	MaxTextLength  int
}

// Analyzer turns an admitted post into exactly one AnalysisResult. It
// owns retries against a backend; which backend to use comes from the
// Router and is pinned for the lifetime of the request.
type Analyzer struct {
	router   *Router
	backends map[string]Invoker
	stats    *ModelUsageStats
	cfg      Config
	weights  QualityWeights
	logger   *slog.Logger
}

func New(router *Router, backends []Invoker, stats *ModelUsageStats, cfg Config, logger *slog.Logger) *Analyzer {
	byName := make(map[string]Invoker, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	return &Analyzer{
		router:   router,
		backends: byName,
		stats:    stats,
		cfg:      cfg,
		weights:  DefaultQualityWeights(),
		logger:   logger,
	}
}

// Analyze invokes the routed backend, parses its response and scores it.
// On exhausted retries it falls back to the secondary backend once; if
// that also fails the post is terminal with ErrAnalysisFailed.
func (a *Analyzer) Analyze(ctx context.Context, post *domain.Post) (*domain.AnalysisResult, error) {
	choice := a.router.Route()
	prompt := buildPrompt(truncateRunes(post.Text, a.cfg.MaxTextLength))

	raw, err := a.invokeWithRetry(ctx, choice.Backend, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fallback, ok := a.router.Fallback(choice)
		if !ok {
			return nil, fmt.Errorf("%w: %v", domain.ErrAnalysisFailed, err)
		}

		a.logger.Warn("backend exhausted retries, falling back",
			"post", post.Key,
			"backend", choice.Backend,
			"fallback", fallback.Backend,
			"error", err,
		)
		a.stats.RecordFallback(fallback.Backend)

		raw, err = a.invokeOnce(ctx, fallback.Backend, prompt)
		if err != nil {
			return nil, fmt.Errorf("%w: all backends failed: %v", domain.ErrAnalysisFailed, err)
		}
		choice = fallback
	}

	parsed := Parse(raw)
	score := QualityScore(parsed, post.Text, a.weights)
	modelUsed := choice.Backend

	if a.router.ShouldGate(choice, score) {
		if fallback, ok := a.router.Fallback(choice); ok {
			a.logger.Info("quality below threshold, re-invoking fallback",
				"post", post.Key,
				"backend", choice.Backend,
				"score", score,
				"threshold", a.router.Threshold(),
			)
			a.stats.RecordFallback(fallback.Backend)

			gatedRaw, gatedErr := a.invokeOnce(ctx, fallback.Backend, prompt)
			if gatedErr == nil {
				// The primary attempt stays counted as overridden; the
				// fallback's output becomes the result.
				parsed = Parse(gatedRaw)
				score = QualityScore(parsed, post.Text, a.weights)
				modelUsed = fallback.Backend
			} else {
				a.logger.Warn("quality fallback failed, keeping primary result",
					"post", post.Key,
					"error", gatedErr,
				)
			}
		}
	}

	return &domain.AnalysisResult{
		PostKey:      post.Key,
		Summary:      parsed.Summary,
		Sentiment:    parsed.Sentiment,
		Topic:        parsed.Topic,
		Hashtags:     parsed.Hashtags,
		ModelUsed:    modelUsed,
		QualityScore: score,
		ProducedAt:   time.Now().UTC(),
	}, nil
}

// invokeWithRetry retries the same backend with exponential backoff.
// The backend choice is never re-rolled across attempts.
func (a *Analyzer) invokeWithRetry(ctx context.Context, backendName, prompt string) (string, error) {
	var lastErr error

	attempts := a.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := a.invokeOnce(ctx, backendName, prompt)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		backoff := a.cfg.InitialBackoff << (attempt - 1)
		a.logger.Warn("backend call failed, retrying",
			"backend", backendName,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return "", fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (a *Analyzer) invokeOnce(ctx context.Context, backendName, prompt string) (string, error) {
	invoker, ok := a.backends[backendName]
	if !ok {
		return "", fmt.Errorf("unknown backend: %q", backendName)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	a.stats.RecordInvocation(backendName)
	return invoker.Invoke(callCtx, prompt)
}

var topicCategories = []string{
	"politics", "economy", "incidents", "sports", "science_tech",
	"culture", "society", "world", "medicine", "education",
	"ecology", "transport",
}

func buildPrompt(text string) string {
	return fmt.Sprintf(`Analyze the news post below and respond with JSON only, in this exact format:
{"summary": "one or two sentence summary in the post's language", "sentiment": "positive|negative|neutral", "topic": "one category", "hashtags": ["tag1", "tag2", "tag3"]}

Rules:
1. topic: exactly one of: %s
2. sentiment: exactly one of: positive, negative, neutral
3. hashtags: 3-5 unique lowercase tags taken from the post's own words

Post:
%s

JSON:`, strings.Join(topicCategories, ", "), text)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
