package pipeline

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"news_monitor/internal/domain"
)

// Deduplicator decides whether a post has already been claimed for
// processing. Admit returns true exactly once per distinct post key;
// the admission record is written before it returns.
type Deduplicator interface {
	Admit(ctx context.Context, post *domain.Post) (bool, error)
}

// Analyzer produces the single AnalysisResult for an admitted post.
type Analyzer interface {
	Analyze(ctx context.Context, post *domain.Post) (*domain.AnalysisResult, error)
}

// Dispatcher delivers a result to every matching subscriber and returns
// the attempts made.
type Dispatcher interface {
	Dispatch(ctx context.Context, result *domain.AnalysisResult, post *domain.Post, subs []domain.Subscriber) []domain.DeliveryAttempt
}

// SubscriberSource lists the subscribers eligible for delivery.
type SubscriberSource interface {
	ListActive(ctx context.Context) ([]domain.Subscriber, error)
}

// ResultStore persists analysis results.
type ResultStore interface {
	Save(ctx context.Context, result *domain.AnalysisResult) error
}
