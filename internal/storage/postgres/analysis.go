package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"news_monitor/internal/domain"
)

// AnalysisStore persists analysis results, at most one per post key.
type AnalysisStore struct {
	db *sqlx.DB
}

func NewAnalysisStore(db *sqlx.DB) *AnalysisStore {
	return &AnalysisStore{db: db}
}

// Save inserts the result for a post. A second save for the same key is
// a no-op: results are immutable once created.
func (s *AnalysisStore) Save(ctx context.Context, result *domain.AnalysisResult) error {
	query := `
		INSERT INTO analysis_results (
			channel_id, message_id, summary, sentiment, topic, hashtags,
			model_used, quality_score, produced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (channel_id, message_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		result.PostKey.ChannelID,
		result.PostKey.MessageID,
		result.Summary,
		result.Sentiment,
		result.Topic,
		pq.Array(result.Hashtags),
		result.ModelUsed,
		result.QualityScore,
		result.ProducedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save analysis: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// GetByPost returns the stored result for a post, or nil when none
// exists yet.
func (s *AnalysisStore) GetByPost(ctx context.Context, key domain.PostKey) (*domain.AnalysisResult, error) {
	query := `
		SELECT summary, sentiment, topic, hashtags, model_used, quality_score, produced_at
		FROM analysis_results
		WHERE channel_id = $1 AND message_id = $2`

	result := domain.AnalysisResult{PostKey: key}
	row := s.db.QueryRowContext(ctx, query, key.ChannelID, key.MessageID)
	err := row.Scan(
		&result.Summary,
		&result.Sentiment,
		&result.Topic,
		pq.Array(&result.Hashtags),
		&result.ModelUsed,
		&result.QualityScore,
		&result.ProducedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get analysis %s: %w", key, err)
	}
	return &result, nil
}
