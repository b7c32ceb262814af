package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"news_monitor/internal/domain"
)

// DeliveryStore persists the per-subscriber delivery history.
type DeliveryStore struct {
	db *sqlx.DB
}

func NewDeliveryStore(db *sqlx.DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

func (s *DeliveryStore) Record(ctx context.Context, attempt domain.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (
			channel_id, message_id, subscriber_id, attempt, status, error, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		attempt.PostKey.ChannelID,
		attempt.PostKey.MessageID,
		attempt.SubscriberID,
		attempt.Attempt,
		string(attempt.Status),
		attempt.Error,
		attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: record attempt: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// HistoryByPost returns every attempt for one post, ordered by
// subscriber and attempt number.
func (s *DeliveryStore) HistoryByPost(ctx context.Context, key domain.PostKey) ([]domain.DeliveryAttempt, error) {
	query := `
		SELECT subscriber_id, attempt, status, error, attempted_at
		FROM delivery_attempts
		WHERE channel_id = $1 AND message_id = $2
		ORDER BY subscriber_id, attempt`

	rows, err := s.db.QueryContext(ctx, query, key.ChannelID, key.MessageID)
	if err != nil {
		return nil, fmt.Errorf("query delivery history: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		a := domain.DeliveryAttempt{PostKey: key}
		var status string
		if err := rows.Scan(&a.SubscriberID, &a.Attempt, &status, &a.Error, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		a.Status = domain.DeliveryStatus(status)
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

// PurgeOlderThan removes attempts outside the retention horizon. It
// participates in a context-scoped transaction when one is present.
func (s *DeliveryStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM delivery_attempts WHERE attempted_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge delivery attempts: %w", err)
	}
	return res.RowsAffected()
}
