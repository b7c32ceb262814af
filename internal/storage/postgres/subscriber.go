package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"news_monitor/internal/domain"
)

// SubscriberStore reads and mutates subscriber records. The pipeline
// only reads; deactivation happens when a subscriber blocks the bot.
type SubscriberStore struct {
	db *sqlx.DB
}

func NewSubscriberStore(db *sqlx.DB) *SubscriberStore {
	return &SubscriberStore{db: db}
}

func (s *SubscriberStore) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	query := `SELECT chat_id, criteria, active FROM subscribers WHERE active`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list subscribers: %v", domain.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var sub domain.Subscriber
		if err := rows.Scan(&sub.ID, pq.Array(&sub.Criteria), &sub.Active); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// Upsert registers a subscriber or replaces their filter criteria.
func (s *SubscriberStore) Upsert(ctx context.Context, sub domain.Subscriber) error {
	query := `
		INSERT INTO subscribers (chat_id, criteria, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET
			criteria = EXCLUDED.criteria,
			active = EXCLUDED.active`

	_, err := s.db.ExecContext(ctx, query, sub.ID, pq.Array(sub.Criteria), sub.Active)
	if err != nil {
		return fmt.Errorf("upsert subscriber %d: %w", sub.ID, err)
	}
	return nil
}

func (s *SubscriberStore) Deactivate(ctx context.Context, subscriberID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE subscribers SET active = false WHERE chat_id = $1", subscriberID)
	if err != nil {
		return fmt.Errorf("deactivate subscriber %d: %w", subscriberID, err)
	}
	return nil
}
