package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"news_monitor/internal/domain"
)

// DedupStore is the storage-backed admission gate. The insert-if-absent
// on the primary key is the mutual exclusion between workers racing on
// one post key: exactly one insert wins.
type DedupStore struct {
	db *sqlx.DB
}

func NewDedupStore(db *sqlx.DB) *DedupStore {
	return &DedupStore{db: db}
}

// Admit claims the post key. It returns true exactly once per key; the
// seen-record is durable before Admit returns, so a crash between
// admission and downstream processing cannot produce duplicate
// notifications. Storage failures fail closed.
func (s *DedupStore) Admit(ctx context.Context, post *domain.Post) (bool, error) {
	if !post.Key.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidPostKey, post.Key)
	}

	query := `
		INSERT INTO processed_posts (channel_id, message_id, received_at, processed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (channel_id, message_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		post.Key.ChannelID,
		post.Key.MessageID,
		post.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("%w: admit %s: %v", domain.ErrStorageUnavailable, post.Key, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", domain.ErrStorageUnavailable, err)
	}

	return rows == 1, nil
}

// PurgeOlderThan removes admission records outside the retention
// horizon. It participates in a context-scoped transaction when one is
// present.
func (s *DedupStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM processed_posts WHERE processed_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge processed posts: %w", err)
	}
	return res.RowsAffected()
}
