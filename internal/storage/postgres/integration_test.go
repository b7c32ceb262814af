//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"news_monitor/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_processed_posts.up.sql"),
			filepath.Join(migrationsPath, "002_create_subscribers.up.sql"),
			filepath.Join(migrationsPath, "003_create_analysis_results.up.sql"),
			filepath.Join(migrationsPath, "004_create_delivery_attempts.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM delivery_attempts")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM analysis_results")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM subscribers")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM processed_posts")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func testPost(channelID string, messageID int64) *domain.Post {
	return &domain.Post{
		Key:          domain.PostKey{ChannelID: channelID, MessageID: messageID},
		ChannelTitle: "Test Channel",
		Text:         "some post text",
		ReceivedAt:   time.Now().Truncate(time.Microsecond),
	}
}

func (s *PostgresIntegrationSuite) TestDedupStore_Admit_FirstWins() {
	store := NewDedupStore(s.db)
	post := testPost("channel_a", 100)

	admitted, err := store.Admit(s.ctx, post)
	s.NoError(err)
	s.True(admitted)

	admitted, err = store.Admit(s.ctx, post)
	s.NoError(err)
	s.False(admitted)
}

func (s *PostgresIntegrationSuite) TestDedupStore_Admit_DistinctKeysIndependent() {
	store := NewDedupStore(s.db)

	admitted, err := store.Admit(s.ctx, testPost("channel_a", 100))
	s.NoError(err)
	s.True(admitted)

	admitted, err = store.Admit(s.ctx, testPost("channel_b", 100))
	s.NoError(err)
	s.True(admitted)

	admitted, err = store.Admit(s.ctx, testPost("channel_a", 101))
	s.NoError(err)
	s.True(admitted)
}

func (s *PostgresIntegrationSuite) TestDedupStore_Admit_ConcurrentRace() {
	store := NewDedupStore(s.db)
	post := testPost("channel_a", 200)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted, err := store.Admit(s.ctx, post)
			s.NoError(err)
			wins <- admitted
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for admitted := range wins {
		if admitted {
			won++
		}
	}
	s.Equal(1, won)
}

func (s *PostgresIntegrationSuite) TestDedupStore_Admit_InvalidKey() {
	store := NewDedupStore(s.db)
	post := &domain.Post{Key: domain.PostKey{ChannelID: "", MessageID: 0}}

	admitted, err := store.Admit(s.ctx, post)
	s.ErrorIs(err, domain.ErrInvalidPostKey)
	s.False(admitted)
}

func (s *PostgresIntegrationSuite) TestSubscriberStore_ListActive() {
	store := NewSubscriberStore(s.db)

	s.NoError(store.Upsert(s.ctx, domain.Subscriber{ID: 1, Criteria: []string{"economy"}, Active: true}))
	s.NoError(store.Upsert(s.ctx, domain.Subscriber{ID: 2, Criteria: []string{"all"}, Active: true}))
	s.NoError(store.Upsert(s.ctx, domain.Subscriber{ID: 3, Criteria: []string{"sports"}, Active: false}))

	subs, err := store.ListActive(s.ctx)
	s.NoError(err)
	s.Len(subs, 2)

	ids := make(map[int64][]string)
	for _, sub := range subs {
		ids[sub.ID] = sub.Criteria
	}
	s.Equal([]string{"economy"}, ids[1])
	s.Equal([]string{"all"}, ids[2])
	s.NotContains(ids, int64(3))
}

func (s *PostgresIntegrationSuite) TestSubscriberStore_Upsert_ReplacesCriteria() {
	store := NewSubscriberStore(s.db)

	s.NoError(store.Upsert(s.ctx, domain.Subscriber{ID: 1, Criteria: []string{"economy"}, Active: true}))
	s.NoError(store.Upsert(s.ctx, domain.Subscriber{ID: 1, Criteria: []string{"politics", "tech"}, Active: true}))

	subs, err := store.ListActive(s.ctx)
	s.NoError(err)
	s.Require().Len(subs, 1)
	s.Equal([]string{"politics", "tech"}, subs[0].Criteria)
}

func (s *PostgresIntegrationSuite) TestSubscriberStore_Deactivate() {
	store := NewSubscriberStore(s.db)

	s.NoError(store.Upsert(s.ctx, domain.Subscriber{ID: 1, Criteria: []string{"all"}, Active: true}))
	s.NoError(store.Deactivate(s.ctx, 1))

	subs, err := store.ListActive(s.ctx)
	s.NoError(err)
	s.Empty(subs)
}

func (s *PostgresIntegrationSuite) TestAnalysisStore_Save_FirstResultSticks() {
	store := NewAnalysisStore(s.db)
	key := domain.PostKey{ChannelID: "channel_a", MessageID: 100}
	now := time.Now().Truncate(time.Microsecond)

	first := &domain.AnalysisResult{
		PostKey:      key,
		Summary:      "first summary",
		Sentiment:    domain.SentimentNeutral,
		Topic:        "economy",
		Hashtags:     []string{"economy", "rates"},
		ModelUsed:    "enhanced",
		QualityScore: 0.8,
		ProducedAt:   now,
	}
	s.NoError(store.Save(s.ctx, first))

	second := *first
	second.Summary = "second summary"
	s.NoError(store.Save(s.ctx, &second))

	stored, err := store.GetByPost(s.ctx, key)
	s.NoError(err)
	s.Require().NotNil(stored)
	s.Equal("first summary", stored.Summary)
	s.Equal([]string{"economy", "rates"}, stored.Hashtags)
	s.Equal("enhanced", stored.ModelUsed)
	s.InDelta(0.8, stored.QualityScore, 1e-9)
}

func (s *PostgresIntegrationSuite) TestAnalysisStore_GetByPost_Missing() {
	store := NewAnalysisStore(s.db)

	stored, err := store.GetByPost(s.ctx, domain.PostKey{ChannelID: "nope", MessageID: 1})
	s.NoError(err)
	s.Nil(stored)
}

func (s *PostgresIntegrationSuite) TestDeliveryStore_RecordAndHistory() {
	store := NewDeliveryStore(s.db)
	key := domain.PostKey{ChannelID: "channel_a", MessageID: 100}
	now := time.Now().Truncate(time.Microsecond)

	attempts := []domain.DeliveryAttempt{
		{PostKey: key, SubscriberID: 1, Attempt: 1, Status: domain.DeliveryFailed, Error: "timeout", AttemptedAt: now},
		{PostKey: key, SubscriberID: 1, Attempt: 2, Status: domain.DeliveryDelivered, AttemptedAt: now.Add(2 * time.Second)},
		{PostKey: key, SubscriberID: 2, Attempt: 1, Status: domain.DeliveryDelivered, AttemptedAt: now},
	}
	for _, attempt := range attempts {
		s.NoError(store.Record(s.ctx, attempt))
	}

	history, err := store.HistoryByPost(s.ctx, key)
	s.NoError(err)
	s.Require().Len(history, 3)

	s.Equal(int64(1), history[0].SubscriberID)
	s.Equal(1, history[0].Attempt)
	s.Equal(domain.DeliveryFailed, history[0].Status)
	s.Equal("timeout", history[0].Error)

	s.Equal(int64(1), history[1].SubscriberID)
	s.Equal(2, history[1].Attempt)
	s.Equal(domain.DeliveryDelivered, history[1].Status)

	s.Equal(int64(2), history[2].SubscriberID)
}

func (s *PostgresIntegrationSuite) TestRetention_PurgeInTransaction() {
	tm := NewTransactionManager(s.db)
	dedup := NewDedupStore(s.db)
	deliveries := NewDeliveryStore(s.db)

	old := time.Now().Add(-48 * time.Hour).Truncate(time.Microsecond)
	fresh := time.Now().Truncate(time.Microsecond)

	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO processed_posts (channel_id, message_id, received_at, processed_at)
		VALUES ('channel_a', 1, $1, $1), ('channel_a', 2, $2, $2)
	`, old, fresh)
	s.NoError(err)

	s.NoError(deliveries.Record(s.ctx, domain.DeliveryAttempt{
		PostKey:      domain.PostKey{ChannelID: "channel_a", MessageID: 1},
		SubscriberID: 1, Attempt: 1, Status: domain.DeliveryDelivered, AttemptedAt: old,
	}))
	s.NoError(deliveries.Record(s.ctx, domain.DeliveryAttempt{
		PostKey:      domain.PostKey{ChannelID: "channel_a", MessageID: 2},
		SubscriberID: 1, Attempt: 1, Status: domain.DeliveryDelivered, AttemptedAt: fresh,
	}))

	cutoff := time.Now().Add(-24 * time.Hour)
	err = tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := dedup.PurgeOlderThan(ctx, cutoff); err != nil {
			return err
		}
		_, err := deliveries.PurgeOlderThan(ctx, cutoff)
		return err
	})
	s.NoError(err)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM processed_posts"))
	s.Equal(1, count)
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM delivery_attempts"))
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestRetention_RollbackKeepsRows() {
	tm := NewTransactionManager(s.db)
	dedup := NewDedupStore(s.db)

	old := time.Now().Add(-48 * time.Hour)
	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO processed_posts (channel_id, message_id, received_at, processed_at)
		VALUES ('channel_a', 1, $1, $1)
	`, old)
	s.NoError(err)

	err = tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := dedup.PurgeOlderThan(ctx, time.Now()); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM processed_posts"))
	s.Equal(1, count)
}
