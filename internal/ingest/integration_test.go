//go:build integration

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"news_monitor/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

// recordingProcessor captures processed posts and returns scripted
// outcomes, one per call, in order. The last outcome repeats.
type recordingProcessor struct {
	mu       sync.Mutex
	outcomes []domain.PipelineOutcome
	calls    []*domain.Post
	notify   chan struct{}
}

func newRecordingProcessor(outcomes ...domain.PipelineOutcome) *recordingProcessor {
	return &recordingProcessor{
		outcomes: outcomes,
		notify:   make(chan struct{}, 64),
	}
}

func (p *recordingProcessor) Process(_ context.Context, post *domain.Post) domain.PipelineOutcome {
	p.mu.Lock()
	p.calls = append(p.calls, post)
	idx := len(p.calls) - 1
	if idx >= len(p.outcomes) {
		idx = len(p.outcomes) - 1
	}
	outcome := p.outcomes[idx]
	p.mu.Unlock()

	p.notify <- struct{}{}
	return outcome
}

func (p *recordingProcessor) posts() []*domain.Post {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.Post(nil), p.calls...)
}

func (p *recordingProcessor) waitForCalls(t time.Duration, n int) bool {
	deadline := time.After(t)
	for i := 0; i < n; i++ {
		select {
		case <-p.notify:
		case <-deadline:
			return false
		}
	}
	return true
}

func (s *RabbitMQIntegrationSuite) publish(cfg Config, body []byte) {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	err = ch.PublishWithContext(s.ctx, cfg.Exchange, cfg.RoutingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	s.Require().NoError(err)
}

func (s *RabbitMQIntegrationSuite) queueDepth(queue string) int {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	s.Require().NoError(err)
	return q.Messages
}

func (s *RabbitMQIntegrationSuite) TestConsumer_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	consumer, err := NewConsumer(cfg, s.logger)
	s.NoError(err)
	s.NotNil(consumer)

	err = consumer.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) TestConsumer_ProcessesAndAcks() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-ack",
		RoutingKey: "test-routing-key-ack",
		QueueName:  "test-queue-ack",
	}

	consumer, err := NewConsumer(cfg, s.logger)
	s.Require().NoError(err)
	defer consumer.Close()

	processor := newRecordingProcessor(domain.PipelineOutcome{State: domain.StateDone})

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() { _ = consumer.Run(runCtx, processor, 2) }()

	msg := PostMessage{
		ChannelID:    "channel_a",
		MessageID:    100,
		ChannelTitle: "Test Channel",
		Text:         "post body",
	}
	body, err := json.Marshal(msg)
	s.Require().NoError(err)
	s.publish(cfg, body)

	s.Require().True(processor.waitForCalls(10*time.Second, 1))

	posts := processor.posts()
	s.Require().Len(posts, 1)
	s.Equal("channel_a", posts[0].Key.ChannelID)
	s.Equal(int64(100), posts[0].Key.MessageID)
	s.Equal("post body", posts[0].Text)
	s.False(posts[0].ReceivedAt.IsZero())

	// Acked messages must not remain in the queue.
	s.Eventually(func() bool {
		return s.queueDepth(cfg.QueueName) == 0
	}, 10*time.Second, 200*time.Millisecond)
}

func (s *RabbitMQIntegrationSuite) TestConsumer_RejectsMalformedWithoutRequeue() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-reject",
		RoutingKey: "test-routing-key-reject",
		QueueName:  "test-queue-reject",
	}

	consumer, err := NewConsumer(cfg, s.logger)
	s.Require().NoError(err)
	defer consumer.Close()

	processor := newRecordingProcessor(domain.PipelineOutcome{State: domain.StateDone})

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() { _ = consumer.Run(runCtx, processor, 1) }()

	s.publish(cfg, []byte("not json"))
	s.publish(cfg, []byte(`{"channel_id": "", "message_id": 0, "text": "missing key"}`))

	s.Eventually(func() bool {
		return s.queueDepth(cfg.QueueName) == 0
	}, 10*time.Second, 200*time.Millisecond)
	s.Empty(processor.posts())
}

func (s *RabbitMQIntegrationSuite) TestConsumer_RequeuesRetriableOutcome() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-requeue",
		RoutingKey: "test-routing-key-requeue",
		QueueName:  "test-queue-requeue",
	}

	consumer, err := NewConsumer(cfg, s.logger)
	s.Require().NoError(err)
	defer consumer.Close()

	storageDown := domain.PipelineOutcome{
		State: domain.StateReceived,
		Err:   fmt.Errorf("admit: %w", domain.ErrStorageUnavailable),
	}
	processor := newRecordingProcessor(storageDown, domain.PipelineOutcome{State: domain.StateDone})

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() { _ = consumer.Run(runCtx, processor, 1) }()

	msg := PostMessage{ChannelID: "channel_a", MessageID: 200, Text: "retriable"}
	body, err := json.Marshal(msg)
	s.Require().NoError(err)
	s.publish(cfg, body)

	// First attempt is nacked with requeue, the redelivery succeeds.
	s.Require().True(processor.waitForCalls(10*time.Second, 2))

	posts := processor.posts()
	s.Require().Len(posts, 2)
	s.Equal(posts[0].Key, posts[1].Key)

	s.Eventually(func() bool {
		return s.queueDepth(cfg.QueueName) == 0
	}, 10*time.Second, 200*time.Millisecond)
}
