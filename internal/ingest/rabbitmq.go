package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"news_monitor/internal/domain"
	"news_monitor/internal/pipeline"
)

// Processor runs one post through the pipeline and reports the outcome.
// Implemented by pipeline.Coordinator.
type Processor interface {
	Process(ctx context.Context, post *domain.Post) domain.PipelineOutcome
}

type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// NewConsumer connects to RabbitMQ and declares the post exchange,
// queue, and binding. Declaration is idempotent, so consumer and
// producer sides can start in any order.
func NewConsumer(cfg Config, logger *slog.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &Consumer{
		conn:    conn,
		channel: ch,
		queue:   q.Name,
		logger:  logger,
	}, nil
}

// PostMessage is the wire format of an incoming channel post.
type PostMessage struct {
	ChannelID       string    `json:"channel_id"`
	MessageID       int64     `json:"message_id"`
	ChannelTitle    string    `json:"channel_title,omitempty"`
	ChannelUsername string    `json:"channel_username,omitempty"`
	Text            string    `json:"text"`
	ReceivedAt      time.Time `json:"received_at,omitempty"`
}

// Run consumes posts from the queue with a bounded number of handler
// goroutines, acknowledging each message after its pipeline outcome is
// known. Qos prefetch matches the worker count so the broker never
// hands out more unacked messages than the pool can process. Run
// blocks until ctx is cancelled or the delivery channel closes.
//
// Malformed messages are rejected without requeue. Messages whose
// outcome is retriable (admission could not be decided because storage
// was unavailable) are nacked with requeue so the broker redelivers
// them.
func (c *Consumer) Run(ctx context.Context, processor Processor, workers int) error {
	if workers < 1 {
		workers = 1
	}
	if err := c.channel.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := c.channel.Consume(
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case delivery, ok := <-deliveries:
					if !ok {
						return
					}
					c.handle(ctx, processor, delivery)
				}
			}
		}()
	}
	wg.Wait()

	return ctx.Err()
}

func (c *Consumer) handle(ctx context.Context, processor Processor, delivery amqp.Delivery) {
	post, err := decodePost(delivery.Body)
	if err != nil {
		c.logger.Warn("rejecting malformed message", "error", err)
		_ = delivery.Reject(false)
		return
	}

	outcome := processor.Process(ctx, post)
	if pipeline.Retriable(outcome) {
		c.logger.Warn("requeueing post after storage error",
			"post", post.Key.String(),
			"error", outcome.Err,
		)
		_ = delivery.Nack(false, true)
		return
	}

	c.logger.Debug("post processed",
		"post", post.Key.String(),
		"state", string(outcome.State),
	)
	_ = delivery.Ack(false)
}

func decodePost(body []byte) (*domain.Post, error) {
	var msg PostMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal post message: %w", err)
	}

	post := &domain.Post{
		Key:             domain.PostKey{ChannelID: msg.ChannelID, MessageID: msg.MessageID},
		ChannelTitle:    msg.ChannelTitle,
		ChannelUsername: msg.ChannelUsername,
		Text:            msg.Text,
		ReceivedAt:      msg.ReceivedAt,
	}
	if !post.Key.Valid() {
		return nil, fmt.Errorf("invalid post key %q/%d", msg.ChannelID, msg.MessageID)
	}
	if post.ReceivedAt.IsZero() {
		post.ReceivedAt = time.Now().UTC()
	}
	return post, nil
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
