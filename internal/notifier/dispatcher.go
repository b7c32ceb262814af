package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"news_monitor/internal/domain"
)

//go:generate mockgen -source=dispatcher.go -destination=mocks/mocks.go -package=mocks

// Transport sends one rendered notification to one subscriber.
type Transport interface {
	Send(ctx context.Context, subscriberID int64, text string) error
}

// DeliveryRecorder persists delivery attempts.
type DeliveryRecorder interface {
	Record(ctx context.Context, attempt domain.DeliveryAttempt) error
}

// SubscriberDeactivator turns off delivery for a subscriber that blocked
// the bot.
type SubscriberDeactivator interface {
	Deactivate(ctx context.Context, subscriberID int64) error
}

// Config holds the dispatcher's retry policy.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Dispatcher delivers an analysis result to every matching subscriber.
// Subscribers are handled concurrently; attempts for one subscriber are
// strictly sequential. A subscriber exhausting its attempts or hitting a
// permanent error is abandoned without affecting the others.
type Dispatcher struct {
	transport   Transport
	deliveries  DeliveryRecorder
	subscribers SubscriberDeactivator
	cfg         Config
	logger      *slog.Logger
}

func NewDispatcher(
	transport Transport,
	deliveries DeliveryRecorder,
	subscribers SubscriberDeactivator,
	cfg Config,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		transport:   transport,
		deliveries:  deliveries,
		subscribers: subscribers,
		cfg:         cfg,
		logger:      logger,
	}
}

// Dispatch fans the result out to the matching subset of subs and returns
// every attempt made. It blocks until all subscribers reach a terminal
// status for this post.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	result *domain.AnalysisResult,
	post *domain.Post,
	subs []domain.Subscriber,
) []domain.DeliveryAttempt {
	text := FormatMessage(result, post)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		attempts []domain.DeliveryAttempt
	)

	for _, sub := range subs {
		if !Matches(result, sub) {
			continue
		}

		wg.Add(1)
		go func(sub domain.Subscriber) {
			defer wg.Done()
			history := d.deliverTo(ctx, result.PostKey, sub, text)
			mu.Lock()
			attempts = append(attempts, history...)
			mu.Unlock()
		}(sub)
	}

	wg.Wait()
	return attempts
}

// deliverTo runs the sequential attempt loop for one subscriber.
func (d *Dispatcher) deliverTo(
	ctx context.Context,
	key domain.PostKey,
	sub domain.Subscriber,
	text string,
) []domain.DeliveryAttempt {
	var history []domain.DeliveryAttempt

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		err := d.transport.Send(ctx, sub.ID, text)

		record := domain.DeliveryAttempt{
			PostKey:      key,
			SubscriberID: sub.ID,
			Attempt:      attempt,
			AttemptedAt:  time.Now().UTC(),
		}

		switch {
		case err == nil:
			record.Status = domain.DeliveryDelivered
		case domain.PermanentDeliveryError(err):
			record.Status = domain.DeliveryAbandoned
			record.Error = err.Error()
		case attempt == d.cfg.MaxAttempts:
			record.Status = domain.DeliveryAbandoned
			record.Error = err.Error()
		default:
			record.Status = domain.DeliveryFailed
			record.Error = err.Error()
		}

		if recErr := d.deliveries.Record(ctx, record); recErr != nil {
			d.logger.Error("failed to record delivery attempt",
				"post", key,
				"subscriber", sub.ID,
				"error", recErr,
			)
		}
		history = append(history, record)

		if record.Status == domain.DeliveryDelivered {
			return history
		}
		if record.Status == domain.DeliveryAbandoned {
			d.logger.Warn("delivery abandoned",
				"post", key,
				"subscriber", sub.ID,
				"attempts", attempt,
				"error", err,
			)
			if errors.Is(err, domain.ErrBlockedByUser) {
				d.deactivateBlocked(ctx, sub.ID)
			}
			return history
		}

		backoff := d.backoff(attempt)
		d.logger.Debug("delivery attempt failed, retrying",
			"post", key,
			"subscriber", sub.ID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return history
		case <-time.After(backoff):
		}
	}

	return history
}

func (d *Dispatcher) deactivateBlocked(ctx context.Context, subscriberID int64) {
	if deErr := d.subscribers.Deactivate(ctx, subscriberID); deErr != nil {
		d.logger.Error("failed to deactivate blocked subscriber",
			"subscriber", subscriberID,
			"error", deErr,
		)
	} else {
		d.logger.Info("deactivated blocked subscriber", "subscriber", subscriberID)
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	backoff := d.cfg.BaseBackoff << (attempt - 1)
	if backoff > d.cfg.MaxBackoff {
		backoff = d.cfg.MaxBackoff
	}
	return backoff
}

var sentimentHashtags = map[string]string{
	domain.SentimentPositive: "#positive_news",
	domain.SentimentNegative: "#negative_news",
	domain.SentimentNeutral:  "#neutral_news",
}

// FormatMessage renders the notification text for one analyzed post.
func FormatMessage(result *domain.AnalysisResult, post *domain.Post) string {
	var sb strings.Builder

	title := post.ChannelTitle
	if title == "" {
		title = post.Key.ChannelID
	}
	fmt.Fprintf(&sb, "Analysis from «%s»\n\n", title)

	if result.Summary != "" {
		fmt.Fprintf(&sb, "Summary:\n%s\n\n", result.Summary)
	}
	if link := post.Link(); link != "" {
		fmt.Fprintf(&sb, "Original: %s\n\n", link)
	}

	for i, tag := range result.Hashtags {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("#" + tag)
	}
	if len(result.Hashtags) > 0 {
		sb.WriteString("\n")
	}

	if h, ok := sentimentHashtags[result.Sentiment]; ok {
		sb.WriteString(h)
	}

	return sb.String()
}
