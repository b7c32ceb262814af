package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"news_monitor/internal/domain"
)

// Config sizes the coordinator's worker pool.
type Config struct {
	Workers   int
	QueueSize int
}

// ProcessStats counts terminal pipeline states since process start.
type ProcessStats struct {
	Done               atomic.Int64
	Duplicates         atomic.Int64
	AnalysisFailed     atomic.Int64
	PartiallyDelivered atomic.Int64
	StorageErrors      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the terminal-state counters.
type StatsSnapshot struct {
	Done               int64
	Duplicates         int64
	AnalysisFailed     int64
	PartiallyDelivered int64
	StorageErrors      int64
}

// Coordinator wires dedup, analysis and dispatch into a per-post stage
// sequence and runs posts concurrently across a bounded worker pool.
// Within one post the stages are strictly sequential; across posts no
// ordering is guaranteed.
type Coordinator struct {
	dedup       Deduplicator
	analyzer    Analyzer
	dispatcher  Dispatcher
	subscribers SubscriberSource
	results     ResultStore
	logger      *slog.Logger
	cfg         Config

	stats ProcessStats
	tasks chan *domain.Post
	wg    sync.WaitGroup
}

func NewCoordinator(
	dedup Deduplicator,
	analyzer Analyzer,
	dispatcher Dispatcher,
	subscribers SubscriberSource,
	results ResultStore,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Coordinator{
		dedup:       dedup,
		analyzer:    analyzer,
		dispatcher:  dispatcher,
		subscribers: subscribers,
		results:     results,
		logger:      logger,
		cfg:         cfg,
		tasks:       make(chan *domain.Post, cfg.QueueSize),
	}
}

// Start launches the worker pool and blocks until ctx is cancelled and
// all in-flight posts have finished.
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info("pipeline started", "workers", c.cfg.Workers)

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case post := <-c.tasks:
					c.Process(ctx, post)
				}
			}
		}()
	}

	c.wg.Wait()
	c.logger.Info("pipeline stopped")
}

// Submit enqueues a post for processing. It blocks when the queue is
// full so that a slow pipeline applies backpressure to the transport.
func (c *Coordinator) Submit(ctx context.Context, post *domain.Post) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.tasks <- post:
		return nil
	}
}

// Process runs one post through the full state machine and returns its
// terminal outcome. Dispatch of this post never blocks admission or
// analysis of other posts: each post occupies exactly one worker.
func (c *Coordinator) Process(ctx context.Context, post *domain.Post) domain.PipelineOutcome {
	logger := c.logger.With("post", post.Key)

	admitted, err := c.dedup.Admit(ctx, post)
	if err != nil {
		c.stats.StorageErrors.Add(1)
		logger.Error("admission failed", "error", err)
		// Fail closed: the post is not admitted, but the error is
		// surfaced so the transport can redeliver later.
		return domain.PipelineOutcome{
			PostKey: post.Key,
			State:   domain.StateReceived,
			Err:     fmt.Errorf("admit post: %w", err),
		}
	}
	if !admitted {
		c.stats.Duplicates.Add(1)
		logger.Debug("duplicate post dropped")
		return domain.PipelineOutcome{
			PostKey: post.Key,
			State:   domain.StateDuplicate,
			Err:     domain.ErrDuplicatePost,
		}
	}

	result, err := c.analyzer.Analyze(ctx, post)
	if err != nil {
		c.stats.AnalysisFailed.Add(1)
		logger.Error("analysis failed", "error", err)
		return domain.PipelineOutcome{
			PostKey: post.Key,
			State:   domain.StateAnalysisFailed,
			Err:     err,
		}
	}

	logger.Info("post analyzed",
		"model", result.ModelUsed,
		"topic", result.Topic,
		"sentiment", result.Sentiment,
		"quality", result.QualityScore,
	)

	if err := c.results.Save(ctx, result); err != nil {
		// The notification contract is delivery, not persistence;
		// losing the stored copy is an observability gap, not a stop.
		logger.Error("failed to persist analysis result", "error", err)
	}

	subs, err := c.subscribers.ListActive(ctx)
	if err != nil {
		c.stats.PartiallyDelivered.Add(1)
		logger.Error("failed to list subscribers", "error", err)
		return domain.PipelineOutcome{
			PostKey: post.Key,
			State:   domain.StatePartiallyDelivered,
			Result:  result,
			Err:     fmt.Errorf("list subscribers: %w", err),
		}
	}

	attempts := c.dispatcher.Dispatch(ctx, result, post, subs)

	state := domain.StateDone
	for _, a := range attempts {
		if a.Status == domain.DeliveryAbandoned {
			state = domain.StatePartiallyDelivered
			break
		}
	}

	switch state {
	case domain.StateDone:
		c.stats.Done.Add(1)
	case domain.StatePartiallyDelivered:
		c.stats.PartiallyDelivered.Add(1)
	}

	logger.Info("post processed",
		"state", state,
		"deliveries", len(attempts),
	)

	return domain.PipelineOutcome{
		PostKey:    post.Key,
		State:      state,
		Result:     result,
		Deliveries: attempts,
	}
}

// Stats returns the terminal-state counters.
func (c *Coordinator) Stats() StatsSnapshot {
	return StatsSnapshot{
		Done:               c.stats.Done.Load(),
		Duplicates:         c.stats.Duplicates.Load(),
		AnalysisFailed:     c.stats.AnalysisFailed.Load(),
		PartiallyDelivered: c.stats.PartiallyDelivered.Load(),
		StorageErrors:      c.stats.StorageErrors.Load(),
	}
}

// Retriable reports whether the outcome should be redelivered by the
// transport rather than acknowledged.
func Retriable(outcome domain.PipelineOutcome) bool {
	return outcome.Err != nil && errors.Is(outcome.Err, domain.ErrStorageUnavailable)
}
