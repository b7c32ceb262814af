package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes rows older than the cutoff and reports how many went.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Transactor runs a function inside a single database transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Sweeper periodically deletes admission records and delivery history
// that fell outside the retention horizon. Both tables are purged in
// one transaction so the histories stay consistent with the admission
// records they belong to.
type Sweeper struct {
	tx       Transactor
	purgers  []Purger
	horizon  time.Duration
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(tx Transactor, horizon, interval time.Duration, logger *slog.Logger, purgers ...Purger) *Sweeper {
	return &Sweeper{
		tx:       tx,
		purgers:  purgers,
		horizon:  horizon,
		interval: interval,
		logger:   logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("retention sweeper started",
		"horizon", s.horizon,
		"interval", s.interval,
	)

	s.runSweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Sweeper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.horizon)

	var total int64
	err := s.tx.WithTransaction(sweepCtx, func(txCtx context.Context) error {
		for _, p := range s.purgers {
			purged, err := p.PurgeOlderThan(txCtx, cutoff)
			if err != nil {
				return err
			}
			total += purged
		}
		return nil
	})
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}

	if total > 0 {
		s.logger.Info("retention sweep completed", "purged", total, "cutoff", cutoff)
	}
}
