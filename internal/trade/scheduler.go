package trade

import (
	"context"
	"log/slog"
	"time"

	"github.com/swapyard/swapyard/internal/metrics"
)

// Scheduler periodically sweeps the expiry job queue and expires overdue
// pending trades.
//
// Delivery is at least once: a job is only marked done after Expire
// succeeds, and a crash between the two just means the next sweep runs
// Expire again, which is a no-op on a trade that already left pending.
type Scheduler struct {
	service  *Service
	store    Store
	interval time.Duration
	retry    time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
}

// NewScheduler creates a new expiry scheduler.
func NewScheduler(service *Service, store Store, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service:  service,
		store:    store,
		interval: 30 * time.Second,
		retry:    time.Minute,
		batch:    100,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// WithTiming overrides the sweep interval and retry backoff.
func (s *Scheduler) WithTiming(interval, retry time.Duration) *Scheduler {
	if interval > 0 {
		s.interval = interval
	}
	if retry > 0 {
		s.retry = retry
	}
	return s
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop signals the scheduler to stop. The buffered channel latches the
// signal even when Stop runs before the Start loop reaches its select.
func (s *Scheduler) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

// Sweep runs one pass over the due jobs. Errors are logged and the job is
// pushed back for retry; a sweep never fails the caller.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	due, err := s.store.ListDueExpiries(ctx, now, s.batch)
	if err != nil {
		s.logger.Error("list due expiries failed", "error", err)
		return
	}

	for _, tradeID := range due {
		if _, err := s.service.Expire(ctx, tradeID); err != nil {
			metrics.ExpiryJobsProcessedTotal.WithLabelValues("retried").Inc()
			s.logger.Error("expire trade failed",
				"trade_id", tradeID,
				"error", err)
			if err := s.store.RescheduleExpiry(ctx, tradeID, now.Add(s.retry)); err != nil {
				s.logger.Error("reschedule expiry failed",
					"trade_id", tradeID,
					"error", err)
			}
			continue
		}
		if err := s.store.MarkExpiryDone(ctx, tradeID); err != nil {
			// The job will fire again; Expire tolerates the replay.
			s.logger.Error("mark expiry done failed",
				"trade_id", tradeID,
				"error", err)
			continue
		}
		metrics.ExpiryJobsProcessedTotal.WithLabelValues("expired").Inc()
	}
}
