package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reaper is a background worker that periodically expires terminal jobs past
// their retention TTL and cancels jobs whose cancellation was requested but
// never observed by a dispatcher checkpoint (spec.md §4.3).
type Reaper struct {
	store        *Store
	logger       *slog.Logger
	interval     time.Duration
	resultTTL    time.Duration
	cancelledTTL time.Duration
	metric       *prometheus.CounterVec // jobs_reaped_total{action}
}

// NewReaper creates a job Reaper ticking at the given interval. resultTTL and
// cancelledTTL are the retention windows newly-terminal jobs receive when the
// reaper itself performs the timeout/cancel transition (spec.md §3: a job
// moved to failed{kind=timeout} still ages out under result_ttl, not
// instantly).
func NewReaper(store *Store, logger *slog.Logger, interval, resultTTL, cancelledTTL time.Duration, metric *prometheus.CounterVec) *Reaper {
	return &Reaper{store: store, logger: logger, interval: interval, resultTTL: resultTTL, cancelledTTL: cancelledTTL, metric: metric}
}

// Run starts the reaper loop. It blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("job reaper started", "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job reaper stopped")
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.logger.Error("job reaper tick", "error", err)
			}
		}
	}
}

// tick performs a single reap pass.
func (r *Reaper) tick(ctx context.Context) error {
	timedOut, cancelled, deleted, err := r.store.Reap(ctx, time.Now(), r.resultTTL, r.cancelledTTL)
	if err != nil {
		return err
	}
	if timedOut > 0 {
		r.metric.WithLabelValues("timeout").Add(float64(timedOut))
		r.logger.Debug("reaped timed-out jobs", "count", timedOut)
	}
	if cancelled > 0 {
		r.metric.WithLabelValues("cancelled").Add(float64(cancelled))
		r.logger.Debug("reaped cancel-requested jobs", "count", cancelled)
	}
	if deleted > 0 {
		r.metric.WithLabelValues("deleted").Add(float64(deleted))
		r.logger.Debug("deleted expired jobs", "count", deleted)
	}
	return nil
}
