// Package scheduler implements the Scheduler component: the
// tick loop that reclaims zombie leases and dispatches due Pages, subject
// to per-domain admission.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/talemon/core/config"
	"github.com/talemon/core/internal/model"
	"github.com/talemon/core/internal/ratelimit"
	"github.com/talemon/core/internal/telemetry"
)

// PageStore is the subset of the State Store the Scheduler depends on.
type PageStore interface {
	ReclaimZombies(ctx context.Context, zombieTimeout time.Duration) (int64, error)
	DispatchBatch(ctx context.Context, batchSize int, admit func(domain string) bool) ([]model.Page, error)
}

// Scheduler runs the reclaim-then-dispatch tick loop on a fixed interval.
type Scheduler struct {
	store   PageStore
	limiter ratelimit.DomainLimiter
	cfg     *config.SchedulerConfig
	metrics *telemetry.SchedulerMetrics
}

func New(store PageStore, limiter ratelimit.DomainLimiter, cfg *config.SchedulerConfig, metrics *telemetry.SchedulerMetrics) *Scheduler {
	return &Scheduler{store: store, limiter: limiter, cfg: cfg, metrics: metrics}
}

// Run loops Tick on cfg.TickInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("starting scheduler.", slog.Duration("tick_interval", s.cfg.TickInterval))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping scheduler.")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				slog.Error("scheduler tick failed.", slog.String("err", err.Error()))
			}
		}
	}
}

// Tick runs the two discrete, independently testable steps once: reclaim
// zombie leases, then select and dispatch the next due batch.
func (s *Scheduler) Tick(ctx context.Context) error {
	n, err := s.reclaimZombies(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("reclaimed zombie leases.", slog.Int64("count", n))
	}

	dispatched, err := s.dispatch(ctx)
	if err != nil {
		return err
	}
	slog.Debug("dispatch complete.", slog.Int("dispatched", len(dispatched)))
	return nil
}

func (s *Scheduler) reclaimZombies(ctx context.Context) (int64, error) {
	n, err := s.store.ReclaimZombies(ctx, s.cfg.ZombieTimeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.ZombiesReclaimed(n)
	}
	return n, nil
}

func (s *Scheduler) dispatch(ctx context.Context) ([]model.Page, error) {
	var limitedCount int64
	admit := func(domain string) bool {
		ok := s.limiter.Admit(domain)
		if !ok {
			limitedCount++
		}
		return ok
	}

	pages, err := s.store.DispatchBatch(ctx, s.cfg.BatchSize, admit)
	if err != nil {
		return nil, err
	}
	if limitedCount > 0 {
		s.metrics.RateLimited(limitedCount)
	}
	if len(pages) > 0 {
		s.metrics.PagesDispatched(int64(len(pages)))
	}
	return pages, nil
}
