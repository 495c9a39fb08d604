package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var ErrCircuitOpen = errors.New("upstream circuit open")

type LimiterConfig struct {
	Upstream      string
	Concurrency   int
	RatePerSecond float64
	Burst         int
	Quota         *QuotaWindow
	Breaker       *CircuitBreaker
}

// Limiter is the single gate in front of an upstream API. Push enrichment and
// backfill share one instance so together they never exceed its limits.
type Limiter struct {
	upstream string
	sem      *semaphore.Weighted
	bucket   *rate.Limiter
	quota    *QuotaWindow
	breaker  *CircuitBreaker
	logger   *slog.Logger

	inFlight atomic.Int64
}

func NewLimiter(cfg LimiterConfig, logger *slog.Logger) *Limiter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		upstream: cfg.Upstream,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		bucket:   rate.NewLimiter(limit, cfg.Burst),
		quota:    cfg.Quota,
		breaker:  cfg.Breaker,
		logger:   logger,
	}
}

// Do runs fn once a concurrency slot, a rate token and the shared quota are
// available and the breaker is closed. Transient errors from fn count against
// the breaker; any other outcome counts as the upstream being healthy.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for %s rate limit: %w", l.upstream, err)
	}
	if err := l.quota.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for %s quota: %w", l.upstream, err)
	}

	holdsTrial := false
	if l.breaker != nil {
		state, ok := l.breaker.AllowRequest(ctx, l.upstream)
		if !ok {
			l.logger.Debug("upstream call short-circuited", "upstream", l.upstream, "state", state)
			return &domain.TransientError{
				Op:         l.upstream,
				RetryAfter: l.breaker.cooldownPeriod,
				Err:        ErrCircuitOpen,
			}
		}
		holdsTrial = state == StateHalfOpen
	}

	l.inFlight.Add(1)
	err := fn(ctx)
	l.inFlight.Add(-1)

	if l.breaker != nil {
		// A cancelled call says nothing about the upstream. Hand back any
		// trial it held.
		recordCtx := context.WithoutCancel(ctx)
		switch {
		case ctx.Err() != nil:
			if holdsTrial {
				l.breaker.ReleaseTrial(recordCtx, l.upstream)
			}
		case errors.Is(err, domain.ErrTransient):
			l.breaker.RecordFailure(recordCtx, l.upstream)
		default:
			l.breaker.RecordSuccess(recordCtx, l.upstream)
		}
	}
	return err
}

// InFlight returns the number of upstream calls currently running.
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// BreakerState reports the upstream breaker, or closed when none is wired.
func (l *Limiter) BreakerState(ctx context.Context) CircuitBreakerState {
	if l.breaker == nil {
		return CircuitBreakerState{Upstream: l.upstream, State: StateClosed}
	}
	return l.breaker.GetState(ctx, l.upstream)
}
