package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/engine"
	"github.com/Priya8975/channel-ingest/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Hub sends subscription requests.
type Hub interface {
	Subscribe(ctx context.Context, sub domain.ChannelSubscription) error
	Unsubscribe(ctx context.Context, sub domain.ChannelSubscription) error
}

// Registry is the subscription state the scheduler drives.
type Registry interface {
	List() []domain.ChannelSubscription
	Get(channelID string) (domain.ChannelSubscription, bool)
	Register(ctx context.Context, ch domain.ChannelConfig) (domain.ChannelSubscription, error)
	MarkActive(ctx context.Context, channelID string, lease time.Duration) error
	MarkExpiring(ctx context.Context, channelID string) error
	MarkFailed(ctx context.Context, channelID, reason string) error
	Unsubscribe(ctx context.Context, channelID string) error
	RecordRenewalFailure(ctx context.Context, channelID string, cause error, next time.Time) (int, error)
	BeginRenewal(channelID string) bool
	EndRenewal(channelID string)
}

type Config struct {
	Interval       time.Duration
	Margin         time.Duration
	Lease          time.Duration
	MaxAttempts    int
	Concurrency    int
	Backoff        time.Duration
	MaxBackoff     time.Duration
	FailedCooldown time.Duration
}

// Scheduler keeps every tracked channel's lease alive.
type Scheduler struct {
	registry Registry
	hub      Hub
	counters *metrics.Counters
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(registry Registry, hub Hub, counters *metrics.Counters, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		registry: registry,
		hub:      hub,
		counters: counters,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the scheduler's time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start runs a tick immediately and then every Interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("renewal scheduler started", "interval", s.cfg.Interval, "margin", s.cfg.Margin)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("renewal scheduler stopping")
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight renewals to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Tick renews every due channel and returns how many were attempted. A
// failing channel never stops the others. Once ctx is done no new renewals
// start.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	var due []domain.ChannelSubscription
	for _, sub := range s.registry.List() {
		if !s.isDue(sub, now) {
			continue
		}
		if !s.registry.BeginRenewal(sub.ChannelID) {
			continue
		}
		due = append(due, sub)
	}
	if len(due) == 0 {
		return 0
	}

	// Renewals already started run to completion after Stop; the hub client
	// bounds each one with its own timeout.
	renewCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	started := 0
	for _, sub := range due {
		if ctx.Err() != nil {
			s.registry.EndRenewal(sub.ChannelID)
			continue
		}
		started++
		sub := sub // per-iteration copy (pre-Go 1.22 loop semantics)
		g.Go(func() error {
			defer s.registry.EndRenewal(sub.ChannelID)
			s.renew(renewCtx, sub)
			return nil
		})
	}
	g.Wait()
	return started
}

func (s *Scheduler) isDue(sub domain.ChannelSubscription, now time.Time) bool {
	if sub.NextAttemptAt != nil && now.Before(*sub.NextAttemptAt) {
		return false
	}
	switch sub.State {
	case domain.StatePending:
		return true
	case domain.StateActive, domain.StateExpiring:
		return sub.LeaseDueBy(now, s.cfg.Margin)
	case domain.StateFailed:
		return !now.Before(sub.UpdatedAt.Add(s.cfg.FailedCooldown))
	default:
		return false
	}
}

func (s *Scheduler) renew(ctx context.Context, sub domain.ChannelSubscription) {
	var err error
	switch sub.State {
	case domain.StateActive:
		err = s.registry.MarkExpiring(ctx, sub.ChannelID)
	case domain.StateFailed:
		// A failed channel starts a fresh renewal cycle.
		sub, err = s.registry.Register(ctx, domain.ChannelConfig{ID: sub.ChannelID, Name: sub.ChannelName, Secret: sub.Secret})
	}
	if err != nil {
		s.logger.Error("could not start renewal", "error", err, "channel_id", sub.ChannelID)
		return
	}

	if err := s.hub.Subscribe(ctx, sub); err != nil {
		s.recordFailure(ctx, sub, err)
		return
	}

	s.counters.RenewalsOK.Add(1)
	if err := s.registry.MarkActive(ctx, sub.ChannelID, s.cfg.Lease); err != nil {
		s.logger.Warn("renewal accepted but state not updated", "error", err, "channel_id", sub.ChannelID)
		return
	}
	s.logger.Info("subscription renewed", "channel_id", sub.ChannelID, "lease", s.cfg.Lease)
}

func (s *Scheduler) recordFailure(ctx context.Context, sub domain.ChannelSubscription, cause error) {
	s.counters.RenewalFailures.Add(1)

	delay := engine.Backoff(s.cfg.Backoff, s.cfg.MaxBackoff, sub.RenewalAttempts+1)
	if hint := domain.RetryAfterHint(cause); hint > delay {
		delay = hint
	}
	attempts, err := s.registry.RecordRenewalFailure(ctx, sub.ChannelID, cause, s.now().Add(delay))
	if err != nil {
		s.logger.Error("could not record renewal failure", "error", err, "channel_id", sub.ChannelID)
		return
	}

	s.logger.Warn("subscription renewal failed",
		"channel_id", sub.ChannelID,
		"attempt", attempts,
		"max_attempts", s.cfg.MaxAttempts,
		"retry_in", delay,
		"error", cause,
	)

	if attempts >= s.cfg.MaxAttempts {
		reason := fmt.Sprintf("%v after %d attempts: %v", domain.ErrRenewalFailed, attempts, cause)
		if err := s.registry.MarkFailed(ctx, sub.ChannelID, reason); err != nil {
			s.logger.Error("could not mark subscription failed", "error", err, "channel_id", sub.ChannelID)
		}
	}
}

// Unsubscribe stops tracking channelID and asks the hub to stop pushing it.
func (s *Scheduler) Unsubscribe(ctx context.Context, channelID string) error {
	sub, ok := s.registry.Get(channelID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, channelID)
	}
	// The hub verifies the unsubscribe against our state, so record it first.
	if err := s.registry.Unsubscribe(ctx, channelID); err != nil {
		return err
	}
	if err := s.hub.Unsubscribe(ctx, sub); err != nil {
		return fmt.Errorf("hub unsubscribe for %s: %w", channelID, err)
	}
	s.logger.Info("unsubscribe requested", "channel_id", channelID)
	return nil
}
