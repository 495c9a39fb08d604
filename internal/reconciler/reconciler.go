package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/engine"
	"github.com/Priya8975/channel-ingest/internal/ingest"
	"github.com/Priya8975/channel-ingest/internal/metrics"
)

// Lister lists a channel's most recent uploads as backfill stubs.
type Lister interface {
	ListRecent(ctx context.Context, channelID string, limit int) ([]domain.ItemStub, error)
}

// Submitter accepts stubs for enrichment, blocking while the queue is full.
type Submitter interface {
	Submit(ctx context.Context, job ingest.Job) error
}

// Channels supplies the subscriptions to reconcile.
type Channels interface {
	List() []domain.ChannelSubscription
}

// Summary counts the outcome of one backfill run.
type Summary struct {
	ChannelID    string `json:"channel_id"`
	Listed       int    `json:"listed"`
	Inserted     int    `json:"inserted"`
	Updated      int    `json:"updated"`
	NotFound     int    `json:"not_found"`
	Retrying     int    `json:"retrying"`
	DeadLettered int    `json:"dead_lettered"`
	Failed       int    `json:"failed"`
}

func (s *Summary) add(o ingest.Outcome) {
	switch o {
	case ingest.OutcomeInserted:
		s.Inserted++
	case ingest.OutcomeUpdated:
		s.Updated++
	case ingest.OutcomeNotFound:
		s.NotFound++
	case ingest.OutcomeRetrying:
		s.Retrying++
	case ingest.OutcomeDeadLettered:
		s.DeadLettered++
	default:
		s.Failed++
	}
}

// Reconciler periodically re-lists every active channel and feeds the
// results through the same ingest path as pushes.
type Reconciler struct {
	lister   Lister
	limiter  *engine.Limiter
	pool     Submitter
	channels Channels
	counters *metrics.Counters
	interval time.Duration
	limit    int
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(lister Lister, limiter *engine.Limiter, pool Submitter, channels Channels, counters *metrics.Counters, interval time.Duration, limit int, logger *slog.Logger) *Reconciler {
	if limit <= 0 {
		limit = 50
	}
	return &Reconciler{
		lister:   lister,
		limiter:  limiter,
		pool:     pool,
		channels: channels,
		counters: counters,
		interval: interval,
		limit:    limit,
		logger:   logger,
	}
}

// Backfill lists up to limit recent uploads of channelID, submits each one
// and waits until every stub has an outcome.
func (r *Reconciler) Backfill(ctx context.Context, channelID string, limit int) (Summary, error) {
	if limit <= 0 {
		limit = r.limit
	}
	summary := Summary{ChannelID: channelID}

	var stubs []domain.ItemStub
	err := r.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		stubs, err = r.lister.ListRecent(ctx, channelID, limit)
		return err
	})
	if err != nil {
		return summary, fmt.Errorf("listing uploads for %s: %w", channelID, err)
	}
	summary.Listed = len(stubs)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	done := func(o ingest.Outcome) {
		mu.Lock()
		summary.add(o)
		mu.Unlock()
		wg.Done()
	}

	var submitErr error
	for _, stub := range stubs {
		wg.Add(1)
		if err := r.pool.Submit(ctx, ingest.Job{Stub: stub, Done: done}); err != nil {
			wg.Done()
			submitErr = fmt.Errorf("submitting %s: %w", stub.VideoID, err)
			break
		}
	}
	wg.Wait()

	if r.counters != nil {
		r.counters.BackfillRuns.Add(1)
	}
	r.logger.Info("backfill finished",
		"channel_id", channelID,
		"listed", summary.Listed,
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"not_found", summary.NotFound,
		"retrying", summary.Retrying,
		"dead_lettered", summary.DeadLettered,
		"failed", summary.Failed,
	)
	return summary, submitErr
}

// Start runs a reconciliation pass every interval until Stop. A zero interval
// disables the loop.
func (r *Reconciler) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("periodic backfill disabled")
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(ctx)
	}()
}

func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Run blocks, reconciling on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval, "limit", r.limit)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce backfills every active channel in turn and returns the summaries.
func (r *Reconciler) RunOnce(ctx context.Context) []Summary {
	var summaries []Summary
	for _, sub := range r.channels.List() {
		if sub.State != domain.StateActive && sub.State != domain.StateExpiring {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		summary, err := r.Backfill(ctx, sub.ChannelID, r.limit)
		if err != nil {
			r.logger.Warn("backfill failed", "error", err, "channel_id", sub.ChannelID)
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
