package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Dispatcher moves stubs whose retry time has come from the retry queue
// back into the pool.
type Dispatcher struct {
	retries      RetryQueue
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

func NewDispatcher(retries RetryQueue, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		retries:      retries,
		pool:         pool,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
		batchSize:    10,
		now:          time.Now,
	}
}

// Start polls until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("retry dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("retry dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// Drain feeds due retries to the pool until the retry queue is empty and the
// pool has nothing pending. It returns ctx.Err() if ctx ends first.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.poll(ctx)
		if d.pool.Pending() == 0 {
			n, err := d.retries.Len(ctx)
			if err != nil {
				return fmt.Errorf("reading retry queue length: %w", err)
			}
			if n == 0 {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) int {
	stubs, err := d.retries.Due(ctx, d.now(), d.batchSize)
	if err != nil {
		d.logger.Error("failed to poll retry queue", "error", err)
		return 0
	}

	for i, stub := range stubs {
		if err := d.pool.Submit(ctx, Job{Stub: stub}); err != nil {
			// Put back everything we claimed but could not hand off.
			for _, s := range stubs[i:] {
				if err := d.retries.Schedule(context.WithoutCancel(ctx), s); err != nil {
					d.logger.Error("failed to return stub to retry queue", "error", err, "video_id", s.VideoID)
				}
			}
			return i
		}
	}
	return len(stubs)
}
