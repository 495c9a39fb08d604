package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Priya8975/channel-ingest/internal/domain"
)

var ErrPoolStopped = errors.New("ingest pool stopped")

// Job is one stub travelling through the pool. Done, when set, is called
// with the outcome once the stub has been handled.
type Job struct {
	Stub domain.ItemStub
	Done func(Outcome)
}

// Handler processes a single stub.
type Handler interface {
	Handle(ctx context.Context, stub domain.ItemStub) Outcome
}

// Pool is the bounded funnel between producers (push, backfill, retries)
// and a fixed number of enrichment workers.
type Pool struct {
	numWorkers int
	jobs       chan Job
	handler    Handler
	logger     *slog.Logger
	wg         sync.WaitGroup
	pending    atomic.Int64

	mu      sync.RWMutex
	stopped bool
}

func NewPool(numWorkers, capacity int, handler Handler, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if capacity <= 0 {
		capacity = numWorkers * 2
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, capacity),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches the workers. They keep draining the queue until Stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("ingest pool started", "num_workers", p.numWorkers, "capacity", cap(p.jobs))
}

// TrySubmit enqueues job without blocking. A full queue returns
// domain.ErrQueueFull so the caller can push back on its producer.
func (p *Pool) TrySubmit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	p.pending.Add(1)
	select {
	case p.jobs <- job:
		return nil
	default:
		p.pending.Add(-1)
		return domain.ErrQueueFull
	}
}

// Submit enqueues job, waiting for room until ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	p.pending.Add(1)
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		p.pending.Add(-1)
		return ctx.Err()
	}
}

// Len is the number of queued jobs not yet picked up by a worker.
func (p *Pool) Len() int {
	return len(p.jobs)
}

// Pending is the number of accepted jobs not yet finished, queued or running.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

func (p *Pool) Cap() int {
	return cap(p.jobs)
}

// Stop refuses new jobs, lets the workers drain what is queued and waits
// for them to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("ingest pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		outcome := p.handle(ctx, id, job.Stub)
		if job.Done != nil {
			job.Done(outcome)
		}
		p.pending.Add(-1)
	}
}

// handle keeps one bad stub from taking its worker down.
func (p *Pool) handle(ctx context.Context, id int, stub domain.ItemStub) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("ingest worker panic", "worker", id, "video_id", stub.VideoID, "panic", r)
			outcome = OutcomeFailed
		}
	}()
	return p.handler.Handle(ctx, stub)
}
