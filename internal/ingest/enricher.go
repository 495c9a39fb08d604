package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/engine"
	"github.com/Priya8975/channel-ingest/internal/metrics"
	"github.com/Priya8975/channel-ingest/internal/store"
	ws "github.com/Priya8975/channel-ingest/internal/websocket"
)

// ErrRetriesAbandoned is the dead-letter reason for retries still pending
// when a one-shot run exits.
var ErrRetriesAbandoned = errors.New("retry abandoned at exit")

type Outcome string

const (
	OutcomeInserted     Outcome = "inserted"
	OutcomeUpdated      Outcome = "updated"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeRetrying     Outcome = "retrying"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeFailed       Outcome = "failed"
)

// Source fetches the full record of one video.
type Source interface {
	Fetch(ctx context.Context, videoID string) (domain.Video, error)
}

// Notifier receives live ingest events.
type Notifier interface {
	Broadcast(event ws.IngestEvent)
}

type Store interface {
	store.VideoStore
	store.DeadLetterStore
}

type EnricherConfig struct {
	MaxAttempts  int
	Backoff      time.Duration
	MaxBackoff   time.Duration
	FetchTimeout time.Duration
	// ChannelNames overrides the upstream channel title with the configured
	// friendly name.
	ChannelNames map[string]string
}

// Enricher turns stubs into canonical records. Every upstream call goes
// through the shared limiter.
type Enricher struct {
	source   Source
	limiter  *engine.Limiter
	store    Store
	retries  RetryQueue
	counters *metrics.Counters
	notifier Notifier
	cfg      EnricherConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewEnricher(source Source, limiter *engine.Limiter, st Store, retries RetryQueue, counters *metrics.Counters, notifier Notifier, cfg EnricherConfig, logger *slog.Logger) *Enricher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Enricher{
		source:   source,
		limiter:  limiter,
		store:    st,
		retries:  retries,
		counters: counters,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements Handler.
func (e *Enricher) Handle(ctx context.Context, stub domain.ItemStub) Outcome {
	return e.Enrich(ctx, stub)
}

// Enrich fetches, merges and stores one stub. Transient failures reschedule
// the stub; once attempts are exhausted it becomes a dead letter.
func (e *Enricher) Enrich(ctx context.Context, stub domain.ItemStub) Outcome {
	start := time.Now()

	var video domain.Video
	err := e.limiter.Do(ctx, func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()

		var err error
		video, err = e.source.Fetch(fetchCtx, stub.VideoID)
		if err != nil && fetchCtx.Err() != nil && ctx.Err() == nil {
			return domain.Transient("fetch "+stub.VideoID, 0, err)
		}
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		e.counters.NotFound.Add(1)
		e.logger.Info("video not found upstream, dropping",
			"video_id", stub.VideoID,
			"channel_id", stub.ChannelID,
			"origin", stub.Origin,
		)
		e.notify(ws.EventVideoNotFound, stub, "", "")
		return OutcomeNotFound
	case errors.Is(err, domain.ErrTransient), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return e.retry(ctx, stub, err)
	default:
		return e.deadLetter(ctx, stub, stub.Attempt+1, err)
	}

	e.prepare(&video, stub)

	inserted, err := e.store.UpsertVideo(ctx, video)
	if err != nil {
		e.counters.StoreErrors.Add(1)
		return e.retry(ctx, stub, fmt.Errorf("storing video: %w", err))
	}

	e.counters.Enriched.Add(1)
	outcome, event := OutcomeUpdated, ws.EventVideoUpdated
	if inserted {
		e.counters.Inserted.Add(1)
		outcome, event = OutcomeInserted, ws.EventVideoInserted
	} else {
		e.counters.Updated.Add(1)
	}

	e.logger.Info("video stored",
		"video_id", video.VideoID,
		"channel_id", video.ChannelID,
		"origin", stub.Origin,
		"outcome", outcome,
		"attempt", stub.Attempt+1,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	e.notify(event, stub, video.Title, "")
	return outcome
}

func (e *Enricher) prepare(v *domain.Video, stub domain.ItemStub) {
	if v.VideoID == "" {
		v.VideoID = stub.VideoID
	}
	if v.ChannelID == "" {
		v.ChannelID = stub.ChannelID
	}
	if name, ok := e.cfg.ChannelNames[v.ChannelID]; ok && name != "" {
		v.ChannelName = name
	}
	if v.PublishedAt.IsZero() && stub.CandidateAt != nil {
		v.PublishedAt = *stub.CandidateAt
	}
	if v.URL == "" {
		v.URL = "https://www.youtube.com/watch?v=" + v.VideoID
	}
	if v.FetchedAt.IsZero() {
		v.FetchedAt = e.now()
	}
	v.Origin = stub.Origin
}

func (e *Enricher) retry(ctx context.Context, stub domain.ItemStub, cause error) Outcome {
	attempts := stub.Attempt + 1
	if attempts >= e.cfg.MaxAttempts {
		return e.deadLetter(ctx, stub, attempts, cause)
	}

	delay := engine.Backoff(e.cfg.Backoff, e.cfg.MaxBackoff, attempts)
	if hint := domain.RetryAfterHint(cause); hint > delay {
		delay = hint
	}
	next := e.now().Add(delay)
	stub.Attempt = attempts
	stub.NextAttemptAt = &next

	// The stub must outlive a cancelled worker context.
	if err := e.retries.Schedule(context.WithoutCancel(ctx), stub); err != nil {
		e.logger.Error("failed to schedule retry",
			"error", err,
			"video_id", stub.VideoID,
			"cause", cause,
		)
		return OutcomeFailed
	}

	e.counters.Retried.Add(1)
	e.logger.Warn("enrichment failed, retrying",
		"video_id", stub.VideoID,
		"channel_id", stub.ChannelID,
		"attempt", attempts,
		"next_attempt_at", next,
		"error", cause,
	)
	e.notify(ws.EventStubRetrying, stub, "", cause.Error())
	return OutcomeRetrying
}

func (e *Enricher) deadLetter(ctx context.Context, stub domain.ItemStub, attempts int, cause error) Outcome {
	err := e.store.InsertDeadLetter(context.WithoutCancel(ctx), store.DeadLetterRecord{
		VideoID:   stub.VideoID,
		ChannelID: stub.ChannelID,
		Origin:    stub.Origin,
		Attempts:  attempts,
		LastError: cause.Error(),
	})
	if err != nil {
		e.logger.Error("failed to insert dead letter", "error", err, "video_id", stub.VideoID)
		return OutcomeFailed
	}

	e.counters.DeadLettered.Add(1)
	e.logger.Error("enrichment exhausted, moved to dead letter queue",
		"video_id", stub.VideoID,
		"channel_id", stub.ChannelID,
		"attempts", attempts,
		"error", cause,
	)
	stub.Attempt = attempts
	e.notify(ws.EventStubDeadLettered, stub, "", cause.Error())
	return OutcomeDeadLettered
}

// Abandon dead-letters every stub left in the retry queue with reason as the
// last error, and returns how many it moved.
func (e *Enricher) Abandon(ctx context.Context, reason error) (int, error) {
	horizon := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	moved := 0
	for {
		stubs, err := e.retries.Due(ctx, horizon, 100)
		if err != nil {
			return moved, fmt.Errorf("claiming abandoned retries: %w", err)
		}
		if len(stubs) == 0 {
			return moved, nil
		}
		for _, stub := range stubs {
			if e.deadLetter(ctx, stub, stub.Attempt, reason) == OutcomeDeadLettered {
				moved++
			}
		}
	}
}

func (e *Enricher) notify(eventType string, stub domain.ItemStub, title, errMsg string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Broadcast(ws.IngestEvent{
		Type:      eventType,
		VideoID:   stub.VideoID,
		ChannelID: stub.ChannelID,
		Origin:    string(stub.Origin),
		Title:     title,
		Attempt:   stub.Attempt,
		Error:     errMsg,
		Timestamp: e.now(),
	})
}
