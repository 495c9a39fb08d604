package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/metrics"
	"github.com/Priya8975/channel-ingest/internal/store"
	ws "github.com/Priya8975/channel-ingest/internal/websocket"
)

type enricherFixture struct {
	enricher *Enricher
	source   *fakeSource
	store    *store.MemoryStore
	retries  *MemoryRetryQueue
	counters *metrics.Counters
	notifier *recordingNotifier
	now      time.Time
}

func newEnricherFixture(t *testing.T) *enricherFixture {
	t.Helper()
	f := &enricherFixture{
		source:   newFakeSource(),
		store:    store.NewMemory(),
		retries:  NewMemoryRetryQueue(),
		counters: metrics.New(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.enricher = NewEnricher(f.source, testLimiter(), f.store, f.retries, f.counters, f.notifier, EnricherConfig{
		MaxAttempts:  3,
		Backoff:      2 * time.Second,
		MaxBackoff:   time.Minute,
		FetchTimeout: time.Second,
		ChannelNames: map[string]string{"UC1": "Bloomberg Markets"},
	}, testLogger())
	f.enricher.now = func() time.Time { return f.now }
	return f
}

func TestEnricher_InsertThenUpdate(t *testing.T) {
	f := newEnricherFixture(t)
	ctx := context.Background()
	f.source.videos["vid-1"] = domain.Video{VideoID: "vid-1", ChannelID: "UC1", ChannelName: "Bloomberg", Title: "Open", ViewCount: 100}

	stub := domain.ItemStub{VideoID: "vid-1", ChannelID: "UC1", Origin: domain.OriginPush}
	if got := f.enricher.Enrich(ctx, stub); got != OutcomeInserted {
		t.Fatalf("first Enrich = %q, want inserted", got)
	}

	f.source.videos["vid-1"] = domain.Video{VideoID: "vid-1", ChannelID: "UC1", Title: "Open", ViewCount: 150}
	f.now = f.now.Add(time.Minute)
	stub.Origin = domain.OriginBackfill
	if got := f.enricher.Enrich(ctx, stub); got != OutcomeUpdated {
		t.Fatalf("second Enrich = %q, want updated", got)
	}

	v, _ := f.store.GetVideo(ctx, "vid-1")
	if v.ViewCount != 150 {
		t.Errorf("ViewCount = %d, want 150", v.ViewCount)
	}
	if v.FirstSeenOrigin != domain.OriginPush {
		t.Errorf("FirstSeenOrigin = %q, want push", v.FirstSeenOrigin)
	}
	if v.ChannelName != "Bloomberg Markets" {
		t.Errorf("ChannelName = %q, want the configured name", v.ChannelName)
	}
	if v.URL != "https://www.youtube.com/watch?v=vid-1" {
		t.Errorf("URL = %q", v.URL)
	}
	if f.counters.Inserted.Load() != 1 || f.counters.Updated.Load() != 1 {
		t.Errorf("inserted=%d updated=%d", f.counters.Inserted.Load(), f.counters.Updated.Load())
	}
	types := f.notifier.Types()
	if len(types) != 2 || types[0] != ws.EventVideoInserted || types[1] != ws.EventVideoUpdated {
		t.Errorf("events = %v", types)
	}
}

func TestEnricher_NotFoundIsDropped(t *testing.T) {
	f := newEnricherFixture(t)

	got := f.enricher.Enrich(context.Background(), domain.ItemStub{VideoID: "gone", ChannelID: "UC1", Origin: domain.OriginPush})

	if got != OutcomeNotFound {
		t.Fatalf("Enrich = %q, want not_found", got)
	}
	if f.counters.NotFound.Load() != 1 {
		t.Errorf("NotFound = %d, want 1", f.counters.NotFound.Load())
	}
	if n, _ := f.retries.Len(context.Background()); n != 0 {
		t.Errorf("not-found stub should not be retried, queue has %d", n)
	}
	if v, _ := f.store.GetVideo(context.Background(), "gone"); v != nil {
		t.Error("nothing should be stored for a missing video")
	}
}

func TestEnricher_TransientIsRescheduled(t *testing.T) {
	f := newEnricherFixture(t)
	ctx := context.Background()
	f.source.videos["vid-1"] = domain.Video{VideoID: "vid-1", ChannelID: "UC1"}
	f.source.results["vid-1"] = []error{domain.Transient("videos.list", 503, errors.New("backend error"))}

	got := f.enricher.Enrich(ctx, domain.ItemStub{VideoID: "vid-1", ChannelID: "UC1", Origin: domain.OriginPush})
	if got != OutcomeRetrying {
		t.Fatalf("Enrich = %q, want retrying", got)
	}

	if due, _ := f.retries.Due(ctx, f.now.Add(time.Second), 10); len(due) != 0 {
		t.Fatalf("stub should not be due before its backoff, got %+v", due)
	}
	due, _ := f.retries.Due(ctx, f.now.Add(2*time.Second), 10)
	if len(due) != 1 {
		t.Fatalf("expected the stub to be due after 2s, got %d", len(due))
	}
	if due[0].Attempt != 1 || due[0].NextAttemptAt == nil {
		t.Errorf("retry state not recorded: %+v", due[0])
	}

	if got := f.enricher.Enrich(ctx, due[0]); got != OutcomeInserted {
		t.Errorf("retried Enrich = %q, want inserted", got)
	}
}

func TestEnricher_RetryAfterHintExtendsBackoff(t *testing.T) {
	f := newEnricherFixture(t)
	ctx := context.Background()
	throttled := &domain.TransientError{Op: "videos.list", StatusCode: 429, RetryAfter: 30 * time.Second, Err: errors.New("rate limited")}
	f.source.results["vid-1"] = []error{throttled}

	f.enricher.Enrich(ctx, domain.ItemStub{VideoID: "vid-1", ChannelID: "UC1", Origin: domain.OriginPush})

	if due, _ := f.retries.Due(ctx, f.now.Add(10*time.Second), 10); len(due) != 0 {
		t.Errorf("stub retried before the upstream Retry-After")
	}
	if due, _ := f.retries.Due(ctx, f.now.Add(30*time.Second), 10); len(due) != 1 {
		t.Errorf("stub should be due after Retry-After")
	}
}

func TestEnricher_ExhaustedGoesToDeadLetter(t *testing.T) {
	f := newEnricherFixture(t)
	ctx := context.Background()
	f.source.results["vid-1"] = []error{domain.Transient("videos.list", 503, errors.New("backend error"))}

	got := f.enricher.Enrich(ctx, domain.ItemStub{VideoID: "vid-1", ChannelID: "UC1", Origin: domain.OriginBackfill, Attempt: 2})
	if got != OutcomeDeadLettered {
		t.Fatalf("Enrich = %q, want dead_lettered", got)
	}

	letters, _ := f.store.ListDeadLetters(ctx, "UC1", false, 10)
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(letters))
	}
	if letters[0].Attempts != 3 || letters[0].Origin != domain.OriginBackfill {
		t.Errorf("unexpected dead letter: %+v", letters[0])
	}
	if n, _ := f.retries.Len(ctx); n != 0 {
		t.Errorf("dead-lettered stub should leave the retry queue, Len = %d", n)
	}
	if f.counters.DeadLettered.Load() != 1 {
		t.Errorf("DeadLettered = %d, want 1", f.counters.DeadLettered.Load())
	}
}

func TestEnricher_CandidateTimestampFallback(t *testing.T) {
	f := newEnricherFixture(t)
	ctx := context.Background()
	published := time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC)
	f.source.videos["vid-1"] = domain.Video{VideoID: "vid-1", ChannelID: "UC1"}

	f.enricher.Enrich(ctx, domain.ItemStub{VideoID: "vid-1", ChannelID: "UC1", Origin: domain.OriginPush, CandidateAt: &published})

	v, _ := f.store.GetVideo(ctx, "vid-1")
	if !v.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want the feed timestamp %v", v.PublishedAt, published)
	}
	if !v.FetchedAt.Equal(f.now) {
		t.Errorf("FetchedAt = %v, want %v", v.FetchedAt, f.now)
	}
}

func TestEnricher_ThroughPool(t *testing.T) {
	f := newEnricherFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.source.videos[id] = domain.Video{VideoID: id, ChannelID: "UC1"}
	}

	p := NewPool(2, 8, f.enricher, testLogger())
	p.Start(context.Background())
	for _, id := range []string{"a", "b", "c", "a"} {
		if err := p.TrySubmit(Job{Stub: domain.ItemStub{VideoID: id, ChannelID: "UC1", Origin: domain.OriginPush}}); err != nil {
			t.Fatalf("TrySubmit: %v", err)
		}
	}
	p.Stop()

	stats, _ := f.store.GetIngestStats(context.Background())
	if stats.TotalVideos != 3 {
		t.Errorf("TotalVideos = %d, want 3", stats.TotalVideos)
	}
	if f.counters.Enriched.Load() != 4 {
		t.Errorf("Enriched = %d, want 4", f.counters.Enriched.Load())
	}
}

func TestEnricher_AbandonDeadLettersPending(t *testing.T) {
	f := newEnricherFixture(t)
	ctx := context.Background()
	f.retries.Schedule(ctx, domain.ItemStub{VideoID: "vid-1", ChannelID: "UC1", Attempt: 2, NextAttemptAt: timePtr(f.now.Add(time.Hour))})
	f.retries.Schedule(ctx, domain.ItemStub{VideoID: "vid-2", ChannelID: "UC1", Attempt: 1, NextAttemptAt: timePtr(f.now.Add(24 * time.Hour))})

	moved, err := f.enricher.Abandon(ctx, ErrRetriesAbandoned)
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}
	if n, _ := f.retries.Len(ctx); n != 0 {
		t.Errorf("retry queue Len = %d, want 0", n)
	}

	letters, _ := f.store.ListDeadLetters(ctx, "UC1", false, 10)
	if len(letters) != 2 {
		t.Fatalf("dead letters = %d, want 2", len(letters))
	}
	for _, dl := range letters {
		if dl.VideoID == "vid-1" && dl.Attempts != 2 {
			t.Errorf("vid-1 attempts = %d, want 2", dl.Attempts)
		}
	}
	if f.counters.DeadLettered.Load() != 2 {
		t.Errorf("DeadLettered = %d, want 2", f.counters.DeadLettered.Load())
	}
}
