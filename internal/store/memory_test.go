package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
)

func TestMemoryStore_UpsertSamePushTwice(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	clock := t0
	s.SetClock(func() time.Time { return clock })

	v := domain.Video{VideoID: "vid-1", ChannelID: "UC1", ViewCount: 100, Origin: domain.OriginPush, FetchedAt: t0}

	inserted, err := s.UpsertVideo(ctx, v)
	if err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}

	clock = t1
	inserted, err = s.UpsertVideo(ctx, v)
	if err != nil || inserted {
		t.Fatalf("second upsert: inserted=%v err=%v", inserted, err)
	}

	got, _ := s.GetVideo(ctx, "vid-1")
	if got == nil {
		t.Fatal("video missing")
	}
	if !got.FirstSeenAt.Equal(t0) {
		t.Errorf("FirstSeenAt = %v, want %v", got.FirstSeenAt, t0)
	}
	if !got.LastUpdatedAt.Equal(t1) {
		t.Errorf("LastUpdatedAt = %v, want %v", got.LastUpdatedAt, t1)
	}

	stats, _ := s.GetIngestStats(ctx)
	if stats.TotalVideos != 1 {
		t.Errorf("TotalVideos = %d, want 1", stats.TotalVideos)
	}
}

func TestMemoryStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.UpsertVideo(ctx, domain.Video{VideoID: "shared", ViewCount: int64(i), Origin: domain.OriginPush, FetchedAt: t0})
		}(i)
		go func(i int) {
			defer wg.Done()
			s.UpsertVideo(ctx, domain.Video{VideoID: fmt.Sprintf("vid-%d", i), Origin: domain.OriginBackfill, FetchedAt: t0})
		}(i)
	}
	wg.Wait()

	stats, _ := s.GetIngestStats(ctx)
	if stats.TotalVideos != 51 {
		t.Errorf("TotalVideos = %d, want 51", stats.TotalVideos)
	}
}

func TestMemoryStore_ListChannelVideos(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	for i := 0; i < 5; i++ {
		s.UpsertVideo(ctx, domain.Video{
			VideoID:     fmt.Sprintf("vid-%d", i),
			ChannelID:   "UC1",
			PublishedAt: t0.Add(time.Duration(i) * time.Hour),
			Origin:      domain.OriginBackfill,
		})
	}
	s.UpsertVideo(ctx, domain.Video{VideoID: "other", ChannelID: "UC2", PublishedAt: t0, Origin: domain.OriginPush})

	videos, err := s.ListChannelVideos(ctx, "UC1", t0.Add(time.Hour), t0.Add(4*time.Hour), 2)
	if err != nil {
		t.Fatalf("ListChannelVideos: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].VideoID != "vid-3" || videos[1].VideoID != "vid-2" {
		t.Errorf("unexpected order: %s, %s", videos[0].VideoID, videos[1].VideoID)
	}
}

func TestMemoryStore_DeadLetters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	err := s.InsertDeadLetter(ctx, DeadLetterRecord{VideoID: "vid-1", ChannelID: "UC1", Origin: domain.OriginPush, Attempts: 5, LastError: "timeout"})
	if err != nil {
		t.Fatalf("InsertDeadLetter: %v", err)
	}

	letters, _ := s.ListDeadLetters(ctx, "UC1", false, 10)
	if len(letters) != 1 {
		t.Fatalf("expected 1 unresolved dead letter, got %d", len(letters))
	}

	if err := s.ResolveDeadLetter(ctx, letters[0].ID, "ops"); err != nil {
		t.Fatalf("ResolveDeadLetter: %v", err)
	}
	if err := s.ResolveDeadLetter(ctx, letters[0].ID, "ops"); err != ErrDeadLetterNotFound {
		t.Errorf("resolving twice should fail, got %v", err)
	}

	unresolved, _ := s.ListDeadLetters(ctx, "", false, 10)
	if len(unresolved) != 0 {
		t.Errorf("expected no unresolved dead letters, got %d", len(unresolved))
	}
}
