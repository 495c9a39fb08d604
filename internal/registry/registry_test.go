package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/store"
)

const (
	bloomberg = "UCIALMKvObZNtJ6AmdCLP7Lg"
	ani       = "UCtFQDgA8J8_iiwc5-KoAQlg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRegistry(t *testing.T, snap Snapshotter) (*Registry, *time.Time) {
	t.Helper()
	r := New(Config{
		HubURL:       "https://pubsubhubbub.appspot.com/subscribe",
		TopicBaseURL: "https://www.youtube.com/xml/feeds/videos.xml",
	}, snap, nil, testLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return now })
	return r, &now
}

func TestRegistry_RegisterIsPendingAndIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()

	sub, err := r.Register(ctx, domain.ChannelConfig{ID: bloomberg, Name: "Bloomberg Markets"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sub.State != domain.StatePending {
		t.Errorf("State = %q, want pending", sub.State)
	}
	if sub.TopicURL != "https://www.youtube.com/xml/feeds/videos.xml?channel_id="+bloomberg {
		t.Errorf("TopicURL = %q", sub.TopicURL)
	}

	r.MarkActive(ctx, bloomberg, 10*24*time.Hour)
	again, _ := r.Register(ctx, domain.ChannelConfig{ID: bloomberg, Name: "Bloomberg Markets"})
	if again.State != domain.StateActive {
		t.Errorf("re-registering an active channel changed its state to %q", again.State)
	}
	if len(r.List()) != 1 {
		t.Errorf("List has %d entries, want 1", len(r.List()))
	}
}

func TestRegistry_RegisterRevivesFailed(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	r.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	r.MarkFailed(ctx, bloomberg, "hub said no")

	sub, _ := r.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	if sub.State != domain.StatePending || sub.LastError != "" {
		t.Errorf("expected a clean pending subscription, got %+v", sub)
	}
}

func TestRegistry_RegisterKeepsSecret(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	r.Register(ctx, domain.ChannelConfig{ID: bloomberg, Secret: "s3cret"})

	sub, _ := r.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	if sub.Secret != "s3cret" {
		t.Errorf("Secret = %q, want the configured secret kept", sub.Secret)
	}

	sub, _ = r.Register(ctx, domain.ChannelConfig{ID: bloomberg, Secret: "rotated"})
	if sub.Secret != "rotated" {
		t.Errorf("Secret = %q, want the new secret", sub.Secret)
	}
}

func TestRegistry_MarkActiveSetsLease(t *testing.T) {
	r, now := newTestRegistry(t, nil)
	ctx := context.Background()
	r.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	r.RecordRenewalFailure(ctx, bloomberg, errors.New("timeout"), now.Add(time.Minute))

	if err := r.MarkActive(ctx, bloomberg, time.Hour); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}

	sub, _ := r.Get(bloomberg)
	if sub.LeaseExpiresAt == nil || !sub.LeaseExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("LeaseExpiresAt = %v", sub.LeaseExpiresAt)
	}
	if sub.RenewalAttempts != 0 || sub.NextAttemptAt != nil || sub.LastError != "" {
		t.Errorf("retry state not cleared: %+v", sub)
	}
}

func TestRegistry_InvalidTransitions(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	r.Register(ctx, domain.ChannelConfig{ID: bloomberg})

	if err := r.MarkExpiring(ctx, bloomberg); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("pending -> expiring should be invalid, got %v", err)
	}
	if err := r.MarkActive(ctx, "UCunknown", time.Hour); !errors.Is(err, domain.ErrUnknownChannel) {
		t.Errorf("unknown channel should fail, got %v", err)
	}

	r.Unsubscribe(ctx, bloomberg)
	if err := r.MarkActive(ctx, bloomberg, time.Hour); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("unsubscribed -> active should be invalid, got %v", err)
	}
	if r.Tracked(bloomberg) {
		t.Error("unsubscribed channel should not be tracked")
	}
}

func TestRegistry_LookupTopic(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	r.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	r.Register(ctx, domain.ChannelConfig{ID: ani})

	sub, ok := r.LookupTopic("https://www.youtube.com/xml/feeds/videos.xml?channel_id=" + ani)
	if !ok || sub.ChannelID != ani {
		t.Errorf("LookupTopic = %+v, %v", sub, ok)
	}
	if _, ok := r.LookupTopic("https://www.youtube.com/xml/feeds/videos.xml?channel_id=UCnobody"); ok {
		t.Error("unknown topic should not resolve")
	}
}

func TestRegistry_InFlightFlag(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	r.Register(context.Background(), domain.ChannelConfig{ID: bloomberg})

	if !r.BeginRenewal(bloomberg) {
		t.Fatal("first BeginRenewal should succeed")
	}
	if r.BeginRenewal(bloomberg) {
		t.Error("second BeginRenewal should fail while in flight")
	}
	r.EndRenewal(bloomberg)
	if !r.BeginRenewal(bloomberg) {
		t.Error("BeginRenewal should succeed after EndRenewal")
	}
	if r.BeginRenewal("UCunknown") {
		t.Error("unknown channel cannot be renewed")
	}
}

func TestRegistry_FailedTotal(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	ctx := context.Background()
	r.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	r.Register(ctx, domain.ChannelConfig{ID: ani})

	r.MarkFailed(ctx, bloomberg, "x")
	r.MarkFailed(ctx, ani, "y")

	if got := r.FailedTotal(); got != 2 {
		t.Errorf("FailedTotal = %d, want 2", got)
	}
}

func TestRegistry_SnapshotRoundTrip(t *testing.T) {
	snap := store.NewMemory()
	ctx := context.Background()

	r, _ := newTestRegistry(t, snap)
	r.Register(ctx, domain.ChannelConfig{ID: bloomberg, Name: "Bloomberg Markets", Secret: "s3"})
	r.MarkActive(ctx, bloomberg, time.Hour)
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restored, _ := newTestRegistry(t, snap)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub, ok := restored.Get(bloomberg)
	if !ok || sub.State != domain.StateActive || sub.ChannelName != "Bloomberg Markets" {
		t.Fatalf("restored subscription = %+v, %v", sub, ok)
	}

	// Secrets come from configuration, not the snapshot.
	sub, _ = restored.Register(ctx, domain.ChannelConfig{ID: bloomberg, Secret: "s3"})
	if sub.State != domain.StateActive {
		t.Errorf("restored active channel should stay active, got %q", sub.State)
	}
	if secrets := restored.ChannelSecrets(); len(secrets) != 1 || secrets[0] != "s3" {
		t.Errorf("ChannelSecrets = %v", secrets)
	}
}

func TestRegistry_ConcurrentTransitions(t *testing.T) {
	r, _ := newTestRegistry(t, store.NewMemory())
	ctx := context.Background()
	r.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	r.MarkActive(ctx, bloomberg, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.MarkActive(ctx, bloomberg, time.Hour)
		}()
		go func() {
			defer wg.Done()
			r.List()
			r.Get(bloomberg)
		}()
	}
	wg.Wait()

	if sub, _ := r.Get(bloomberg); sub.State != domain.StateActive {
		t.Errorf("State = %q, want active", sub.State)
	}
}
