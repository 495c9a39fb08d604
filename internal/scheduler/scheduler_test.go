package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/metrics"
	"github.com/Priya8975/channel-ingest/internal/registry"
)

const (
	bloomberg = "UCIALMKvObZNtJ6AmdCLP7Lg"
	ani       = "UCtFQDgA8J8_iiwc5-KoAQlg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeHub struct {
	mu           sync.Mutex
	fail         map[string]error
	subscribed   []string
	unsubscribed []string
}

func (h *fakeHub) Subscribe(_ context.Context, sub domain.ChannelSubscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribed = append(h.subscribed, sub.ChannelID)
	return h.fail[sub.ChannelID]
}

func (h *fakeHub) Unsubscribe(_ context.Context, sub domain.ChannelSubscription) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribed = append(h.unsubscribed, sub.ChannelID)
	return nil
}

func (h *fakeHub) calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.subscribed...)
}

type fixture struct {
	sched    *Scheduler
	reg      *registry.Registry
	hub      *fakeHub
	counters *metrics.Counters
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hub:      &fakeHub{fail: map[string]error{}},
		counters: metrics.New(),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.reg = registry.New(registry.Config{
		HubURL:       "https://hub.example.com",
		TopicBaseURL: "https://www.youtube.com/xml/feeds/videos.xml",
	}, nil, nil, testLogger())
	f.reg.SetClock(clock)

	f.sched = New(f.reg, f.hub, f.counters, Config{
		Interval:       time.Minute,
		Margin:         60 * time.Second,
		Lease:          10 * 24 * time.Hour,
		MaxAttempts:    3,
		Concurrency:    2,
		Backoff:        30 * time.Second,
		MaxBackoff:     10 * time.Minute,
		FailedCooldown: time.Hour,
	}, testLogger())
	f.sched.SetClock(clock)
	return f
}

func (f *fixture) activeWithLease(t *testing.T, id string, lease time.Duration) {
	t.Helper()
	ctx := context.Background()
	f.reg.Register(ctx, domain.ChannelConfig{ID: id})
	if err := f.reg.MarkActive(ctx, id, lease); err != nil {
		t.Fatalf("MarkActive: %v", err)
	}
}

func TestTick_SelectsLeasesInsideMargin(t *testing.T) {
	f := newFixture(t)
	f.activeWithLease(t, bloomberg, 30*time.Second)
	f.activeWithLease(t, ani, 2*time.Hour)

	if n := f.sched.Tick(context.Background()); n != 1 {
		t.Fatalf("Tick attempted %d channels, want 1", n)
	}

	calls := f.hub.calls()
	if len(calls) != 1 || calls[0] != bloomberg {
		t.Errorf("hub calls = %v, want [%s]", calls, bloomberg)
	}
	sub, _ := f.reg.Get(bloomberg)
	if sub.State != domain.StateActive || !sub.LeaseExpiresAt.Equal(f.now.Add(10*24*time.Hour)) {
		t.Errorf("renewed subscription = %+v", sub)
	}
	if f.counters.RenewalsOK.Load() != 1 {
		t.Errorf("RenewalsOK = %d", f.counters.RenewalsOK.Load())
	}
}

func TestTick_PendingChannelsSubscribe(t *testing.T) {
	f := newFixture(t)
	f.reg.Register(context.Background(), domain.ChannelConfig{ID: bloomberg})

	f.sched.Tick(context.Background())

	if sub, _ := f.reg.Get(bloomberg); sub.State != domain.StateActive {
		t.Errorf("State = %q, want active", sub.State)
	}
}

func TestTick_ThreeFailuresMarkFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeWithLease(t, bloomberg, 30*time.Second)
	f.hub.fail[bloomberg] = domain.Transient("hub subscribe", 503, errors.New("unavailable"))

	f.sched.Tick(ctx)
	sub, _ := f.reg.Get(bloomberg)
	if sub.State != domain.StateExpiring || sub.RenewalAttempts != 1 {
		t.Fatalf("after 1 failure: %+v", sub)
	}
	if !sub.NextAttemptAt.Equal(f.now.Add(30 * time.Second)) {
		t.Errorf("NextAttemptAt = %v, want now+30s", sub.NextAttemptAt)
	}

	if n := f.sched.Tick(ctx); n != 0 {
		t.Errorf("channel retried before its backoff elapsed")
	}

	f.now = f.now.Add(30 * time.Second)
	f.sched.Tick(ctx)
	sub, _ = f.reg.Get(bloomberg)
	if sub.RenewalAttempts != 2 || !sub.NextAttemptAt.Equal(f.now.Add(time.Minute)) {
		t.Fatalf("after 2 failures: %+v", sub)
	}

	f.now = f.now.Add(time.Minute)
	f.sched.Tick(ctx)
	sub, _ = f.reg.Get(bloomberg)
	if sub.State != domain.StateFailed {
		t.Fatalf("after 3 failures State = %q, want failed", sub.State)
	}
	if f.reg.FailedTotal() != 1 || f.counters.RenewalFailures.Load() != 3 {
		t.Errorf("FailedTotal=%d RenewalFailures=%d", f.reg.FailedTotal(), f.counters.RenewalFailures.Load())
	}
}

func TestTick_FailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	f.reg.Register(ctx, domain.ChannelConfig{ID: ani})
	f.hub.fail[bloomberg] = errors.New("boom")

	if n := f.sched.Tick(ctx); n != 2 {
		t.Fatalf("Tick attempted %d, want 2", n)
	}
	if sub, _ := f.reg.Get(ani); sub.State != domain.StateActive {
		t.Errorf("healthy channel State = %q, want active", sub.State)
	}
	if sub, _ := f.reg.Get(bloomberg); sub.State != domain.StatePending || sub.RenewalAttempts != 1 {
		t.Errorf("failing channel = %+v", sub)
	}
}

func TestTick_SkipsUnsubscribedAndInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	f.reg.Unsubscribe(ctx, bloomberg)
	f.reg.Register(ctx, domain.ChannelConfig{ID: ani})
	f.reg.BeginRenewal(ani)

	if n := f.sched.Tick(ctx); n != 0 {
		t.Errorf("Tick attempted %d channels, want 0", n)
	}
	f.reg.EndRenewal(ani)
	if n := f.sched.Tick(ctx); n != 1 {
		t.Errorf("Tick attempted %d channels after EndRenewal, want 1", n)
	}
}

func TestTick_FailedChannelRetriedAfterCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reg.Register(ctx, domain.ChannelConfig{ID: bloomberg})
	f.reg.MarkFailed(ctx, bloomberg, "denied")

	f.now = f.now.Add(30 * time.Minute)
	if n := f.sched.Tick(ctx); n != 0 {
		t.Fatalf("failed channel retried inside its cooldown")
	}

	f.now = f.now.Add(31 * time.Minute)
	if n := f.sched.Tick(ctx); n != 1 {
		t.Fatalf("failed channel not retried after cooldown")
	}
	if sub, _ := f.reg.Get(bloomberg); sub.State != domain.StateActive {
		t.Errorf("State = %q, want active", sub.State)
	}
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activeWithLease(t, bloomberg, time.Hour)

	if err := f.sched.Unsubscribe(ctx, bloomberg); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if sub, _ := f.reg.Get(bloomberg); sub.State != domain.StateUnsubscribed {
		t.Errorf("State = %q, want unsubscribed", sub.State)
	}
	if len(f.hub.unsubscribed) != 1 {
		t.Errorf("hub unsubscribe calls = %v", f.hub.unsubscribed)
	}
	if err := f.sched.Unsubscribe(ctx, "UCnobody"); !errors.Is(err, domain.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.reg.Register(context.Background(), domain.ChannelConfig{ID: bloomberg})

	f.sched.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(f.hub.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	f.sched.Stop()

	if len(f.hub.calls()) == 0 {
		t.Error("Start should run an immediate tick")
	}
}

// blockingHub holds every Subscribe until release is closed or ctx ends.
type blockingHub struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (h *blockingHub) Subscribe(ctx context.Context, _ domain.ChannelSubscription) error {
	h.once.Do(func() { close(h.started) })
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *blockingHub) Unsubscribe(context.Context, domain.ChannelSubscription) error {
	return nil
}

func TestStop_LetsInFlightRenewalFinish(t *testing.T) {
	f := newFixture(t)
	hub := &blockingHub{started: make(chan struct{}), release: make(chan struct{})}
	f.sched.hub = hub
	f.reg.Register(context.Background(), domain.ChannelConfig{ID: bloomberg})

	f.sched.Start(context.Background())
	select {
	case <-hub.started:
	case <-time.After(2 * time.Second):
		t.Fatal("renewal never started")
	}

	stopped := make(chan struct{})
	go func() {
		f.sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight renewal finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(hub.release)
	<-stopped

	sub, _ := f.reg.Get(bloomberg)
	if sub.State != domain.StateActive || sub.RenewalAttempts != 0 {
		t.Errorf("expected an active subscription with no failed attempts, got state=%s attempts=%d", sub.State, sub.RenewalAttempts)
	}
	if got := f.counters.RenewalFailures.Load(); got != 0 {
		t.Errorf("RenewalFailures = %d, want 0", got)
	}
}

func TestTick_CancelledContextStartsNothing(t *testing.T) {
	f := newFixture(t)
	f.reg.Register(context.Background(), domain.ChannelConfig{ID: bloomberg})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if n := f.sched.Tick(ctx); n != 0 {
		t.Errorf("Tick attempted %d renewals on a cancelled context", n)
	}
	if !f.reg.BeginRenewal(bloomberg) {
		t.Error("skipped channel should not stay marked in flight")
	}
}
