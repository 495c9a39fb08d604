package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/hub"
	ws "github.com/Priya8975/channel-ingest/internal/websocket"
)

// Snapshotter persists subscription state so leases survive a restart.
type Snapshotter interface {
	SaveSubscription(ctx context.Context, sub domain.ChannelSubscription) error
	LoadSubscriptions(ctx context.Context) ([]domain.ChannelSubscription, error)
}

// Notifier receives subscription state changes.
type Notifier interface {
	Broadcast(event ws.IngestEvent)
}

type Config struct {
	HubURL       string
	TopicBaseURL string
}

// Registry is the authoritative in-memory record of channel subscriptions.
// Reads share an RWMutex; writes to one channel are serialized by that
// channel's own mutex so a slow snapshot never blocks other channels.
type Registry struct {
	cfg      Config
	snap     Snapshotter
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	subs     map[string]domain.ChannelSubscription
	topics   map[string]string
	locks    map[string]*sync.Mutex
	inFlight map[string]bool

	failedTotal atomic.Int64
}

func New(cfg Config, snap Snapshotter, notifier Notifier, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		snap:     snap,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		subs:     make(map[string]domain.ChannelSubscription),
		topics:   make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
		inFlight: make(map[string]bool),
	}
}

// SetClock replaces the registry's time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Load restores the last persisted snapshot.
func (r *Registry) Load(ctx context.Context) error {
	if r.snap == nil {
		return nil
	}
	subs, err := r.snap.LoadSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("loading subscriptions: %w", err)
	}

	r.mu.Lock()
	for _, sub := range subs {
		r.subs[sub.ChannelID] = sub
		r.topics[sub.TopicURL] = sub.ChannelID
		if _, ok := r.locks[sub.ChannelID]; !ok {
			r.locks[sub.ChannelID] = &sync.Mutex{}
		}
	}
	r.mu.Unlock()

	r.logger.Info("subscriptions restored", "count", len(subs))
	return nil
}

// Register makes ch tracked. A new, unsubscribed or failed channel becomes
// pending; any other state is left alone.
func (r *Registry) Register(ctx context.Context, ch domain.ChannelConfig) (domain.ChannelSubscription, error) {
	if ch.ID == "" {
		return domain.ChannelSubscription{}, fmt.Errorf("%w: empty channel id", domain.ErrUnknownChannel)
	}
	lock := r.lockFor(ch.ID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	sub, exists := r.subs[ch.ID]
	r.mu.RUnlock()

	if !exists {
		sub = domain.ChannelSubscription{
			ChannelID: ch.ID,
			TopicURL:  hub.TopicURL(r.cfg.TopicBaseURL, ch.ID),
			HubURL:    r.cfg.HubURL,
			State:     domain.StateUnsubscribed,
		}
	}
	if ch.Name != "" {
		sub.ChannelName = ch.Name
	}
	if sub.ChannelName == "" {
		sub.ChannelName = ch.ID
	}
	if ch.Secret != "" {
		sub.Secret = ch.Secret
	}

	if !exists || sub.State == domain.StateUnsubscribed || sub.State == domain.StateFailed {
		sub.State = domain.StatePending
		sub.RenewalAttempts = 0
		sub.NextAttemptAt = nil
		sub.LastError = ""
	}

	r.commit(ctx, sub)
	return sub, nil
}

func (r *Registry) Get(channelID string) (domain.ChannelSubscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[channelID]
	return sub, ok
}

// List returns every subscription ordered by channel id.
func (r *Registry) List() []domain.ChannelSubscription {
	r.mu.RLock()
	subs := make([]domain.ChannelSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ChannelID < subs[j].ChannelID })
	return subs
}

// LookupTopic finds the subscription for a hub topic URL.
func (r *Registry) LookupTopic(topic string) (domain.ChannelSubscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.topics[topic]
	if !ok {
		id = hub.ChannelFromTopic(topic)
	}
	sub, ok := r.subs[id]
	return sub, ok
}

// Tracked reports whether pushes for channelID should be ingested.
func (r *Registry) Tracked(channelID string) bool {
	sub, ok := r.Get(channelID)
	return ok && sub.State != domain.StateUnsubscribed
}

// ChannelSecrets returns the distinct per-channel secrets.
func (r *Registry) ChannelSecrets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var secrets []string
	for _, sub := range r.subs {
		if sub.Secret == "" {
			continue
		}
		if _, ok := seen[sub.Secret]; ok {
			continue
		}
		seen[sub.Secret] = struct{}{}
		secrets = append(secrets, sub.Secret)
	}
	return secrets
}

// MarkActive records a confirmed lease and clears the retry state.
func (r *Registry) MarkActive(ctx context.Context, channelID string, lease time.Duration) error {
	return r.transition(ctx, channelID, domain.StateActive, func(sub *domain.ChannelSubscription) {
		expires := r.now().Add(lease)
		sub.LeaseExpiresAt = &expires
		sub.RenewalAttempts = 0
		sub.NextAttemptAt = nil
		sub.LastError = ""
	})
}

func (r *Registry) MarkExpiring(ctx context.Context, channelID string) error {
	return r.transition(ctx, channelID, domain.StateExpiring, nil)
}

func (r *Registry) MarkFailed(ctx context.Context, channelID, reason string) error {
	err := r.transition(ctx, channelID, domain.StateFailed, func(sub *domain.ChannelSubscription) {
		sub.LastError = reason
	})
	if err == nil {
		r.failedTotal.Add(1)
		r.logger.Error("subscription failed", "channel_id", channelID, "reason", reason)
	}
	return err
}

func (r *Registry) Unsubscribe(ctx context.Context, channelID string) error {
	return r.transition(ctx, channelID, domain.StateUnsubscribed, func(sub *domain.ChannelSubscription) {
		sub.LeaseExpiresAt = nil
		sub.RenewalAttempts = 0
		sub.NextAttemptAt = nil
	})
}

// RecordRenewalFailure bumps the attempt count of the current renewal cycle
// and schedules the next attempt. It returns the new attempt count.
func (r *Registry) RecordRenewalFailure(ctx context.Context, channelID string, cause error, next time.Time) (int, error) {
	lock := r.lockFor(channelID)
	lock.Lock()
	defer lock.Unlock()

	sub, ok := r.Get(channelID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, channelID)
	}
	sub.RenewalAttempts++
	sub.NextAttemptAt = &next
	if cause != nil {
		sub.LastError = cause.Error()
	}
	r.commit(ctx, sub)
	return sub.RenewalAttempts, nil
}

// BeginRenewal takes the channel's in-flight flag. It returns false when a
// renewal is already running.
func (r *Registry) BeginRenewal(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[channelID]; !ok || r.inFlight[channelID] {
		return false
	}
	r.inFlight[channelID] = true
	return true
}

func (r *Registry) EndRenewal(channelID string) {
	r.mu.Lock()
	delete(r.inFlight, channelID)
	r.mu.Unlock()
}

// FailedTotal counts transitions into failed since start.
func (r *Registry) FailedTotal() int64 {
	return r.failedTotal.Load()
}

// Close writes a final snapshot of every subscription.
func (r *Registry) Close(ctx context.Context) error {
	if r.snap == nil {
		return nil
	}
	var firstErr error
	for _, sub := range r.List() {
		if err := r.snap.SaveSubscription(ctx, sub); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("saving subscription %s: %w", sub.ChannelID, err)
		}
	}
	return firstErr
}

func (r *Registry) transition(ctx context.Context, channelID string, to domain.SubscriptionState, mutate func(*domain.ChannelSubscription)) error {
	lock := r.lockFor(channelID)
	lock.Lock()
	defer lock.Unlock()

	sub, ok := r.Get(channelID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, channelID)
	}
	if !domain.CanTransition(sub.State, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, sub.State, to)
	}

	from := sub.State
	sub.State = to
	if mutate != nil {
		mutate(&sub)
	}
	r.commit(ctx, sub)

	if from != to {
		r.logger.Info("subscription state changed",
			"channel_id", channelID,
			"from", from,
			"to", to,
		)
	}
	return nil
}

// commit stores sub and persists it. The caller holds the channel lock.
func (r *Registry) commit(ctx context.Context, sub domain.ChannelSubscription) {
	sub.UpdatedAt = r.now()

	r.mu.Lock()
	r.subs[sub.ChannelID] = sub
	r.topics[sub.TopicURL] = sub.ChannelID
	r.mu.Unlock()

	if r.snap != nil {
		if err := r.snap.SaveSubscription(ctx, sub); err != nil {
			r.logger.Error("failed to persist subscription", "error", err, "channel_id", sub.ChannelID)
		}
	}
	if r.notifier != nil {
		r.notifier.Broadcast(ws.IngestEvent{
			Type:      ws.EventSubscriptionChanged,
			ChannelID: sub.ChannelID,
			State:     string(sub.State),
			Error:     sub.LastError,
			Timestamp: sub.UpdatedAt,
		})
	}
}

func (r *Registry) lockFor(channelID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[channelID] = lock
	}
	return lock
}
