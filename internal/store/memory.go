package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/google/uuid"
)

const memoryLockStripes = 64

// MemoryStore keeps everything in process. Upserts of the same video are
// serialized on a lock stripe; different videos proceed in parallel.
type MemoryStore struct {
	stripes [memoryLockStripes]sync.Mutex

	mu            sync.RWMutex
	videos        map[string]domain.Video
	deadLetters   map[string]domain.DeadLetter
	subscriptions map[string]domain.ChannelSubscription

	now func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		videos:        make(map[string]domain.Video),
		deadLetters:   make(map[string]domain.DeadLetter),
		subscriptions: make(map[string]domain.ChannelSubscription),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's time source.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.now = now
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.stripes[h.Sum32()%memoryLockStripes]
}

func (m *MemoryStore) UpsertVideo(_ context.Context, v domain.Video) (bool, error) {
	lock := m.stripe(v.VideoID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	existing, ok := m.videos[v.VideoID]
	m.mu.RUnlock()

	var merged domain.Video
	if ok {
		merged = MergeVideo(&existing, v, m.now())
	} else {
		merged = MergeVideo(nil, v, m.now())
	}

	m.mu.Lock()
	m.videos[v.VideoID] = merged
	m.mu.Unlock()
	return !ok, nil
}

func (m *MemoryStore) GetVideo(_ context.Context, videoID string) (*domain.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[videoID]
	if !ok {
		return nil, nil
	}
	v.Tags = cloneTags(v.Tags)
	return &v, nil
}

func (m *MemoryStore) ListChannelVideos(_ context.Context, channelID string, since, until time.Time, limit int) ([]domain.Video, error) {
	m.mu.RLock()
	videos := []domain.Video{}
	for _, v := range m.videos {
		if v.ChannelID != channelID {
			continue
		}
		if !since.IsZero() && v.PublishedAt.Before(since) {
			continue
		}
		if !until.IsZero() && !v.PublishedAt.Before(until) {
			continue
		}
		videos = append(videos, v)
	}
	m.mu.RUnlock()

	sort.Slice(videos, func(i, j int) bool {
		return videos[i].PublishedAt.After(videos[j].PublishedAt)
	})
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

func (m *MemoryStore) InsertDeadLetter(_ context.Context, rec DeadLetterRecord) error {
	dl := domain.DeadLetter{
		ID:        uuid.NewString(),
		VideoID:   rec.VideoID,
		ChannelID: rec.ChannelID,
		Origin:    rec.Origin,
		Attempts:  rec.Attempts,
		CreatedAt: m.now(),
	}
	if rec.LastError != "" {
		lastErr := rec.LastError
		dl.LastError = &lastErr
	}

	m.mu.Lock()
	m.deadLetters[dl.ID] = dl
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListDeadLetters(_ context.Context, channelID string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	m.mu.RLock()
	letters := []domain.DeadLetter{}
	for _, dl := range m.deadLetters {
		if channelID != "" && dl.ChannelID != channelID {
			continue
		}
		if (dl.ResolvedAt != nil) != resolved {
			continue
		}
		letters = append(letters, dl)
	}
	m.mu.RUnlock()

	sort.Slice(letters, func(i, j int) bool {
		return letters[i].CreatedAt.After(letters[j].CreatedAt)
	})
	if limit > 0 && len(letters) > limit {
		letters = letters[:limit]
	}
	return letters, nil
}

func (m *MemoryStore) GetDeadLetter(_ context.Context, id string) (*domain.DeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dl, ok := m.deadLetters[id]
	if !ok {
		return nil, nil
	}
	return &dl, nil
}

func (m *MemoryStore) ResolveDeadLetter(_ context.Context, id string, resolvedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.deadLetters[id]
	if !ok || dl.ResolvedAt != nil {
		return ErrDeadLetterNotFound
	}
	now := m.now()
	dl.ResolvedAt = &now
	dl.ResolvedBy = &resolvedBy
	m.deadLetters[id] = dl
	return nil
}

func (m *MemoryStore) SaveSubscription(_ context.Context, sub domain.ChannelSubscription) error {
	m.mu.Lock()
	m.subscriptions[sub.ChannelID] = sub
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadSubscriptions(_ context.Context) ([]domain.ChannelSubscription, error) {
	m.mu.RLock()
	subs := make([]domain.ChannelSubscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ChannelID < subs[j].ChannelID })
	return subs, nil
}

func (m *MemoryStore) GetIngestStats(_ context.Context) (*IngestStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st IngestStats
	for _, v := range m.videos {
		st.TotalVideos++
		switch v.FirstSeenOrigin {
		case domain.OriginPush:
			st.PushOrigin++
		case domain.OriginBackfill:
			st.BackfillOrigin++
		}
	}
	for _, dl := range m.deadLetters {
		if dl.ResolvedAt == nil {
			st.DeadLetterCount++
		}
	}
	for _, sub := range m.subscriptions {
		if sub.State == domain.StateActive {
			st.ActiveSubscriptions++
		}
	}
	return &st, nil
}
