package store

import (
	"context"
	"errors"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
)

var ErrDeadLetterNotFound = errors.New("dead letter not found or already resolved")

// VideoStore is the canonical, deduplicating store of videos.
type VideoStore interface {
	// UpsertVideo inserts or merges v and reports whether it was new.
	UpsertVideo(ctx context.Context, v domain.Video) (bool, error)
	GetVideo(ctx context.Context, videoID string) (*domain.Video, error)
	ListChannelVideos(ctx context.Context, channelID string, since, until time.Time, limit int) ([]domain.Video, error)
}

type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, rec DeadLetterRecord) error
	ListDeadLetters(ctx context.Context, channelID string, resolved bool, limit int) ([]domain.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error)
	ResolveDeadLetter(ctx context.Context, id string, resolvedBy string) error
}

type SubscriptionStore interface {
	SaveSubscription(ctx context.Context, sub domain.ChannelSubscription) error
	LoadSubscriptions(ctx context.Context) ([]domain.ChannelSubscription, error)
}

// Store is everything the service persists.
type Store interface {
	VideoStore
	DeadLetterStore
	SubscriptionStore
	GetIngestStats(ctx context.Context) (*IngestStats, error)
	Close()
}

// DeadLetterRecord holds data for inserting a dead letter entry.
type DeadLetterRecord struct {
	VideoID   string
	ChannelID string
	Origin    domain.Origin
	Attempts  int
	LastError string
}

// IngestStats holds aggregated store statistics.
type IngestStats struct {
	TotalVideos         int `json:"total_videos"`
	PushOrigin          int `json:"push_origin"`
	BackfillOrigin      int `json:"backfill_origin"`
	DeadLetterCount     int `json:"dead_letter_count"`
	ActiveSubscriptions int `json:"active_subscriptions"`
}
