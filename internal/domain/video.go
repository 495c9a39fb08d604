package domain

import (
	"time"
)

type Origin string

const (
	OriginPush     Origin = "push"
	OriginBackfill Origin = "backfill"
)

// Video is the canonical record of one item. FirstSeenAt and FirstSeenOrigin
// are written once; everything else follows the latest enrichment.
type Video struct {
	VideoID         string    `json:"video_id"`
	Title           string    `json:"title"`
	ChannelID       string    `json:"channel_id"`
	ChannelName     string    `json:"channel_name"`
	PublishedAt     time.Time `json:"published_at"`
	ViewCount       int64     `json:"view_count"`
	LikeCount       int64     `json:"like_count"`
	CommentCount    int64     `json:"comment_count"`
	DurationSeconds int       `json:"duration_seconds"`
	Tags            []string  `json:"tags"`
	Description     string    `json:"description"`
	URL             string    `json:"url"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	Origin          Origin    `json:"-"`
	FetchedAt       time.Time `json:"fetched_at"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	FirstSeenOrigin Origin    `json:"first_seen_origin"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// ItemStub is a candidate video waiting for enrichment.
type ItemStub struct {
	VideoID       string     `json:"video_id"`
	ChannelID     string     `json:"channel_id"`
	CandidateAt   *time.Time `json:"candidate_at,omitempty"`
	Origin        Origin     `json:"origin"`
	Attempt       int        `json:"attempt"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// PushNotification is one hub delivery as received on the callback.
type PushNotification struct {
	ID         string
	Body       []byte
	Signature  string
	ReceivedAt time.Time
	Verified   bool
}
