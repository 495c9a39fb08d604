package store

import (
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
)

// MergeVideo applies the upsert policy: provenance (FirstSeenAt,
// FirstSeenOrigin) is kept from the first write, mutable fields follow the
// most recently fetched record and LastUpdatedAt is set to now. Ordering by
// FetchedAt makes two merges converge whichever arrives first.
func MergeVideo(existing *domain.Video, incoming domain.Video, now time.Time) domain.Video {
	if existing == nil {
		merged := incoming
		merged.FirstSeenAt = now
		merged.FirstSeenOrigin = incoming.Origin
		merged.Origin = ""
		merged.LastUpdatedAt = now
		merged.Tags = cloneTags(incoming.Tags)
		return merged
	}

	merged := *existing
	if !incoming.FetchedAt.Before(existing.FetchedAt) {
		merged = incoming
		merged.Tags = cloneTags(incoming.Tags)
	}
	merged.VideoID = existing.VideoID
	merged.FirstSeenAt = existing.FirstSeenAt
	merged.FirstSeenOrigin = existing.FirstSeenOrigin
	merged.Origin = ""
	merged.LastUpdatedAt = now
	return merged
}

func cloneTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
