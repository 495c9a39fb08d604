package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/sosodev/duration"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YouTube reads video metadata and channel uploads from the YouTube Data
// API v3.
type YouTube struct {
	service *youtube.Service
	logger  *slog.Logger
	now     func() time.Time
}

// NewYouTube builds a client against endpoint, the API root such as
// https://youtube.googleapis.com/. The key travels as a query parameter.
func NewYouTube(ctx context.Context, endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) (*YouTube, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &transport.APIKey{Key: apiKey, Transport: http.DefaultTransport},
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(endpoint, "/")+"/"))
	}
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating youtube client: %w", err)
	}

	return &YouTube{
		service: service,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

var videoParts = []string{"snippet", "statistics", "contentDetails"}

// Fetch returns the full record of videoID, or domain.ErrNotFound when the
// video is gone or private.
func (y *YouTube) Fetch(ctx context.Context, videoID string) (domain.Video, error) {
	resp, err := y.service.Videos.List(videoParts).Id(videoID).Context(ctx).Do()
	if err != nil {
		return domain.Video{}, classify(ctx, "videos.list", err)
	}
	if len(resp.Items) == 0 {
		return domain.Video{}, fmt.Errorf("%w: video %s", domain.ErrNotFound, videoID)
	}

	item := resp.Items[0]
	v := domain.Video{
		VideoID:   item.Id,
		URL:       "https://www.youtube.com/watch?v=" + item.Id,
		FetchedAt: y.now(),
	}
	if s := item.Snippet; s != nil {
		v.Title = s.Title
		v.ChannelID = s.ChannelId
		v.ChannelName = s.ChannelTitle
		v.Tags = s.Tags
		v.Description = s.Description
		v.ThumbnailURL = largestThumbnail(s.Thumbnails)
		if at, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			v.PublishedAt = at.UTC()
		}
	}
	if st := item.Statistics; st != nil {
		v.ViewCount = int64(st.ViewCount)
		v.LikeCount = int64(st.LikeCount)
		v.CommentCount = int64(st.CommentCount)
	}
	if cd := item.ContentDetails; cd != nil && cd.Duration != "" {
		secs, err := durationSeconds(cd.Duration)
		if err != nil {
			y.logger.Warn("unparseable video duration", "video_id", videoID, "duration", cd.Duration)
		}
		v.DurationSeconds = secs
	}
	return v, nil
}

// ListRecent returns up to limit of the channel's most recent uploads as
// backfill stubs.
func (y *YouTube) ListRecent(ctx context.Context, channelID string, limit int) ([]domain.ItemStub, error) {
	channels, err := y.service.Channels.List([]string{"contentDetails"}).Id(channelID).Context(ctx).Do()
	if err != nil {
		return nil, classify(ctx, "channels.list", err)
	}
	uploads := ""
	if len(channels.Items) > 0 {
		if cd := channels.Items[0].ContentDetails; cd != nil && cd.RelatedPlaylists != nil {
			uploads = cd.RelatedPlaylists.Uploads
		}
	}
	if uploads == "" {
		return nil, fmt.Errorf("%w: channel %s", domain.ErrNotFound, channelID)
	}

	stubs := make([]domain.ItemStub, 0, limit)
	pageToken := ""
	for len(stubs) < limit {
		call := y.service.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(uploads).
			MaxResults(int64(min(limit-len(stubs), 50))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, classify(ctx, "playlistItems.list", err)
		}
		for _, item := range page.Items {
			if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
				continue
			}
			stub := domain.ItemStub{
				VideoID:   item.ContentDetails.VideoId,
				ChannelID: channelID,
				Origin:    domain.OriginBackfill,
			}
			if at, err := time.Parse(time.RFC3339, item.ContentDetails.VideoPublishedAt); err == nil {
				at = at.UTC()
				stub.CandidateAt = &at
			}
			stubs = append(stubs, stub)
			if len(stubs) == limit {
				break
			}
		}

		if page.NextPageToken == "" || len(page.Items) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	return stubs, nil
}

var thumbnailPreference = []func(*youtube.ThumbnailDetails) *youtube.Thumbnail{
	func(t *youtube.ThumbnailDetails) *youtube.Thumbnail { return t.Maxres },
	func(t *youtube.ThumbnailDetails) *youtube.Thumbnail { return t.Standard },
	func(t *youtube.ThumbnailDetails) *youtube.Thumbnail { return t.High },
	func(t *youtube.ThumbnailDetails) *youtube.Thumbnail { return t.Medium },
	func(t *youtube.ThumbnailDetails) *youtube.Thumbnail { return t.Default },
}

func largestThumbnail(details *youtube.ThumbnailDetails) string {
	if details == nil {
		return ""
	}
	for _, size := range thumbnailPreference {
		if thumb := size(details); thumb != nil && thumb.Url != "" {
			return thumb.Url
		}
	}
	return ""
}

// durationSeconds converts an ISO 8601 duration such as "PT1H2M3S" into
// whole seconds.
func durationSeconds(s string) (int, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return int(d.ToTimeDuration() / time.Second), nil
}

// classify maps a client error onto the error taxonomy.
func classify(ctx context.Context, op string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return domain.Transient(op, 0, err)
	}

	reason := ""
	if len(apiErr.Errors) > 0 {
		reason = apiErr.Errors[0].Reason
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.Code)
	}

	switch {
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %s", domain.ErrNotFound, op, msg)
	case apiErr.Code == http.StatusForbidden && isQuotaReason(reason),
		apiErr.Code == http.StatusTooManyRequests,
		apiErr.Code >= 500:
		return &domain.TransientError{
			Op:         op,
			StatusCode: apiErr.Code,
			RetryAfter: retryAfter(apiErr.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%s (%s)", msg, reason),
		}
	default:
		return fmt.Errorf("%s: HTTP %d: %s (%s)", op, apiErr.Code, msg, reason)
	}
}

func isQuotaReason(reason string) bool {
	switch reason {
	case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
		return true
	}
	return false
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
