package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/jackc/pgx/v5"
)

// mutableVideoColumns follow the most recently fetched record on conflict.
// first_seen_at and first_seen_origin are deliberately absent.
var mutableVideoColumns = []string{
	"title", "channel_id", "channel_name", "published_at", "view_count",
	"like_count", "comment_count", "duration_seconds", "tags", "description",
	"url", "thumbnail_url", "fetched_at",
}

var upsertVideoSQL = buildUpsertVideoSQL()

func buildUpsertVideoSQL() string {
	sets := make([]string, 0, len(mutableVideoColumns)+1)
	for _, col := range mutableVideoColumns {
		sets = append(sets, fmt.Sprintf(
			"%[1]s = CASE WHEN EXCLUDED.fetched_at >= videos.fetched_at THEN EXCLUDED.%[1]s ELSE videos.%[1]s END", col))
	}
	sets = append(sets, "last_updated_at = NOW()")

	return `
		INSERT INTO videos (video_id, title, channel_id, channel_name, published_at, view_count, like_count,
			comment_count, duration_seconds, tags, description, url, thumbnail_url, fetched_at,
			first_seen_at, first_seen_origin, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), $15, NOW())
		ON CONFLICT (video_id) DO UPDATE SET ` + strings.Join(sets, ",\n\t\t\t") + `
		RETURNING (xmax = 0) AS inserted`
}

const videoColumns = `video_id, title, channel_id, channel_name, published_at, view_count, like_count,
	comment_count, duration_seconds, tags, description, url, thumbnail_url, fetched_at,
	first_seen_at, first_seen_origin, last_updated_at`

// UpsertVideo inserts the video or merges it into the existing row. The row
// lock taken by ON CONFLICT serializes writers of the same video only.
func (s *PostgresStore) UpsertVideo(ctx context.Context, v domain.Video) (bool, error) {
	if v.VideoID == "" {
		return false, fmt.Errorf("upserting video: empty video id")
	}
	tags := v.Tags
	if tags == nil {
		tags = []string{}
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, upsertVideoSQL,
		v.VideoID, v.Title, v.ChannelID, v.ChannelName, v.PublishedAt, v.ViewCount, v.LikeCount,
		v.CommentCount, v.DurationSeconds, tags, v.Description, v.URL, v.ThumbnailURL, v.FetchedAt,
		string(v.Origin),
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upserting video %s: %w", v.VideoID, err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, videoID string) (*domain.Video, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE video_id = $1`, videoID)
	v, err := scanVideo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying video: %w", err)
	}
	return v, nil
}

// ListChannelVideos returns a channel's videos published in [since, until),
// newest first. Zero bounds are open.
func (s *PostgresStore) ListChannelVideos(ctx context.Context, channelID string, since, until time.Time, limit int) ([]domain.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE channel_id = $1`
	args := []interface{}{channelID}
	argIdx := 2

	if !since.IsZero() {
		query += fmt.Sprintf(" AND published_at >= $%d", argIdx)
		args = append(args, since)
		argIdx++
	}
	if !until.IsZero() {
		query += fmt.Sprintf(" AND published_at < $%d", argIdx)
		args = append(args, until)
		argIdx++
	}

	query += " ORDER BY published_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying channel videos: %w", err)
	}
	defer rows.Close()

	videos := []domain.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning video: %w", err)
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

func scanVideo(row pgx.Row) (*domain.Video, error) {
	var v domain.Video
	var origin string
	err := row.Scan(
		&v.VideoID, &v.Title, &v.ChannelID, &v.ChannelName, &v.PublishedAt, &v.ViewCount, &v.LikeCount,
		&v.CommentCount, &v.DurationSeconds, &v.Tags, &v.Description, &v.URL, &v.ThumbnailURL, &v.FetchedAt,
		&v.FirstSeenAt, &origin, &v.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.FirstSeenOrigin = domain.Origin(origin)
	return &v, nil
}
