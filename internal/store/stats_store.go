package store

import (
	"context"
	"fmt"
)

// GetIngestStats returns aggregated ingestion statistics from the database.
func (s *PostgresStore) GetIngestStats(ctx context.Context) (*IngestStats, error) {
	var st IngestStats

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE first_seen_origin = 'push') AS push,
			COUNT(*) FILTER (WHERE first_seen_origin = 'backfill') AS backfill
		FROM videos
	`).Scan(&st.TotalVideos, &st.PushOrigin, &st.BackfillOrigin)
	if err != nil {
		return nil, fmt.Errorf("querying video counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dead_letters WHERE resolved_at IS NULL
	`).Scan(&st.DeadLetterCount)
	if err != nil {
		return nil, fmt.Errorf("querying dead letter count: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM subscriptions WHERE state = 'active'
	`).Scan(&st.ActiveSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("querying active subscriptions: %w", err)
	}

	return &st, nil
}
