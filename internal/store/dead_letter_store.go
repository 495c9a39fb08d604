package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertDeadLetter records a video that permanently failed enrichment.
func (s *PostgresStore) InsertDeadLetter(ctx context.Context, rec DeadLetterRecord) error {
	var lastErr *string
	if rec.LastError != "" {
		lastErr = &rec.LastError
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO dead_letters (video_id, channel_id, origin, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.VideoID, rec.ChannelID, string(rec.Origin), rec.Attempts, lastErr)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns dead letter entries with optional filtering.
func (s *PostgresStore) ListDeadLetters(ctx context.Context, channelID string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	query := `SELECT id::text, video_id, channel_id, origin, attempts, last_error, created_at, resolved_at, resolved_by FROM dead_letters`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if channelID != "" {
		conditions = append(conditions, fmt.Sprintf("channel_id = $%d", argIdx))
		args = append(args, channelID)
		argIdx++
	}

	if resolved {
		conditions = append(conditions, "resolved_at IS NOT NULL")
	} else {
		conditions = append(conditions, "resolved_at IS NULL")
	}

	for i, c := range conditions {
		if i == 0 {
			query += " WHERE "
		} else {
			query += " AND "
		}
		query += c
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	letters := []domain.DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		letters = append(letters, *dl)
	}
	return letters, rows.Err()
}

// GetDeadLetter returns a single dead letter by ID.
func (s *PostgresStore) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetter, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id::text, video_id, channel_id, origin, attempts, last_error, created_at, resolved_at, resolved_by
		FROM dead_letters WHERE id = $1
	`, id)
	dl, err := scanDeadLetter(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying dead letter: %w", err)
	}
	return dl, nil
}

// ResolveDeadLetter marks a dead letter as resolved.
func (s *PostgresStore) ResolveDeadLetter(ctx context.Context, id string, resolvedBy string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrDeadLetterNotFound
	}
	result, err := s.pool.Exec(ctx, `
		UPDATE dead_letters SET resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND resolved_at IS NULL
	`, id, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolving dead letter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	var origin string
	err := row.Scan(
		&dl.ID, &dl.VideoID, &dl.ChannelID, &origin, &dl.Attempts,
		&dl.LastError, &dl.CreatedAt, &dl.ResolvedAt, &dl.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}
	dl.Origin = domain.Origin(origin)
	return &dl, nil
}
