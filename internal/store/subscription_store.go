package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/channel-ingest/internal/domain"
)

// SaveSubscription writes the registry's view of one channel.
func (s *PostgresStore) SaveSubscription(ctx context.Context, sub domain.ChannelSubscription) error {
	var lastErr *string
	if sub.LastError != "" {
		lastErr = &sub.LastError
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (channel_id, channel_name, topic_url, hub_url, state, lease_expires_at,
			last_error, renewal_attempts, next_attempt_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (channel_id) DO UPDATE SET
			channel_name = EXCLUDED.channel_name,
			topic_url = EXCLUDED.topic_url,
			hub_url = EXCLUDED.hub_url,
			state = EXCLUDED.state,
			lease_expires_at = EXCLUDED.lease_expires_at,
			last_error = EXCLUDED.last_error,
			renewal_attempts = EXCLUDED.renewal_attempts,
			next_attempt_at = EXCLUDED.next_attempt_at,
			updated_at = EXCLUDED.updated_at
	`, sub.ChannelID, sub.ChannelName, sub.TopicURL, sub.HubURL, string(sub.State), sub.LeaseExpiresAt,
		lastErr, sub.RenewalAttempts, sub.NextAttemptAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving subscription %s: %w", sub.ChannelID, err)
	}
	return nil
}

// LoadSubscriptions returns the persisted subscription snapshot.
func (s *PostgresStore) LoadSubscriptions(ctx context.Context) ([]domain.ChannelSubscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel_id, channel_name, topic_url, hub_url, state, lease_expires_at,
			last_error, renewal_attempts, next_attempt_at, updated_at
		FROM subscriptions
		ORDER BY channel_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.ChannelSubscription{}
	for rows.Next() {
		var sub domain.ChannelSubscription
		var state string
		var lastErr *string
		err := rows.Scan(
			&sub.ChannelID, &sub.ChannelName, &sub.TopicURL, &sub.HubURL, &state, &sub.LeaseExpiresAt,
			&lastErr, &sub.RenewalAttempts, &sub.NextAttemptAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub.State = domain.SubscriptionState(state)
		if lastErr != nil {
			sub.LastError = *lastErr
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
