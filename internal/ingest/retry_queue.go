package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/redis/go-redis/v9"
)

const RetryQueueKey = "ingest_retry_queue"

// RetryQueue holds stubs waiting for their next enrichment attempt, ordered
// by NextAttemptAt.
type RetryQueue interface {
	Schedule(ctx context.Context, stub domain.ItemStub) error
	// Due claims up to max stubs whose NextAttemptAt is at or before now.
	Due(ctx context.Context, now time.Time, max int) ([]domain.ItemStub, error)
	Len(ctx context.Context) (int64, error)
}

func retryScore(stub domain.ItemStub) float64 {
	if stub.NextAttemptAt == nil {
		return 0
	}
	return float64(stub.NextAttemptAt.UnixMicro())
}

// RedisRetryQueue keeps the retry schedule in a Redis sorted set scored by
// next-attempt time, so pending retries survive a restart and can be claimed
// by any instance.
type RedisRetryQueue struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewRedisRetryQueue(redisClient *redis.Client, logger *slog.Logger) *RedisRetryQueue {
	return &RedisRetryQueue{redisClient: redisClient, logger: logger}
}

func (q *RedisRetryQueue) Schedule(ctx context.Context, stub domain.ItemStub) error {
	member, err := json.Marshal(stub)
	if err != nil {
		return fmt.Errorf("marshaling stub: %w", err)
	}
	if err := q.redisClient.ZAdd(ctx, RetryQueueKey, redis.Z{
		Score:  retryScore(stub),
		Member: string(member),
	}).Err(); err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}
	return nil
}

func (q *RedisRetryQueue) Due(ctx context.Context, now time.Time, max int) ([]domain.ItemStub, error) {
	results, err := q.redisClient.ZRangeByScore(ctx, RetryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMicro(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling retry queue: %w", err)
	}

	stubs := make([]domain.ItemStub, 0, len(results))
	for _, member := range results {
		// ZRem decides the race between instances polling the same set.
		removed, err := q.redisClient.ZRem(ctx, RetryQueueKey, member).Result()
		if err != nil {
			q.logger.Error("failed to claim retry", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var stub domain.ItemStub
		if err := json.Unmarshal([]byte(member), &stub); err != nil {
			q.logger.Error("failed to unmarshal retry", "error", err)
			continue
		}
		stubs = append(stubs, stub)
	}
	return stubs, nil
}

func (q *RedisRetryQueue) Len(ctx context.Context) (int64, error) {
	return q.redisClient.ZCard(ctx, RetryQueueKey).Result()
}

// MemoryRetryQueue is the in-process retry schedule used without Redis.
type MemoryRetryQueue struct {
	mu    sync.Mutex
	stubs []domain.ItemStub
}

func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{}
}

func (q *MemoryRetryQueue) Schedule(_ context.Context, stub domain.ItemStub) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := sort.Search(len(q.stubs), func(i int) bool {
		return retryScore(q.stubs[i]) > retryScore(stub)
	})
	q.stubs = append(q.stubs, domain.ItemStub{})
	copy(q.stubs[i+1:], q.stubs[i:])
	q.stubs[i] = stub
	return nil
}

func (q *MemoryRetryQueue) Due(_ context.Context, now time.Time, max int) ([]domain.ItemStub, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit := float64(now.UnixMicro())
	n := 0
	for n < len(q.stubs) && n < max && retryScore(q.stubs[n]) <= limit {
		n++
	}
	due := make([]domain.ItemStub, n)
	copy(due, q.stubs[:n])
	q.stubs = q.stubs[n:]
	return due, nil
}

func (q *MemoryRetryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.stubs)), nil
}
