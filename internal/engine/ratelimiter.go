package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QuotaWindow is a sliding-window quota shared by every process talking to
// the same upstream. Each granted call is a member of a Redis sorted set
// scored by its timestamp; the Lua script trims, counts and adds atomically.
type QuotaWindow struct {
	redisClient *redis.Client
	logger      *slog.Logger
	key         string
	limit       int
	window      time.Duration
	now         func() time.Time
}

var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

// NewQuotaWindow allows at most limit calls per window for upstream. A limit
// of zero or less disables the quota.
func NewQuotaWindow(redisClient *redis.Client, upstream string, limit int, window time.Duration, logger *slog.Logger) *QuotaWindow {
	if window <= 0 {
		window = time.Second
	}
	return &QuotaWindow{
		redisClient: redisClient,
		logger:      logger,
		key:         quotaKey(upstream),
		limit:       limit,
		window:      window,
		now:         time.Now,
	}
}

func quotaKey(upstream string) string {
	return fmt.Sprintf("quota:%s", upstream)
}

// Allow reports whether one more call fits in the current window.
func (q *QuotaWindow) Allow(ctx context.Context) bool {
	if q == nil || q.limit <= 0 {
		return true
	}

	now := q.now().UnixMilli()
	member := uuid.NewString()

	result, err := slidingWindowScript.Run(ctx, q.redisClient, []string{q.key},
		now, q.window.Milliseconds(), q.limit, member,
	).Int64()
	if err != nil {
		// Fail open: the local token bucket still bounds this process.
		q.logger.Error("quota script failed", "error", err, "key", q.key)
		return true
	}

	if result == 0 {
		q.logger.Debug("quota exhausted", "key", q.key, "limit", q.limit)
		return false
	}
	return true
}

// Wait blocks until Allow succeeds or ctx is done.
func (q *QuotaWindow) Wait(ctx context.Context) error {
	if q == nil || q.limit <= 0 {
		return nil
	}

	backoff := q.window / time.Duration(q.limit*2)
	if backoff < 10*time.Millisecond {
		backoff = 10 * time.Millisecond
	}

	for {
		if q.Allow(ctx) {
			return nil
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
