package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// CircuitBreaker guards an upstream API shared by all workers and processes.
// State lives in a Redis hash so every instance backs off together.
//
// - Closed: calls flow, failures are counted.
// - Open: calls are refused until the cooldown has elapsed.
// - Half-Open: a single trial is let through. Success closes, failure reopens.
//   A trial that never reports back goes stale after one cooldown.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
	now              func() time.Time
}

type CircuitBreakerState struct {
	Upstream     string `json:"upstream"`
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

func NewCircuitBreaker(redisClient *redis.Client, threshold int, cooldown time.Duration, logger *slog.Logger) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: threshold,
		cooldownPeriod:   cooldown,
		now:              time.Now,
	}
}

func cbKey(upstream string) string {
	return fmt.Sprintf("cb:%s", upstream)
}

func (cb *CircuitBreaker) cooledDown(lastFailedAt int64) bool {
	return cb.now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds())
}

// claimTrial moves an open circuit past its cooldown, or a half-open circuit
// whose trial has gone stale, to half-open and stamps trial_at. It returns
// "trial" to the caller that won, otherwise the current state.
var claimTrial = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
local now = tonumber(ARGV[1])
local cooldown = tonumber(ARGV[2])
if state == 'open' then
  local last = tonumber(redis.call('HGET', KEYS[1], 'last_failed_at') or '0')
  if now - last < cooldown then
    return 'open'
  end
elseif state == 'half-open' then
  local trialAt = tonumber(redis.call('HGET', KEYS[1], 'trial_at') or '0')
  if now - trialAt < cooldown then
    return 'half-open'
  end
else
  return 'closed'
end
redis.call('HSET', KEYS[1], 'state', 'half-open', 'trial_at', now)
return 'trial'
`)

// AllowRequest reports the breaker state for upstream and whether a call may
// proceed. Redis errors fail open.
func (cb *CircuitBreaker) AllowRequest(ctx context.Context, upstream string) (string, bool) {
	res, err := claimTrial.Run(ctx, cb.redisClient, []string{cbKey(upstream)},
		cb.now().Unix(), int64(cb.cooldownPeriod.Seconds())).Text()
	if err != nil {
		return StateClosed, true
	}

	switch res {
	case "trial":
		cb.logger.Info("circuit breaker half-open", "upstream", upstream)
		return StateHalfOpen, true
	case StateOpen, StateHalfOpen:
		return res, false
	default:
		return StateClosed, true
	}
}

// ReleaseTrial hands an unfinished trial back so the next caller can take it.
// The circuit stays open.
func (cb *CircuitBreaker) ReleaseTrial(ctx context.Context, upstream string) {
	key := cbKey(upstream)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()
	if state != StateHalfOpen {
		return
	}

	pipe := cb.redisClient.TxPipeline()
	pipe.HSet(ctx, key, "state", StateOpen)
	pipe.HDel(ctx, key, "trial_at")
	if _, err := pipe.Exec(ctx); err != nil {
		cb.logger.Error("failed to release circuit breaker trial", "error", err, "upstream", upstream)
		return
	}
	cb.logger.Info("circuit breaker trial released", "upstream", upstream)
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, upstream string) {
	key := cbKey(upstream)

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	pipe := cb.redisClient.TxPipeline()
	pipe.HSet(ctx, key, "state", StateClosed, "failures", 0)
	pipe.HDel(ctx, key, "trial_at")
	if _, err := pipe.Exec(ctx); err != nil {
		cb.logger.Error("failed to record circuit breaker success", "error", err, "upstream", upstream)
		return
	}

	if state == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "upstream", upstream)
	}
}

// RecordFailure counts a failed call and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, upstream string) {
	key := cbKey(upstream)

	failures, err := cb.redisClient.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		cb.logger.Error("failed to record circuit breaker failure", "error", err, "upstream", upstream)
		return
	}

	cb.redisClient.HSet(ctx, key, "last_failed_at", cb.now().Unix())

	state, _ := cb.redisClient.HGet(ctx, key, "state").Result()

	switch {
	case state == StateHalfOpen:
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.redisClient.HDel(ctx, key, "trial_at")
		cb.logger.Warn("circuit breaker re-opened (trial failed)", "upstream", upstream)
	case failures >= int64(cb.failureThreshold) && state != StateOpen:
		cb.redisClient.HSet(ctx, key, "state", StateOpen)
		cb.redisClient.HDel(ctx, key, "trial_at")
		cb.logger.Warn("circuit breaker opened",
			"upstream", upstream,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	case state == "":
		cb.redisClient.HSet(ctx, key, "state", StateClosed)
	}
}

// GetState returns the breaker state for upstream without changing it.
func (cb *CircuitBreaker) GetState(ctx context.Context, upstream string) CircuitBreakerState {
	key := cbKey(upstream)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil || len(data) == 0 {
		return CircuitBreakerState{Upstream: upstream, State: StateClosed}
	}

	failures, _ := strconv.Atoi(data["failures"])
	state := data["state"]
	if state == "" {
		state = StateClosed
	}

	lastFailed, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
	if state == StateOpen && cb.cooledDown(lastFailed) {
		state = StateHalfOpen
	}

	result := CircuitBreakerState{Upstream: upstream, State: state, Failures: failures}
	if lastFailed > 0 {
		result.LastFailedAt = time.Unix(lastFailed, 0).UTC().Format(time.RFC3339)
	}
	return result
}
