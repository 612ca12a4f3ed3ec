package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/byteness/throttle/store"
)

// slidingWindowScript is the atomic sliding-window-log admission check.
//
// Keys:
//
//	KEYS[1] - window key ("rl:{user_id}:{window_seconds}")
//
// Args:
//
//	ARGV[1] - window length in milliseconds
//	ARGV[2] - limit
//	ARGV[3] - now in milliseconds
//	ARGV[4] - unique event id for this request
//
// Returns {allowed, used, reset_at_ms}: allowed is 0/1, used counts events
// in the window after the decision, reset_at_ms is when the oldest
// surviving event leaves the window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)
local used = redis.call('ZCARD', key)

local allowed = 0
if used < limit then
	redis.call('ZADD', key, now_ms, member)
	allowed = 1
	used = used + 1
end

redis.call('EXPIRE', key, math.floor(window_ms / 1000) + 1)

local reset_ms = now_ms + window_ms
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset_ms = tonumber(oldest[2]) + window_ms
end

return {allowed, used, reset_ms}
`)

// RedisLimiter is the distributed sliding-window-log limiter. Each window
// is a sorted set of event timestamps in the shared store; the admission
// decision and the event insert happen in one script execution, which is
// the serialization point between concurrent instances.
type RedisLimiter struct {
	client *store.Client

	// now and eventID are injection points for deterministic tests.
	now     func() time.Time
	eventID func(nowMS int64) string
}

// NewRedisLimiter creates a limiter backed by the shared store.
func NewRedisLimiter(client *store.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		now:    time.Now,
		eventID: func(nowMS int64) string {
			// Unique per request so two admissions within the same
			// millisecond do not collide on the set member.
			return fmt.Sprintf("%d:%s", nowMS, uuid.NewString())
		},
	}
}

// Check runs the sliding-window script for key. A limit of zero admits
// nothing, even without a store round-trip. Store failures surface as
// KindStoreUnavailable for the caller's fail-open policy.
func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := l.now()

	if limit <= 0 {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: now.Add(window)}, nil
	}

	nowMS := now.UnixMilli()
	res, err := l.client.RunScript(ctx, slidingWindowScript,
		[]string{key},
		window.Milliseconds(), limit, nowMS, l.eventID(nowMS))
	if err != nil {
		return Result{}, err
	}

	reply, ok := res.([]any)
	if !ok || len(reply) != 3 {
		return Result{}, fmt.Errorf("sliding window script returned %T", res)
	}
	allowed := reply[0].(int64) == 1
	used := reply[1].(int64)
	resetMS := reply[2].(int64)

	remaining := limit - int(used)
	if !allowed || remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetMS),
	}, nil
}
