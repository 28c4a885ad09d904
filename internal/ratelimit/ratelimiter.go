package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is the span over which submissions are counted
const Window = time.Minute

// Limiter is used to enforce per-key rate limits.
type Limiter interface {
	AllowWithDetails(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	return true, -1, time.Time{}, nil
}

// slidingWindowScript admits a request only when fewer than limit entries
// remain in the window. Denied requests are not recorded.
//
// Returns {allowed, count, oldest_score_ms}
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
	local count = redis.call('ZCARD', key)

	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, member)
		count = count + 1
		allowed = 1
	end
	redis.call('PEXPIRE', key, window * 2)

	local oldest = now
	local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #first == 2 then
		oldest = tonumber(first[2])
	end

	return {allowed, count, oldest}
`)

// RateLimiter implements distributed rate limiting using Redis sorted sets
type RateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Key builds the limiter key of an agent within a tenant
func Key(tenantID, agentID string) string {
	if agentID == "" {
		agentID = "default"
	}
	return tenantID + ":" + agentID
}

func redisKey(key string) string {
	return fmt.Sprintf("ratelimit:%s", key)
}

// AllowWithDetails checks if a request should be allowed for the given key.
// A limit of 0 or less means unlimited and reports remaining as -1.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := rl.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, rl.client, []string{redisKey(key)},
		now, Window.Milliseconds(), limit, fmt.Sprintf("%d:%s", now, uuid.NewString())).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: unexpected reply %v", res)
	}

	allowed := res[0] == 1
	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	resetAt := time.UnixMilli(res[2]).Add(Window)
	return allowed, remaining, resetAt, nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, key string) (int64, error) {
	windowStart := rl.now().Add(-Window)

	if err := rl.client.ZRemRangeByScore(ctx, redisKey(key), "-inf", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, redisKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}

	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, redisKey(key)).Err()
}
