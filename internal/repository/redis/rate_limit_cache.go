// Package redis holds the Redis-backed stores used when several instances
// must share rate limit and lockout state.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketplace-security/internal/client"
	"marketplace-security/internal/ratelimit"
	"marketplace-security/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// Keys expire this long after their window so a late sweep never races
// the final reads of a window.
const expiryGrace = time.Second

// fixedWindowScript mirrors ratelimit.MemoryStore.Hit. Times are unix
// milliseconds supplied by the caller's clock.
var fixedWindowScript = goredis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local grace = tonumber(ARGV[4])

	local count = redis.call('HGET', key, 'count')
	local reset = redis.call('HGET', key, 'reset')

	if not count or not reset or now > tonumber(reset) then
		reset = now + window
		redis.call('HSET', key, 'count', 1, 'reset', reset)
		redis.call('PEXPIRE', key, window + grace)
		return {1, reset, 1}
	end

	count = tonumber(count)
	reset = tonumber(reset)
	if count >= limit then
		return {count, reset, 0}
	end

	count = redis.call('HINCRBY', key, 'count', 1)
	return {count, reset, 1}
`)

// RateLimitCache is a ratelimit.Store shared across instances. Expired
// windows are reclaimed by key TTL, so Sweep has nothing to do.
type RateLimitCache struct {
	client *client.RedisClient
	prefix string
}

var _ ratelimit.Store = (*RateLimitCache)(nil)

// NewRateLimitCache scopes keys by limiter class so limiters sharing one
// Redis never count against each other's windows.
func NewRateLimitCache(c *client.RedisClient, class string) *RateLimitCache {
	return &RateLimitCache{client: c, prefix: c.KeyPrefix() + rateLimitPrefix + class + ":"}
}

func (c *RateLimitCache) key(k string) string {
	return c.prefix + k
}

func (c *RateLimitCache) Hit(ctx context.Context, key string, window time.Duration, max int, now time.Time) (ratelimit.Entry, bool, error) {
	res, err := fixedWindowScript.Run(ctx, c.client.Client, []string{c.key(key)},
		now.UnixMilli(), window.Milliseconds(), max, expiryGrace.Milliseconds()).Result()
	if err != nil {
		util.Error("Failed to execute fixed window rate limit",
			zap.String("key", key),
			zap.Int("limit", max),
			zap.Duration("window", window),
			zap.Error(err))
		return ratelimit.Entry{}, false, fmt.Errorf("failed to execute fixed window rate limit: %w", err)
	}

	return parseWindowResult(res)
}

func parseWindowResult(res interface{}) (ratelimit.Entry, bool, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 3 {
		return ratelimit.Entry{}, false, fmt.Errorf("unexpected result format from fixed window script")
	}

	nums := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return ratelimit.Entry{}, false, fmt.Errorf("unexpected value %v at position %d", v, i)
		}
		nums[i] = n
	}

	entry := ratelimit.Entry{
		Count:     int(nums[0]),
		ResetTime: time.UnixMilli(nums[1]),
	}
	return entry, nums[2] == 1, nil
}

func (c *RateLimitCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit window: %w", err)
	}
	return nil
}

func (c *RateLimitCache) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
