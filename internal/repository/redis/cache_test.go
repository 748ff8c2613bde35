package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-security/internal/client"
	"marketplace-security/internal/lockout"
)

func TestParseWindowResult(t *testing.T) {
	reset := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	entry, allowed, err := parseWindowResult([]interface{}{int64(3), reset.UnixMilli(), int64(1)})
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 3, entry.Count)
	assert.True(t, reset.Equal(entry.ResetTime))

	_, allowed, err = parseWindowResult([]interface{}{int64(5), reset.UnixMilli(), int64(0)})
	require.NoError(t, err)
	assert.False(t, allowed)

	_, _, err = parseWindowResult([]interface{}{int64(1)})
	assert.Error(t, err)

	_, _, err = parseWindowResult([]interface{}{"1", int64(0), int64(1)})
	assert.Error(t, err)
}

func TestEntryTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tracking := &lockout.Entry{Attempts: 2, LastAttempt: now}
	assert.Equal(t, 30*time.Minute, entryTTL(tracking, now, 30*time.Minute))

	until := now.Add(time.Hour)
	locked := &lockout.Entry{Attempts: 5, LastAttempt: now, LockedUntil: &until}
	assert.Equal(t, time.Hour+expiryGrace, entryTTL(locked, now, 30*time.Minute))
}

func TestDecodeEntry(t *testing.T) {
	e, err := decodeEntry([]byte(`{"attempts":4,"last_attempt":"2026-03-01T10:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, 4, e.Attempts)
	assert.Nil(t, e.LockedUntil)

	_, err = decodeEntry([]byte(`not json`))
	assert.Error(t, err)
}

// unreachableClient points at a port nothing listens on.
func unreachableClient() *client.RedisClient {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	return &client.RedisClient{Client: rdb}
}

func TestStoresReturnErrorsWhenRedisIsDown(t *testing.T) {
	rc := unreachableClient()
	defer rc.Client.Close()
	ctx := context.Background()

	rl := NewRateLimitCache(rc, "login")
	_, _, err := rl.Hit(ctx, "client:/login", time.Minute, 5, time.Now())
	assert.Error(t, err)

	lc := NewLockoutCache(rc, 0)
	_, err = lc.Get(ctx, "email:a@b.in")
	assert.Error(t, err)

	_, err = lc.Update(ctx, "email:a@b.in", func(e *lockout.Entry) *lockout.Entry { return e })
	assert.Error(t, err)

	n, err := lc.Sweep(ctx, time.Now(), time.Minute)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestRateLimitCache_KeysScopedByClass(t *testing.T) {
	rc := unreachableClient()
	defer rc.Client.Close()

	login := NewRateLimitCache(rc, "login")
	api := NewRateLimitCache(rc, "api")

	assert.Equal(t, "rate_limit:login:ip:/api/v1/auth/login", login.key("ip:/api/v1/auth/login"))
	assert.NotEqual(t, login.key("k"), api.key("k"))
}
