package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketplace-security/internal/client"
	"marketplace-security/internal/lockout"
	"marketplace-security/internal/util"
)

const (
	lockoutPrefix     = "lockout:"
	maxUpdateRetries  = 5
	defaultLockoutTTL = 30 * time.Minute
)

var errTooMuchContention = errors.New("lockout entry changed concurrently too many times")

// LockoutCache is a lockout.Store shared across instances. Entries are JSON
// values guarded by WATCH so concurrent failures for one identity are not
// lost. Each write sets a TTL of at least staleAfter, which replaces the
// in-process sweep.
type LockoutCache struct {
	client     *client.RedisClient
	prefix     string
	staleAfter time.Duration
	now        func() time.Time
}

var _ lockout.Store = (*LockoutCache)(nil)

// NewLockoutCache builds the store. staleAfter should be twice the tracking
// window, matching what the manager passes to Sweep.
func NewLockoutCache(c *client.RedisClient, staleAfter time.Duration) *LockoutCache {
	if staleAfter <= 0 {
		staleAfter = defaultLockoutTTL
	}
	return &LockoutCache{
		client:     c,
		prefix:     c.KeyPrefix() + lockoutPrefix,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

func (c *LockoutCache) key(k string) string {
	return c.prefix + k
}

// entryTTL keeps an entry at least until its lock ends.
func entryTTL(e *lockout.Entry, now time.Time, staleAfter time.Duration) time.Duration {
	ttl := staleAfter
	if e.LockedUntil != nil {
		if untilLock := e.LockedUntil.Sub(now) + expiryGrace; untilLock > ttl {
			ttl = untilLock
		}
	}
	return ttl
}

func decodeEntry(raw []byte) (*lockout.Entry, error) {
	var e lockout.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode lockout entry: %w", err)
	}
	return &e, nil
}

func (c *LockoutCache) Get(ctx context.Context, key string) (*lockout.Entry, error) {
	raw, err := c.client.Client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lockout entry: %w", err)
	}
	return decodeEntry(raw)
}

func (c *LockoutCache) Update(ctx context.Context, key string, fn func(current *lockout.Entry) *lockout.Entry) (*lockout.Entry, error) {
	redisKey := c.key(key)
	var result *lockout.Entry

	txf := func(tx *goredis.Tx) error {
		var current *lockout.Entry

		raw, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if current, err = decodeEntry(raw); err != nil {
				return err
			}
		}

		next := fn(current)
		result = next

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, redisKey)
				return nil
			}
			payload, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("failed to encode lockout entry: %w", err)
			}
			pipe.Set(ctx, redisKey, payload, entryTTL(next, c.now(), c.staleAfter))
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := c.client.Client.Watch(ctx, txf, redisKey)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			util.Debug("Lockout entry changed during update, retrying",
				zap.String("key", key),
				zap.Int("attempt", i+1))
			continue
		}
		return nil, fmt.Errorf("failed to update lockout entry: %w", err)
	}

	return nil, errTooMuchContention
}

func (c *LockoutCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete lockout entry: %w", err)
	}
	return nil
}

func (c *LockoutCache) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, nil
}
