package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace-security/internal/bucketing"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg Config, clock *fakeClock) (*Limiter, *MemoryStore) {
	store := NewMemoryStore(bucketing.NewBucketingManager(4))
	return NewLimiter(cfg, store, zap.NewNop(), WithClock(clock.Now)), store
}

func TestLimiter_FixedWindow(t *testing.T) {
	clock := newFakeClock()
	limiter, _ := newTestLimiter(LoginConfig, clock)
	ctx := context.Background()

	start := clock.Now()
	for i, want := range []int{4, 3, 2, 1, 0} {
		res := limiter.Check(ctx, "203.0.113.7", "/api/v1/auth/login")
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, want, res.Remaining)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, start.Add(15*time.Minute), res.ResetTime)
		clock.Advance(time.Second)
	}

	res := limiter.Check(ctx, "203.0.113.7", "/api/v1/auth/login")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, start.Add(15*time.Minute), res.ResetTime, "denial must not move the window")
}

func TestLimiter_WindowRollover(t *testing.T) {
	clock := newFakeClock()
	limiter, _ := newTestLimiter(UploadConfig, clock)
	ctx := context.Background()

	for i := 0; i < UploadConfig.MaxRequests; i++ {
		require.True(t, limiter.Check(ctx, "client", "/upload").Allowed)
	}
	require.False(t, limiter.Check(ctx, "client", "/upload").Allowed)

	// Still inside the window at exactly resetTime.
	clock.Advance(UploadConfig.Window)
	require.False(t, limiter.Check(ctx, "client", "/upload").Allowed)

	clock.Advance(time.Millisecond)
	res := limiter.Check(ctx, "client", "/upload")
	assert.True(t, res.Allowed)
	assert.Equal(t, UploadConfig.MaxRequests-1, res.Remaining)
	assert.Equal(t, clock.Now().Add(UploadConfig.Window), res.ResetTime)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter, _ := newTestLimiter(Config{Name: "t", Window: time.Minute, MaxRequests: 1}, clock)
	ctx := context.Background()

	assert.True(t, limiter.Check(ctx, "a", "/x").Allowed)
	assert.False(t, limiter.Check(ctx, "a", "/x").Allowed)
	assert.True(t, limiter.Check(ctx, "b", "/x").Allowed)
	assert.True(t, limiter.Check(ctx, "a", "/y").Allowed)
}

func TestLimiter_Reset(t *testing.T) {
	clock := newFakeClock()
	limiter, store := newTestLimiter(RegistrationConfig, clock)
	ctx := context.Background()

	for i := 0; i < RegistrationConfig.MaxRequests; i++ {
		limiter.Check(ctx, "client", "/register")
	}
	require.False(t, limiter.Check(ctx, "client", "/register").Allowed)

	limiter.Reset(ctx, "client", "/register")
	assert.Equal(t, 0, store.Len())

	res := limiter.Check(ctx, "client", "/register")
	assert.True(t, res.Allowed)
	assert.Equal(t, RegistrationConfig.MaxRequests-1, res.Remaining)
}

func TestResult_RetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	res := Result{ResetTime: now.Add(15 * time.Minute)}

	assert.Equal(t, 900, res.RetryAfter(now))
	assert.Equal(t, 899, res.RetryAfter(now.Add(1500*time.Millisecond)))
	assert.Equal(t, 1, res.RetryAfter(now.Add(15*time.Minute-time.Millisecond)))
	assert.Equal(t, 0, res.RetryAfter(now.Add(16*time.Minute)))
}

func TestLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	limiter, store := newTestLimiter(Config{Name: "t", Window: time.Minute, MaxRequests: 10}, clock)
	ctx := context.Background()

	limiter.Check(ctx, "old", "/x")
	clock.Advance(45 * time.Second)
	limiter.Check(ctx, "new", "/x")
	require.Equal(t, 2, store.Len())

	clock.Advance(20 * time.Second)
	assert.Equal(t, 1, limiter.Sweep(ctx))
	assert.Equal(t, 1, store.Len())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, limiter.Sweep(ctx))
	assert.Equal(t, 0, store.Len())
}

func TestLimiter_StartSweeperStops(t *testing.T) {
	limiter, _ := newTestLimiter(APIConfig, newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())

	done := limiter.StartSweeper(ctx, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Duration, int, time.Time) (Entry, bool, error) {
	return Entry{}, false, errors.New("connection refused")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func (failingStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func TestLimiter_StoreErrorFailsOpen(t *testing.T) {
	limiter := NewLimiter(LoginConfig, failingStore{}, nil)
	ctx := context.Background()

	res := limiter.Check(ctx, "client", "/login")
	assert.True(t, res.Allowed)
	assert.Equal(t, LoginConfig.MaxRequests-1, res.Remaining)

	limiter.Reset(ctx, "client", "/login")
	assert.Equal(t, 0, limiter.Sweep(ctx))
}

func TestLimiter_ConcurrentChecks(t *testing.T) {
	limiter, _ := newTestLimiter(APIConfig, newFakeClock())
	ctx := context.Background()

	var allowed int64
	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if limiter.Check(ctx, "shared", "/api").Allowed {
					atomic.AddInt64(&allowed, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(APIConfig.MaxRequests), allowed)
}
