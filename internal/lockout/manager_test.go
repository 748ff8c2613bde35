package lockout

import (
	"context"
	"errors"
	"sync"
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

func newTestManager(clock *fakeClock, opts ...Option) (*Manager, *MemoryStore) {
	store := NewMemoryStore(bucketing.NewBucketingManager(4))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewManager(DefaultConfig(), store, zap.NewNop(), opts...), store
}

func TestManager_Escalation(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestManager(clock)
	ctx := context.Background()
	id := LoginIdentity("buyer@example.com", "")

	for _, want := range []int{4, 3, 2, 1} {
		st := m.RecordFailedAttempt(ctx, id)
		require.False(t, st.Locked)
		assert.Equal(t, want, st.RemainingAttempts)
		assert.Nil(t, st.LockedUntil)
		clock.Advance(time.Minute)
	}

	fifth := clock.Now()
	st := m.RecordFailedAttempt(ctx, id)
	require.True(t, st.Locked)
	assert.Equal(t, 0, st.RemainingAttempts)
	require.NotNil(t, st.LockedUntil)
	assert.Equal(t, fifth.Add(15*time.Minute), *st.LockedUntil)

	check := m.IsLocked(ctx, id)
	assert.True(t, check.Locked)
	assert.Equal(t, 900, check.RetryAfter(clock.Now()))
	assert.Equal(t, 15, check.MinutesRemaining(clock.Now()))
}

func TestManager_FurtherFailuresDoNotExtendLock(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestManager(clock)
	ctx := context.Background()

	var first *time.Time
	for i := 0; i < 5; i++ {
		first = m.RecordFailedAttempt(ctx, "email:a@b.in").LockedUntil
	}
	require.NotNil(t, first)

	clock.Advance(2 * time.Minute)
	st := m.RecordFailedAttempt(ctx, "email:a@b.in")
	assert.True(t, st.Locked)
	assert.Equal(t, *first, *st.LockedUntil)
}

func TestManager_SuccessResetsFully(t *testing.T) {
	clock := newFakeClock()
	m, store := newTestManager(clock)
	ctx := context.Background()
	id := "email:seller@example.com"

	for i := 0; i < 5; i++ {
		m.RecordFailedAttempt(ctx, id)
	}
	require.True(t, m.IsLocked(ctx, id).Locked)

	m.RecordSuccess(ctx, id)

	st := m.IsLocked(ctx, id)
	assert.False(t, st.Locked)
	assert.Equal(t, 5, st.RemainingAttempts)
	assert.Equal(t, 0, store.Len())
}

func TestManager_WindowExpiryRestartsCount(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestManager(clock)
	ctx := context.Background()
	id := "email:slow@example.com"

	for i := 0; i < 10; i++ {
		st := m.RecordFailedAttempt(ctx, id)
		assert.False(t, st.Locked, "failure %d", i+1)
		assert.Equal(t, 4, st.RemainingAttempts)
		clock.Advance(20 * time.Minute)
	}
}

func TestManager_ExpiredLockDeletedOnRead(t *testing.T) {
	clock := newFakeClock()
	m, store := newTestManager(clock)
	ctx := context.Background()
	id := "ip:198.51.100.4"

	for i := 0; i < 5; i++ {
		m.RecordFailedAttempt(ctx, id)
	}
	require.Equal(t, 1, store.Len())

	clock.Advance(15 * time.Minute)

	st := m.IsLocked(ctx, id)
	assert.False(t, st.Locked)
	assert.Equal(t, 5, st.RemainingAttempts)
	assert.Nil(t, st.LockedUntil)
	assert.Equal(t, 0, store.Len())
}

func TestManager_IsLockedWhileTracking(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestManager(clock)
	ctx := context.Background()

	st := m.IsLocked(ctx, "email:new@example.com")
	assert.False(t, st.Locked)
	assert.Equal(t, 5, st.RemainingAttempts)

	m.RecordFailedAttempt(ctx, "email:new@example.com")
	m.RecordFailedAttempt(ctx, "email:new@example.com")

	st = m.IsLocked(ctx, "email:new@example.com")
	assert.False(t, st.Locked)
	assert.Equal(t, 3, st.RemainingAttempts)
}

func TestManager_Sweep(t *testing.T) {
	clock := newFakeClock()
	m, store := newTestManager(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.RecordFailedAttempt(ctx, "email:locked@example.com")
	}
	m.RecordFailedAttempt(ctx, "email:tracking@example.com")
	require.Equal(t, 2, store.Len())

	// Lock still active, tracking entry not stale yet.
	clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, m.Sweep(ctx))

	// Lock expired; tracking entry is 20 minutes old, not stale until 30.
	clock.Advance(10 * time.Minute)
	m.RecordFailedAttempt(ctx, "email:fresh@example.com")
	assert.Equal(t, 1, m.Sweep(ctx))
	assert.Equal(t, 2, store.Len())

	clock.Advance(11 * time.Minute)
	assert.Equal(t, 1, m.Sweep(ctx))
	assert.Equal(t, 1, store.Len())
}

func TestManager_OnLockCallback(t *testing.T) {
	clock := newFakeClock()
	var gotID string
	var gotUntil time.Time
	calls := 0

	m, _ := newTestManager(clock, WithOnLock(func(id string, until time.Time) {
		calls++
		gotID = id
		gotUntil = until
	}))
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		m.RecordFailedAttempt(ctx, "email:x@y.in")
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, "email:x@y.in", gotID)
	assert.Equal(t, clock.Now().Add(15*time.Minute), gotUntil)
}

func TestManager_StartCleanupStops(t *testing.T) {
	m, _ := newTestManager(newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())

	done := m.StartCleanup(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop after cancel")
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (*Entry, error) {
	return nil, errors.New("timeout")
}

func (brokenStore) Update(context.Context, string, func(*Entry) *Entry) (*Entry, error) {
	return nil, errors.New("timeout")
}

func (brokenStore) Delete(context.Context, string) error {
	return errors.New("timeout")
}

func (brokenStore) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, errors.New("timeout")
}

func TestManager_StoreErrorsAreValues(t *testing.T) {
	m := NewManager(Config{}, brokenStore{}, nil)
	ctx := context.Background()

	st := m.RecordFailedAttempt(ctx, "email:a@b.in")
	assert.False(t, st.Locked)
	assert.Equal(t, DefaultMaxAttempts, st.RemainingAttempts)

	st = m.IsLocked(ctx, "email:a@b.in")
	assert.False(t, st.Locked)

	m.RecordSuccess(ctx, "email:a@b.in")
	assert.Equal(t, 0, m.Sweep(ctx))
}

func TestLoginIdentity(t *testing.T) {
	assert.Equal(t, "email:a@b.in", LoginIdentity("a@b.in", "10.0.0.1"))
	assert.Equal(t, "ip:10.0.0.1", LoginIdentity("", "10.0.0.1"))
}

func TestStatus_RetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	until := now.Add(90 * time.Second)
	st := Status{Locked: true, LockedUntil: &until}

	assert.Equal(t, 90, st.RetryAfter(now))
	assert.Equal(t, 2, st.MinutesRemaining(now))
	assert.Equal(t, 0, Status{}.RetryAfter(now))
}

func TestManager_FailureAfterLockEndsStartsOver(t *testing.T) {
	clock := newFakeClock()
	m, _ := newTestManager(clock)
	ctx := context.Background()
	id := "email:returning@example.com"

	for i := 0; i < 5; i++ {
		m.RecordFailedAttempt(ctx, id)
	}

	// No IsLocked or Sweep in between: the stale lock is still stored.
	clock.Advance(15 * time.Minute)
	st := m.RecordFailedAttempt(ctx, id)
	assert.False(t, st.Locked)
	assert.Equal(t, 4, st.RemainingAttempts)
	assert.Nil(t, st.LockedUntil)

	for i := 0; i < 4; i++ {
		st = m.RecordFailedAttempt(ctx, id)
	}
	require.True(t, st.Locked)
	assert.Equal(t, clock.Now().Add(15*time.Minute), *st.LockedUntil)
}
