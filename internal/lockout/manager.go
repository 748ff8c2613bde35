// Package lockout turns repeated authentication failures for one identity
// into a temporary lock.
//
// It is keyed by identity (usually "email:<addr>"), not by network origin, so
// a brute force spread over many source addresses still trips it. Locks are
// always time-bounded: an entry moves from no record, to tracking, to locked,
// and back to no record on success, on an expired lock seen by IsLocked, or
// through the periodic cleanup.
package lockout

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"marketplace-security/internal/metrics"
)

const (
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 15 * time.Minute
	DefaultTrackingWindow  = 15 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

type Config struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	TrackingWindow  time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     DefaultMaxAttempts,
		LockoutDuration: DefaultLockoutDuration,
		TrackingWindow:  DefaultTrackingWindow,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// Status is what callers branch on. It is never an error.
type Status struct {
	Locked            bool
	RemainingAttempts int
	LockedUntil       *time.Time
}

// RetryAfter returns whole seconds until the lock ends, rounded up.
func (s Status) RetryAfter(now time.Time) int {
	if s.LockedUntil == nil {
		return 0
	}
	wait := s.LockedUntil.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

// MinutesRemaining returns whole minutes until the lock ends, rounded up.
func (s Status) MinutesRemaining(now time.Time) int {
	secs := s.RetryAfter(now)
	return int(math.Ceil(float64(secs) / 60))
}

// LoginIdentity builds the lockout key for a login attempt. Without an email
// the client network identifier is used, so clients behind one NAT share it.
func LoginIdentity(email, clientID string) string {
	if email != "" {
		return "email:" + email
	}
	return "ip:" + clientID
}

type Manager struct {
	config Config
	store  Store
	logger *zap.Logger
	now    func() time.Time
	onLock func(identifier string, until time.Time)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithOnLock registers a callback fired when an identity becomes locked.
// It runs synchronously after the store update and must not block.
func WithOnLock(fn func(identifier string, until time.Time)) Option {
	return func(m *Manager) {
		m.onLock = fn
	}
}

func NewManager(cfg Config, store Store, logger *zap.Logger, opts ...Option) *Manager {
	defaults := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaults.LockoutDuration
	}
	if cfg.TrackingWindow <= 0 {
		cfg.TrackingWindow = defaults.TrackingWindow
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config: cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Config() Config {
	return m.config
}

func (m *Manager) remaining(attempts int) int {
	if left := m.config.MaxAttempts - attempts; left > 0 {
		return left
	}
	return 0
}

// RecordFailedAttempt counts one failure for identifier. The fifth failure
// inside the tracking window locks it for LockoutDuration. A failure after
// the window has lapsed starts a fresh count.
func (m *Manager) RecordFailedAttempt(ctx context.Context, identifier string) Status {
	now := m.now()
	justLocked := false

	entry, err := m.store.Update(ctx, identifier, func(cur *Entry) *Entry {
		// Shared stores may retry fn on contention.
		justLocked = false

		switch {
		case cur == nil:
			cur = &Entry{Attempts: 1}
		case now.Sub(cur.LastAttempt) > m.config.TrackingWindow,
			cur.LockedUntil != nil && !now.Before(*cur.LockedUntil):
			// An ended lock counts as no record, whether or not a sweep or
			// IsLocked has removed it yet.
			cur.Attempts = 1
			cur.LockedUntil = nil
		default:
			cur.Attempts++
		}
		cur.LastAttempt = now

		if cur.Attempts >= m.config.MaxAttempts && cur.LockedUntil == nil {
			until := now.Add(m.config.LockoutDuration)
			cur.LockedUntil = &until
			justLocked = true
		}
		return cur
	})
	if err != nil {
		m.logger.Error("Failed to record failed attempt",
			zap.String("identifier", identifier),
			zap.Error(err))
		return Status{RemainingAttempts: m.config.MaxAttempts}
	}

	metrics.LockoutEvents.WithLabelValues("failed_attempt").Inc()

	status := Status{
		Locked:            entry.LockedUntil != nil && now.Before(*entry.LockedUntil),
		RemainingAttempts: m.remaining(entry.Attempts),
		LockedUntil:       entry.LockedUntil,
	}

	if justLocked {
		metrics.LockoutEvents.WithLabelValues("locked").Inc()
		m.logger.Warn("Identity locked",
			zap.String("identifier", identifier),
			zap.Int("attempts", entry.Attempts),
			zap.Time("locked_until", *entry.LockedUntil))
		if m.onLock != nil {
			m.onLock(identifier, *entry.LockedUntil)
		}
	}

	return status
}

// RecordSuccess wipes the failure history for identifier.
func (m *Manager) RecordSuccess(ctx context.Context, identifier string) {
	if err := m.store.Delete(ctx, identifier); err != nil {
		m.logger.Error("Failed to clear lockout entry",
			zap.String("identifier", identifier),
			zap.Error(err))
		return
	}
	metrics.LockoutEvents.WithLabelValues("cleared").Inc()
}

// IsLocked reports the current state without counting an attempt. An expired
// lock is deleted on the spot and reported as a full quota.
func (m *Manager) IsLocked(ctx context.Context, identifier string) Status {
	now := m.now()
	unlocked := Status{RemainingAttempts: m.config.MaxAttempts}

	entry, err := m.store.Get(ctx, identifier)
	if err != nil {
		m.logger.Error("Failed to read lockout entry, treating as unlocked",
			zap.String("identifier", identifier),
			zap.Error(err))
		return unlocked
	}
	if entry == nil {
		return unlocked
	}

	if entry.LockedUntil != nil {
		if now.Before(*entry.LockedUntil) {
			metrics.LockoutEvents.WithLabelValues("rejected").Inc()
			return Status{
				Locked:            true,
				RemainingAttempts: m.remaining(entry.Attempts),
				LockedUntil:       entry.LockedUntil,
			}
		}

		if err := m.store.Delete(ctx, identifier); err != nil {
			m.logger.Warn("Failed to delete expired lockout entry",
				zap.String("identifier", identifier),
				zap.Error(err))
		}
		metrics.LockoutEvents.WithLabelValues("expired").Inc()
		return unlocked
	}

	return Status{RemainingAttempts: m.remaining(entry.Attempts)}
}

// Sweep drops expired locks and entries idle for twice the tracking window.
func (m *Manager) Sweep(ctx context.Context) int {
	removed, err := m.store.Sweep(ctx, m.now(), 2*m.config.TrackingWindow)
	if err != nil {
		m.logger.Warn("Lockout cleanup failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		metrics.SweepRemoved.WithLabelValues("lockout").Add(float64(removed))
		m.logger.Info("Cleaned up lockout entries", zap.Int("removed", removed))
	}
	return removed
}

// StartCleanup runs Sweep every CleanupInterval on one goroutine until ctx is
// done. The returned channel closes when it exits.
func (m *Manager) StartCleanup(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(m.config.CleanupInterval)

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()

	return done
}
