// Package ratelimit implements a fixed-window request limiter keyed by
// client identifier and endpoint.
//
// A window opens on the first request for a key and lasts Config.Window.
// Up to Config.MaxRequests requests are allowed inside it; later ones are
// denied until the window ends, at which point the key starts over.
// Denial is a normal Result, never an error.
package ratelimit

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"marketplace-security/internal/metrics"
)

const DefaultSweepInterval = time.Minute

// Config describes one endpoint class.
type Config struct {
	Name        string
	Window      time.Duration
	MaxRequests int
}

// Result is the outcome of a Check.
type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetTime time.Time
}

// RetryAfter returns the whole seconds until the window resets, rounded up.
func (r Result) RetryAfter(now time.Time) int {
	wait := r.ResetTime.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int(math.Ceil(wait.Seconds()))
}

type Limiter struct {
	config Config
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(cfg Config, store Store, logger *zap.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 1
	}
	l := &Limiter{
		config: cfg,
		store:  store,
		logger: logger.With(zap.String("limiter", cfg.Name)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the composite store key.
func Key(identifier, endpoint string) string {
	return identifier + ":" + endpoint
}

// Check counts one request for identifier against endpoint.
// If the store fails the request is allowed and the failure is logged, so a
// cache outage degrades to no limiting instead of rejecting all traffic.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string) Result {
	now := l.now()
	key := Key(identifier, endpoint)

	entry, allowed, err := l.store.Hit(ctx, key, l.config.Window, l.config.MaxRequests, now)
	if err != nil {
		l.logger.Error("Rate limit store failed, allowing request",
			zap.String("key", key),
			zap.Error(err))
		metrics.RateLimitDecisions.WithLabelValues(l.config.Name, "store_error").Inc()
		return Result{
			Allowed:   true,
			Remaining: l.config.MaxRequests - 1,
			Limit:     l.config.MaxRequests,
			ResetTime: now.Add(l.config.Window),
		}
	}

	if !allowed {
		metrics.RateLimitDecisions.WithLabelValues(l.config.Name, "denied").Inc()
		l.logger.Debug("Rate limit exceeded",
			zap.String("key", key),
			zap.Int("count", entry.Count),
			zap.Time("reset_time", entry.ResetTime))
		return Result{
			Allowed:   false,
			Remaining: 0,
			Limit:     l.config.MaxRequests,
			ResetTime: entry.ResetTime,
		}
	}

	metrics.RateLimitDecisions.WithLabelValues(l.config.Name, "allowed").Inc()
	return Result{
		Allowed:   true,
		Remaining: l.config.MaxRequests - entry.Count,
		Limit:     l.config.MaxRequests,
		ResetTime: entry.ResetTime,
	}
}

// Reset forgets the window for identifier on endpoint.
func (l *Limiter) Reset(ctx context.Context, identifier, endpoint string) {
	key := Key(identifier, endpoint)
	if err := l.store.Delete(ctx, key); err != nil {
		l.logger.Warn("Failed to reset rate limit window",
			zap.String("key", key),
			zap.Error(err))
	}
}

func (l *Limiter) Config() Config {
	return l.config
}

// Sweep removes expired windows once.
func (l *Limiter) Sweep(ctx context.Context) int {
	removed, err := l.store.Sweep(ctx, l.now())
	if err != nil {
		l.logger.Warn("Rate limit sweep failed", zap.Error(err))
		return 0
	}
	if removed > 0 {
		metrics.SweepRemoved.WithLabelValues("ratelimit_" + l.config.Name).Add(float64(removed))
		l.logger.Debug("Rate limit sweep completed", zap.Int("removed", removed))
	}
	return removed
}

// StartSweeper runs Sweep every interval on a single goroutine until ctx is
// done. The returned channel closes when the goroutine exits.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep(ctx)
			}
		}
	}()

	return done
}
