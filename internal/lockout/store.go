package lockout

import (
	"context"
	"sync"
	"time"

	"marketplace-security/internal/bucketing"
)

// Entry tracks consecutive authentication failures for one identity.
// LockedUntil is only set once Attempts reached the threshold.
type Entry struct {
	Attempts    int        `json:"attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LastAttempt time.Time  `json:"last_attempt"`
}

func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.LockedUntil != nil {
		until := *e.LockedUntil
		c.LockedUntil = &until
	}
	return &c
}

// Reclaimable reports whether the sweep may drop e: its lock has passed, or
// nothing happened on it for staleAfter.
func (e *Entry) Reclaimable(now time.Time, staleAfter time.Duration) bool {
	if e.LockedUntil != nil && !now.Before(*e.LockedUntil) {
		return true
	}
	return now.Sub(e.LastAttempt) > staleAfter
}

// Store persists lockout entries. Update must apply fn atomically per key.
type Store interface {
	// Get returns nil, nil when key has no entry.
	Get(ctx context.Context, key string) (*Entry, error)

	// Update passes the current entry (nil when absent) to fn and stores what
	// fn returns. Returning nil deletes the entry.
	Update(ctx context.Context, key string, fn func(current *Entry) *Entry) (*Entry, error)

	Delete(ctx context.Context, key string) error

	// Sweep drops reclaimable entries and returns how many.
	Sweep(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)
}

// MemoryStore is the per-process Store, sharded like the rate limiter's.
type MemoryStore struct {
	shards  []*memoryShard
	buckets *bucketing.BucketingManager
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewMemoryStore(buckets *bucketing.BucketingManager) *MemoryStore {
	if buckets == nil {
		buckets = bucketing.NewBucketingManager(bucketing.DefaultShards)
	}
	shards := make([]*memoryShard, buckets.Buckets())
	for i := range shards {
		shards[i] = &memoryShard{entries: make(map[string]*Entry)}
	}
	return &MemoryStore{shards: shards, buckets: buckets}
}

func (s *MemoryStore) shard(key string) *memoryShard {
	return s.shards[s.buckets.Bucket(key)]
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.entries[key].clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fn func(current *Entry) *Entry) (*Entry, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	next := fn(sh.entries[key].clone())
	if next == nil {
		delete(sh.entries, key)
		return nil, nil
	}
	sh.entries[key] = next.clone()
	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if entry.Reclaimable(now, staleAfter) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked identities.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
