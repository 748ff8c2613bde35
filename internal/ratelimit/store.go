package ratelimit

import (
	"context"
	"sync"
	"time"

	"marketplace-security/internal/bucketing"
)

// Entry is the state of one identifier:endpoint window.
type Entry struct {
	Count     int       `json:"count"`
	ResetTime time.Time `json:"reset_time"`
}

// Store holds fixed-window counters. Implementations must be safe for
// concurrent use and apply Hit atomically per key.
type Store interface {
	// Hit records one request against key. A missing or expired entry starts a
	// new window with Count 1. An entry at max is returned unchanged with
	// allowed=false. Otherwise Count is incremented.
	Hit(ctx context.Context, key string, window time.Duration, max int, now time.Time) (entry Entry, allowed bool, err error)

	// Delete removes key immediately.
	Delete(ctx context.Context, key string) error

	// Sweep removes entries whose window ended before now and returns how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps windows in process memory, split into shards so that
// unrelated keys don't contend on one mutex.
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

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, max int, now time.Time) (Entry, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok || now.After(entry.ResetTime) {
		entry = &Entry{Count: 1, ResetTime: now.Add(window)}
		sh.entries[key] = entry
		return *entry, true, nil
	}

	if entry.Count >= max {
		return *entry, false, nil
	}

	entry.Count++
	return *entry, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			if now.After(entry.ResetTime) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked windows.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}
