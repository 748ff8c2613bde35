package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

const DefaultShards = 32

// BucketingManager maps string keys onto a fixed number of buckets with
// murmur3. The in-memory limiter and lockout stores use it to pick the shard
// (and therefore the mutex) that owns a key.
type BucketingManager struct {
	buckets    int
	hasherPool sync.Pool
}

func NewBucketingManager(buckets int) *BucketingManager {
	if buckets <= 0 {
		buckets = DefaultShards
	}

	bm := &BucketingManager{buckets: buckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// Bucket returns the bucket (0 to Buckets()-1) that owns key.
func (bm *BucketingManager) Bucket(key string) int {
	return int(bm.getHash(key) % uint64(bm.buckets))
}

// Buckets returns the number of buckets
func (bm *BucketingManager) Buckets() int {
	return bm.buckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
