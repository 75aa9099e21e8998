package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/quotagate/quotagate/domain/bucket"
	"github.com/quotagate/quotagate/ports"
)

// bucketShard is a single shard of the bucket store.
type bucketShard struct {
	mu    sync.Mutex
	state map[string]bucket.State
}

// BucketStore is a sharded in-memory token bucket store. It serves as the
// in-process fallback when no distributed backend is configured or the
// backend is unreachable. Sharding reduces lock contention; the per-shard
// mutex makes each Take atomic per key.
type BucketStore struct {
	shards    []*bucketShard
	numShards int
	idleTTL   time.Duration
	cleanup   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// BucketStoreConfig configures the in-memory bucket store.
type BucketStoreConfig struct {
	NumShards       int           // Number of shards (default: 32)
	IdleTTL         time.Duration // Evict buckets idle longer than this (default: 1h)
	CleanupInterval time.Duration // How often to sweep idle buckets (default: 5m)
}

// NewBucketStore creates a new sharded in-memory bucket store.
func NewBucketStore(cfg BucketStoreConfig) *BucketStore {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 32
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	s := &BucketStore{
		shards:    make([]*bucketShard, cfg.NumShards),
		numShards: cfg.NumShards,
		idleTTL:   cfg.IdleTTL,
		done:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &bucketShard{state: make(map[string]bucket.State)}
	}

	s.cleanup = time.NewTicker(cfg.CleanupInterval)
	go s.cleanupLoop()

	return s
}

// getShard maps a key to its shard by FNV hash.
func (s *BucketStore) getShard(key string) *bucketShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(s.numShards)]
}

// Take atomically refills and consumes one token for a key.
// The read-refill-decrement sequence runs under the shard lock so two
// concurrent callers can never both consume the last token.
func (s *BucketStore) Take(ctx context.Context, key string, cfg bucket.Config, now time.Time) (bucket.TakeResult, error) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	result, newState := bucket.Take(shard.state[key], cfg, now)
	shard.state[key] = newState

	return result, nil
}

// cleanupLoop periodically evicts idle buckets. Eviction is safe: a fresh
// bucket re-initializes to full capacity, the correct steady state for a
// key that has been idle longer than the TTL.
func (s *BucketStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanup.C:
			s.EvictIdle(time.Now())
		case <-s.done:
			return
		}
	}
}

// EvictIdle removes buckets whose last refill is older than the idle TTL.
// Called by the cleanup loop; exported so tests can sweep deterministically.
func (s *BucketStore) EvictIdle(now time.Time) {
	cutoff := now.Add(-s.idleTTL)
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, state := range shard.state {
			if state.LastRefill.Before(cutoff) {
				delete(shard.state, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (s *BucketStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cleanup.Stop()
	})
	return nil
}

// Len returns the total number of buckets across all shards (for testing).
func (s *BucketStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.state)
		shard.mu.Unlock()
	}
	return total
}

// Ensure interface compliance.
var _ ports.BucketStore = (*BucketStore)(nil)
