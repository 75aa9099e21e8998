// Package redis provides the distributed token bucket store.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quotagate/quotagate/domain/bucket"
	"github.com/quotagate/quotagate/ports"
)

// takeScript runs the refill-check-consume sequence as a single server-side
// round trip, making each Take atomic per key across all process instances.
// Returns {allowed, tokens-remaining}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
	tokens = capacity
	last = now
end

local elapsed = now - last
if elapsed < 0 then
	elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * refill)

local allowed = 0
if tokens >= 1.0 then
	tokens = tokens - 1.0
	allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, ttl)

return {allowed, tostring(tokens)}
`)

// BucketStore implements ports.BucketStore on Redis, sharing bucket state
// across process instances. Callers should wrap it with the failover store:
// errors here mean the backend is unreachable, never a denial.
type BucketStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Config configures the Redis bucket store.
type Config struct {
	URL       string        // redis://host:port[/db]
	KeyTTL    time.Duration // Idle bucket expiry (default: 1h)
	KeyPrefix string        // Key namespace (default: "quotagate:bucket:")
}

// New creates a Redis bucket store and verifies connectivity.
func New(cfg Config) (*BucketStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis bucket store around an existing client
// (used by tests with miniredis).
func NewWithClient(client *redis.Client, cfg Config) *BucketStore {
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "quotagate:bucket:"
	}
	return &BucketStore{
		client: client,
		ttl:    cfg.KeyTTL,
		prefix: cfg.KeyPrefix,
	}
}

// Take atomically refills and consumes one token for a key.
func (s *BucketStore) Take(ctx context.Context, key string, cfg bucket.Config, now time.Time) (bucket.TakeResult, error) {
	raw, err := takeScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		cfg.Capacity,
		cfg.RefillPerSec,
		float64(now.UnixNano())/float64(time.Second),
		int(s.ttl.Seconds()),
	).Result()
	if err != nil {
		return bucket.TakeResult{}, fmt.Errorf("bucket take: %w", err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return bucket.TakeResult{}, fmt.Errorf("bucket take: unexpected reply %v", raw)
	}

	allowed, _ := reply[0].(int64)
	tokens, err := replyFloat(reply[1])
	if err != nil {
		return bucket.TakeResult{}, fmt.Errorf("bucket take: %w", err)
	}

	result := bucket.TakeResult{
		Allowed:   allowed == 1,
		Remaining: tokens,
	}
	if !result.Allowed && cfg.RefillPerSec > 0 {
		result.RetryAfter = time.Duration((1.0 - tokens) / cfg.RefillPerSec * float64(time.Second))
	}
	return result, nil
}

func replyFloat(v interface{}) (float64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("non-string token count %v", v)
	}
	return strconv.ParseFloat(str, 64)
}

// Ping verifies the backend is reachable.
func (s *BucketStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *BucketStore) Close() error {
	return s.client.Close()
}

// Ensure interface compliance.
var _ ports.BucketStore = (*BucketStore)(nil)
