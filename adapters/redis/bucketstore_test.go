package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"

	"github.com/quotagate/quotagate/adapters/redis"
	"github.com/quotagate/quotagate/domain/bucket"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*redis.BucketStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redis.NewWithClient(client, redis.Config{}), mr
}

func TestBucketStore_TakeSequence(t *testing.T) {
	s, _ := newTestStore(t)
	cfg := bucket.ForRate(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := s.Take(ctx, "u1:chat", cfg, baseTime)
		if err != nil {
			t.Fatalf("take: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d: expected admission", i+1)
		}
	}

	result, err := s.Take(ctx, "u1:chat", cfg, baseTime)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if result.Allowed {
		t.Error("expected third request to be denied")
	}
	if result.RetryAfter <= 0 {
		t.Errorf("retryAfter = %v, want positive", result.RetryAfter)
	}
}

func TestBucketStore_RefillsOverTime(t *testing.T) {
	s, _ := newTestStore(t)
	cfg := bucket.ForRate(2) // one token per 30s
	ctx := context.Background()

	// Drain the bucket.
	s.Take(ctx, "u1:chat", cfg, baseTime)
	s.Take(ctx, "u1:chat", cfg, baseTime)

	result, err := s.Take(ctx, "u1:chat", cfg, baseTime.Add(10*time.Second))
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if result.Allowed {
		t.Error("expected denial 10s after drain")
	}

	result, err = s.Take(ctx, "u1:chat", cfg, baseTime.Add(40*time.Second))
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if !result.Allowed {
		t.Error("expected admission once a token refilled")
	}
}

func TestBucketStore_KeysIndependent(t *testing.T) {
	s, _ := newTestStore(t)
	cfg := bucket.ForRate(1)
	ctx := context.Background()

	if r, err := s.Take(ctx, "u1:chat", cfg, baseTime); err != nil || !r.Allowed {
		t.Fatalf("u1 first take = %+v, %v", r, err)
	}
	if r, _ := s.Take(ctx, "u1:chat", cfg, baseTime); r.Allowed {
		t.Fatal("u1 second request admitted")
	}
	if r, _ := s.Take(ctx, "u2:chat", cfg, baseTime); !r.Allowed {
		t.Error("expected u2 to have its own bucket")
	}
}

func TestBucketStore_SetsIdleTTL(t *testing.T) {
	s, mr := newTestStore(t)
	cfg := bucket.ForRate(5)

	if _, err := s.Take(context.Background(), "u1:chat", cfg, baseTime); err != nil {
		t.Fatalf("take: %v", err)
	}

	ttl := mr.TTL("quotagate:bucket:u1:chat")
	if ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}
}

func TestBucketStore_ExpiredKeyStartsFull(t *testing.T) {
	s, mr := newTestStore(t)
	cfg := bucket.ForRate(2)
	ctx := context.Background()

	// Drain, then simulate TTL expiry.
	s.Take(ctx, "u1:chat", cfg, baseTime)
	s.Take(ctx, "u1:chat", cfg, baseTime)
	mr.Del("quotagate:bucket:u1:chat")

	result, err := s.Take(ctx, "u1:chat", cfg, baseTime)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if !result.Allowed || result.Remaining != 1 {
		t.Errorf("result = %+v, want full bucket minus one", result)
	}
}

func TestBucketStore_ErrorWhenBackendDown(t *testing.T) {
	s, mr := newTestStore(t)
	mr.Close()

	_, err := s.Take(context.Background(), "u1:chat", bucket.ForRate(2), baseTime)
	if err == nil {
		t.Error("expected error when backend is unreachable")
	}
}
