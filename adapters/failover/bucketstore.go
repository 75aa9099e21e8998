// Package failover degrades bucket checks to a local store when the
// distributed backend is unreachable.
package failover

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate/adapters/metrics"
	"github.com/quotagate/quotagate/domain/bucket"
	"github.com/quotagate/quotagate/ports"
)

// BucketStore wraps a primary (distributed) bucket store with an in-process
// fallback. A primary failure is logged and counted, never returned: the
// call is served by the fallback with identical semantics, at the cost of
// per-instance fairness.
//
// The primary is probed on every call - recovery is opportunistic, with no
// circuit breaker holding the store open.
type BucketStore struct {
	primary  ports.BucketStore
	fallback ports.BucketStore
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

// New creates a failover bucket store.
func New(primary, fallback ports.BucketStore, logger zerolog.Logger, collector *metrics.Collector) *BucketStore {
	return &BucketStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "bucket_failover").Logger(),
		metrics:  collector,
	}
}

// Take tries the primary store first and transparently falls back.
func (s *BucketStore) Take(ctx context.Context, key string, cfg bucket.Config, now time.Time) (bucket.TakeResult, error) {
	result, err := s.primary.Take(ctx, key, cfg, now)
	if err == nil {
		return result, nil
	}

	s.logger.Warn().Err(err).Str("key", key).Msg("distributed bucket unavailable, using in-memory fallback")
	if s.metrics != nil {
		s.metrics.BucketFallbacks.Inc()
	}

	return s.fallback.Take(ctx, key, cfg, now)
}

// Ensure interface compliance.
var _ ports.BucketStore = (*BucketStore)(nil)
