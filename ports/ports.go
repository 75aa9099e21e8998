// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/quotagate/quotagate/domain/bucket"
	"github.com/quotagate/quotagate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// LedgerStore is the durable, append-only store of consumption events.
// It is the source of truth for all usage; window queries always hit it
// directly (no caching) and must reflect every committed write.
type LedgerStore interface {
	// Append stores one consumption event.
	Append(ctx context.Context, e usage.Event) error

	// CountRequests returns the number of events for a user in [start, end).
	// Zero for users with no events, never an error on empty results.
	CountRequests(ctx context.Context, userID string, start, end time.Time) (int, error)

	// SumTokens returns tokens_in + tokens_out over [start, end).
	SumTokens(ctx context.Context, userID string, start, end time.Time) (int64, error)

	// Summary returns aggregated usage for [start, end).
	Summary(ctx context.Context, userID string, start, end time.Time) (usage.Summary, error)

	// RecentEvents returns the newest events for a user, newest first.
	RecentEvents(ctx context.Context, userID string, limit int) ([]usage.Event, error)
}

// BucketStore holds ephemeral token-bucket state keyed by (user, route).
// Take must perform the read-refill-decrement sequence atomically per key:
// two concurrent callers must never both consume the same token.
type BucketStore interface {
	Take(ctx context.Context, key string, cfg bucket.Config, now time.Time) (bucket.TakeResult, error)
}

// AggregateStore persists daily usage rollups.
type AggregateStore interface {
	// RollupDay aggregates one UTC day of ledger events into the daily
	// table. Idempotent: re-running a day replaces its rows.
	RollupDay(ctx context.Context, day time.Time) (int64, error)

	// ListDaily returns up to days of per-day stats for a user, oldest first.
	ListDaily(ctx context.Context, userID string, days int) ([]usage.DailyStat, error)
}
