package app

import (
	"context"
	"time"

	"github.com/quotagate/quotagate/domain/usage"
	"github.com/quotagate/quotagate/ports"
)

// UsageReport is the reporting view of a user's consumption over a period.
type UsageReport struct {
	Summary usage.Summary
	Daily   []usage.DailyStat
}

// Reports builds usage views for users and admin tooling. Closed days come
// from the rollup table; the covering summary is a live ledger scan so the
// current day is always up to date.
type Reports struct {
	ledger     ports.LedgerStore
	aggregates ports.AggregateStore
	clock      ports.Clock
}

// NewReports creates a new reporting service.
func NewReports(ledger ports.LedgerStore, aggregates ports.AggregateStore, clock ports.Clock) *Reports {
	return &Reports{
		ledger:     ledger,
		aggregates: aggregates,
		clock:      clock,
	}
}

// UsageSummary returns aggregated usage for the past days (default 30).
func (s *Reports) UsageSummary(ctx context.Context, userID string, days int) (UsageReport, error) {
	if days <= 0 {
		days = 30
	}

	now := s.clock.Now()
	start := now.Add(-time.Duration(days) * 24 * time.Hour)

	summary, err := s.ledger.Summary(ctx, userID, start, now)
	if err != nil {
		return UsageReport{}, &QuotaUnavailableError{Backend: "ledger", Cause: err}
	}

	daily, err := s.aggregates.ListDaily(ctx, userID, days)
	if err != nil {
		return UsageReport{}, &QuotaUnavailableError{Backend: "ledger", Cause: err}
	}

	return UsageReport{Summary: summary, Daily: daily}, nil
}

// RecentEvents returns the newest ledger rows for a user.
func (s *Reports) RecentEvents(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.ledger.RecentEvents(ctx, userID, limit)
}
