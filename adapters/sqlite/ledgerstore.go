package sqlite

import (
	"context"
	"time"

	"github.com/quotagate/quotagate/domain/usage"
	"github.com/quotagate/quotagate/ports"
)

// sqliteTime formats a timestamp for comparison against stored values.
// Timestamps are stored in UTC; comparisons must use the same zone.
const sqliteTime = "2006-01-02 15:04:05.999999999"

// LedgerStore implements ports.LedgerStore and ports.AggregateStore on SQLite.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new SQLite ledger store.
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Append stores one consumption event.
func (s *LedgerStore) Append(ctx context.Context, e usage.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (
			id, user_id, feature, provider, model,
			tokens_in, tokens_out, latency_ms, cost_usd, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.Feature, e.Provider, e.Model,
		e.TokensIn, e.TokensOut, e.LatencyMs, e.CostUSD, e.CreatedAt.UTC())
	return err
}

// CountRequests returns the number of events for a user in [start, end).
func (s *LedgerStore) CountRequests(ctx context.Context, userID string, start, end time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM usage_events
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
	`, userID, start.UTC().Format(sqliteTime), end.UTC().Format(sqliteTime)).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SumTokens returns tokens_in + tokens_out over [start, end).
func (s *LedgerStore) SumTokens(ctx context.Context, userID string, start, end time.Time) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_in + tokens_out), 0)
		FROM usage_events
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
	`, userID, start.UTC().Format(sqliteTime), end.UTC().Format(sqliteTime)).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum, nil
}

// Summary returns aggregated usage for [start, end), including per-feature
// and per-provider breakdowns.
func (s *LedgerStore) Summary(ctx context.Context, userID string, start, end time.Time) (usage.Summary, error) {
	startStr := start.UTC().Format(sqliteTime)
	endStr := end.UTC().Format(sqliteTime)

	summary := usage.Summary{
		UserID:      userID,
		PeriodStart: start,
		PeriodEnd:   end,
		ByFeature:   make(map[string]usage.Breakdown),
		ByProvider:  make(map[string]usage.Breakdown),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(tokens_in), 0),
			COALESCE(SUM(tokens_out), 0),
			COALESCE(SUM(cost_usd), 0),
			CAST(COALESCE(AVG(latency_ms), 0) AS INTEGER)
		FROM usage_events
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
	`, userID, startStr, endStr).Scan(
		&summary.RequestCount,
		&summary.TokensIn,
		&summary.TokensOut,
		&summary.CostUSD,
		&summary.AvgLatencyMs,
	)
	if err != nil {
		return usage.Summary{}, err
	}

	if err := s.breakdown(ctx, "feature", userID, startStr, endStr, summary.ByFeature); err != nil {
		return usage.Summary{}, err
	}
	if err := s.breakdown(ctx, "provider", userID, startStr, endStr, summary.ByProvider); err != nil {
		return usage.Summary{}, err
	}

	delete(summary.ByProvider, "")
	return summary, nil
}

// breakdown fills a per-column aggregation map. Column is one of the fixed
// names "feature" or "provider", never caller input.
func (s *LedgerStore) breakdown(ctx context.Context, column, userID, start, end string, out map[string]usage.Breakdown) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+column+`,
			COUNT(*),
			COALESCE(SUM(tokens_in + tokens_out), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM usage_events
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
		GROUP BY `+column+`
	`, userID, start, end)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var b usage.Breakdown
		if err := rows.Scan(&key, &b.Requests, &b.Tokens, &b.CostUSD); err != nil {
			return err
		}
		out[key] = b
	}
	return rows.Err()
}

// RecentEvents returns the newest events for a user, newest first.
func (s *LedgerStore) RecentEvents(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, feature, provider, model,
		       tokens_in, tokens_out, latency_ms, cost_usd, created_at
		FROM usage_events
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var e usage.Event
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Feature, &e.Provider, &e.Model,
			&e.TokensIn, &e.TokensOut, &e.LatencyMs, &e.CostUSD, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RollupDay aggregates one UTC day of ledger events into daily_aggregates.
// Idempotent: re-running a day replaces its rows.
func (s *LedgerStore) RollupDay(ctx context.Context, day time.Time) (int64, error) {
	u := day.UTC()
	dayStart := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_aggregates (user_id, day, requests, tokens_in, tokens_out, cost_usd)
		SELECT user_id, ?,
			COUNT(*),
			COALESCE(SUM(tokens_in), 0),
			COALESCE(SUM(tokens_out), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM usage_events
		WHERE created_at >= ? AND created_at < ?
		GROUP BY user_id
		ON CONFLICT(user_id, day) DO UPDATE SET
			requests = excluded.requests,
			tokens_in = excluded.tokens_in,
			tokens_out = excluded.tokens_out,
			cost_usd = excluded.cost_usd
	`, dayStart.Format("2006-01-02"), dayStart.Format(sqliteTime), dayEnd.Format(sqliteTime))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListDaily returns up to days of per-day stats for a user, oldest first.
func (s *LedgerStore) ListDaily(ctx context.Context, userID string, days int) ([]usage.DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, requests, tokens_in, tokens_out, cost_usd
		FROM (
			SELECT * FROM daily_aggregates
			WHERE user_id = ?
			ORDER BY day DESC
			LIMIT ?
		)
		ORDER BY day ASC
	`, userID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []usage.DailyStat
	for rows.Next() {
		var stat usage.DailyStat
		var day string
		stat.UserID = userID
		if err := rows.Scan(&day, &stat.Requests, &stat.TokensIn, &stat.TokensOut, &stat.CostUSD); err != nil {
			return nil, err
		}
		stat.Day, _ = time.Parse("2006-01-02", day)
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

// Ensure interface compliance.
var (
	_ ports.LedgerStore    = (*LedgerStore)(nil)
	_ ports.AggregateStore = (*LedgerStore)(nil)
)
