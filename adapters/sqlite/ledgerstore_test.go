package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quotagate/quotagate/adapters/sqlite"
	"github.com/quotagate/quotagate/domain/usage"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedStore(t *testing.T, s *sqlite.LedgerStore) {
	t.Helper()
	ctx := context.Background()
	events := []usage.Event{
		usage.NewEvent("ev-1", usage.Record{UserID: "u1", Feature: "ideas", Provider: "anthropic", Model: "claude-3", TokensIn: 100, TokensOut: 400, LatencyMs: 800, CostUSD: 0.015}, baseTime),
		usage.NewEvent("ev-2", usage.Record{UserID: "u1", Feature: "ideas", Provider: "anthropic", Model: "claude-3", TokensIn: 50, TokensOut: 250, LatencyMs: 600, CostUSD: 0.009}, baseTime.Add(time.Hour)),
		usage.NewEvent("ev-3", usage.Record{UserID: "u1", Feature: "stories", Provider: "openai", Model: "gpt-4", TokensIn: 200, TokensOut: 800, LatencyMs: 1200, CostUSD: 0.03}, baseTime.Add(2*time.Hour)),
		usage.NewEvent("ev-4", usage.Record{UserID: "u2", Feature: "ideas", Provider: "anthropic", Model: "claude-3", TokensIn: 10, TokensOut: 10, LatencyMs: 100, CostUSD: 0.001}, baseTime),
	}
	for _, e := range events {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("append %s: %v", e.ID, err)
		}
	}
}

func TestLedgerStore_CountRequests(t *testing.T) {
	s := sqlite.NewLedgerStore(openTestDB(t))
	seedStore(t, s)
	ctx := context.Background()

	count, err := s.CountRequests(ctx, "u1", baseTime, baseTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}

	// End-exclusive: the event at +1h is outside [base, base+1h).
	count, err = s.CountRequests(ctx, "u1", baseTime, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (end-exclusive)", count)
	}
}

func TestLedgerStore_SumTokens(t *testing.T) {
	s := sqlite.NewLedgerStore(openTestDB(t))
	seedStore(t, s)

	sum, err := s.SumTokens(context.Background(), "u1", baseTime, baseTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 1800 {
		t.Errorf("sum = %d, want 1800", sum)
	}
}

func TestLedgerStore_SumTokens_NoRows(t *testing.T) {
	s := sqlite.NewLedgerStore(openTestDB(t))

	sum, err := s.SumTokens(context.Background(), "nobody", baseTime, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 0 {
		t.Errorf("sum = %d, want 0", sum)
	}
}

func TestLedgerStore_Summary(t *testing.T) {
	s := sqlite.NewLedgerStore(openTestDB(t))
	seedStore(t, s)

	summary, err := s.Summary(context.Background(), "u1", baseTime, baseTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if summary.RequestCount != 3 {
		t.Errorf("requests = %d, want 3", summary.RequestCount)
	}
	if summary.TokensIn != 350 || summary.TokensOut != 1450 {
		t.Errorf("tokens = %d/%d, want 350/1450", summary.TokensIn, summary.TokensOut)
	}
	if summary.ByFeature["ideas"].Requests != 2 {
		t.Errorf("ideas requests = %d, want 2", summary.ByFeature["ideas"].Requests)
	}
	if summary.ByProvider["openai"].Tokens != 1000 {
		t.Errorf("openai tokens = %d, want 1000", summary.ByProvider["openai"].Tokens)
	}
}

func TestLedgerStore_RecentEvents(t *testing.T) {
	s := sqlite.NewLedgerStore(openTestDB(t))
	seedStore(t, s)

	events, err := s.RecentEvents(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].ID != "ev-3" {
		t.Errorf("first = %s, want ev-3 (newest)", events[0].ID)
	}
	if events[0].Model != "gpt-4" || events[0].TokensOut != 800 {
		t.Errorf("round-trip mismatch: %+v", events[0])
	}
}

func TestLedgerStore_RollupAndListDaily(t *testing.T) {
	s := sqlite.NewLedgerStore(openTestDB(t))
	seedStore(t, s)
	ctx := context.Background()

	rows, err := s.RollupDay(ctx, baseTime)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if rows != 2 {
		t.Errorf("rows = %d, want 2 (one per user)", rows)
	}

	daily, err := s.ListDaily(ctx, "u1", 30)
	if err != nil {
		t.Fatalf("listDaily: %v", err)
	}
	if len(daily) != 1 {
		t.Fatalf("len = %d, want 1", len(daily))
	}
	if daily[0].Requests != 3 || daily[0].TokensIn != 350 || daily[0].TokensOut != 1450 {
		t.Errorf("daily = %+v, want 3 requests, 350/1450 tokens", daily[0])
	}

	// Re-running the same day replaces, not duplicates.
	if _, err := s.RollupDay(ctx, baseTime); err != nil {
		t.Fatalf("second rollup: %v", err)
	}
	daily, _ = s.ListDaily(ctx, "u1", 30)
	if len(daily) != 1 {
		t.Errorf("len = %d after repeat rollup, want 1", len(daily))
	}
}

func TestLedgerStore_DayBoundary(t *testing.T) {
	s := sqlite.NewLedgerStore(openTestDB(t))
	ctx := context.Background()

	lateNight := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)
	pastMidnight := time.Date(2024, 1, 16, 0, 0, 1, 0, time.UTC)

	s.Append(ctx, usage.NewEvent("a", usage.Record{UserID: "u1", Feature: "f", TokensIn: 1, TokensOut: 1}, lateNight))
	s.Append(ctx, usage.NewEvent("b", usage.Record{UserID: "u1", Feature: "f", TokensIn: 1, TokensOut: 1}, pastMidnight))

	day15 := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	day16 := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	count, err := s.CountRequests(ctx, "u1", day15, day16)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("day 15 count = %d, want 1", count)
	}

	count, _ = s.CountRequests(ctx, "u1", day16, day16.AddDate(0, 0, 1))
	if count != 1 {
		t.Errorf("day 16 count = %d, want 1", count)
	}
}
