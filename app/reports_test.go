package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/quotagate/quotagate/adapters/clock"
	"github.com/quotagate/quotagate/adapters/idgen"
	"github.com/quotagate/quotagate/adapters/memory"
	"github.com/quotagate/quotagate/app"
	"github.com/quotagate/quotagate/domain/usage"
)

func TestUsageSummary(t *testing.T) {
	ledger := memory.NewLedgerStore()
	clk := clock.NewFake(baseTime.Add(time.Hour))
	ctx := context.Background()

	gen := idgen.NewSequential("ev")
	for i := 0; i < 4; i++ {
		ledger.Append(ctx, usage.NewEvent(gen.New(), usage.Record{
			UserID: "u1", Feature: "chat", TokensIn: 25, TokensOut: 75, CostUSD: 0.01,
		}, baseTime.Add(-time.Duration(i)*24*time.Hour)))
	}

	reports := app.NewReports(ledger, ledger, clk)

	// Default period covers 30 days; a 2-day period drops the older events.
	report, err := reports.UsageSummary(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if report.Summary.RequestCount != 4 {
		t.Errorf("30d requests = %d, want 4", report.Summary.RequestCount)
	}

	report, err = reports.UsageSummary(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if report.Summary.RequestCount != 2 {
		t.Errorf("2d requests = %d, want 2", report.Summary.RequestCount)
	}
}

func TestUsageSummary_IncludesDailyRollups(t *testing.T) {
	ledger := memory.NewLedgerStore()
	ctx := context.Background()

	yesterday := baseTime.AddDate(0, 0, -1)
	ledger.Append(ctx, usage.NewEvent("ev-1", usage.Record{
		UserID: "u1", Feature: "chat", TokensIn: 10, TokensOut: 10,
	}, yesterday))
	if _, err := ledger.RollupDay(ctx, yesterday); err != nil {
		t.Fatalf("rollup: %v", err)
	}

	reports := app.NewReports(ledger, ledger, clock.NewFake(baseTime))
	report, err := reports.UsageSummary(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(report.Daily) != 1 {
		t.Fatalf("daily len = %d, want 1", len(report.Daily))
	}
	if report.Daily[0].Requests != 1 {
		t.Errorf("daily requests = %d, want 1", report.Daily[0].Requests)
	}
}

func TestRecentEvents_ClampsLimit(t *testing.T) {
	ledger := memory.NewLedgerStore()
	ctx := context.Background()

	gen := idgen.NewSequential("ev")
	for i := 0; i < 60; i++ {
		ledger.Append(ctx, usage.NewEvent(gen.New(), usage.Record{
			UserID: "u1", Feature: "chat",
		}, baseTime.Add(time.Duration(i)*time.Second)))
	}

	reports := app.NewReports(ledger, ledger, clock.NewFake(baseTime))

	events, err := reports.RecentEvents(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 50 {
		t.Errorf("len = %d, want default 50", len(events))
	}

	events, _ = reports.RecentEvents(ctx, "u1", 1000)
	if len(events) != 50 {
		t.Errorf("len = %d, want clamp to 50 for out-of-range limit", len(events))
	}
}
