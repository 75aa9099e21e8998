package usage

import (
	"sort"
	"time"
)

// Breakdown is a per-key slice of a summary (value type).
type Breakdown struct {
	Requests int64
	Tokens   int64
	CostUSD  float64
}

// Summary represents aggregated usage for a period (value type).
type Summary struct {
	UserID       string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	RequestCount int64
	TokensIn     int64
	TokensOut    int64
	CostUSD      float64
	AvgLatencyMs int64
	ByFeature    map[string]Breakdown
	ByProvider   map[string]Breakdown
}

// TotalTokens returns the tokens consumed over the period.
func (s Summary) TotalTokens() int64 {
	return s.TokensIn + s.TokensOut
}

// Aggregate combines events into a summary.
// This is a PURE function.
func Aggregate(events []Event, periodStart, periodEnd time.Time) Summary {
	summary := Summary{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		ByFeature:   make(map[string]Breakdown),
		ByProvider:  make(map[string]Breakdown),
	}
	if len(events) == 0 {
		return summary
	}

	var totalLatency int64
	for _, e := range events {
		if summary.UserID == "" {
			summary.UserID = e.UserID
		}

		summary.RequestCount++
		summary.TokensIn += e.TokensIn
		summary.TokensOut += e.TokensOut
		summary.CostUSD += e.CostUSD
		totalLatency += e.LatencyMs

		f := summary.ByFeature[e.Feature]
		f.Requests++
		f.Tokens += e.TotalTokens()
		f.CostUSD += e.CostUSD
		summary.ByFeature[e.Feature] = f

		if e.Provider != "" {
			p := summary.ByProvider[e.Provider]
			p.Requests++
			p.Tokens += e.TotalTokens()
			p.CostUSD += e.CostUSD
			summary.ByProvider[e.Provider] = p
		}
	}

	summary.AvgLatencyMs = totalLatency / summary.RequestCount
	return summary
}

// AggregateDaily groups events into per-UTC-day stats, oldest first.
// This is a PURE function.
func AggregateDaily(events []Event) []DailyStat {
	byDay := make(map[time.Time]DailyStat)
	for _, e := range events {
		t := e.CreatedAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

		stat := byDay[day]
		stat.UserID = e.UserID
		stat.Day = day
		stat.Requests++
		stat.TokensIn += e.TokensIn
		stat.TokensOut += e.TokensOut
		stat.CostUSD += e.CostUSD
		byDay[day] = stat
	}

	out := make([]DailyStat, 0, len(byDay))
	for _, stat := range byDay {
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out
}
