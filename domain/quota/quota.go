// Package quota provides the pure admission decision procedure.
// All functions are deterministic with no side effects.
package quota

import (
	"time"

	"github.com/quotagate/quotagate/domain/policy"
)

// Window identifies a limit window.
type Window string

const (
	WindowMinute        Window = "minute"
	WindowDailyRequests Window = "daily_requests"
	WindowDailyTokens   Window = "daily_tokens"
)

// Snapshot holds the usage observed for one user at the moment of a check.
// The minute verdict comes from the fast admission cache; the daily figures
// come from the durable ledger.
type Snapshot struct {
	MinuteAllowed   bool // Token bucket verdict for this request
	MinuteRemaining int  // Whole tokens left in the bucket after the verdict
	RequestsToday   int
	TokensToday     int64
}

// Remaining holds per-window remaining quota (value type).
type Remaining struct {
	RequestsThisMinute int
	RequestsToday      int
	TokensToday        int64
}

// ResetTimes holds when each window rolls over (value type).
type ResetTimes struct {
	Minute time.Time
	Day    time.Time
}

// Decision is the outcome of an admission check (transient value type).
// Exceeded lists every violated window, not just the first.
type Decision struct {
	Allowed   bool
	Exceeded  []Window
	Remaining Remaining
	ResetAt   ResetTimes
}

// Evaluate combines the fast-path minute verdict and the ledger-derived
// daily figures into an admission decision. All three windows are checked
// and every violation reported.
// This is a PURE function.
func Evaluate(snap Snapshot, p policy.Policy, estimatedTokens int64, now time.Time) Decision {
	var exceeded []Window

	if !snap.MinuteAllowed {
		exceeded = append(exceeded, WindowMinute)
	}
	if snap.RequestsToday >= p.RequestsPerDay {
		exceeded = append(exceeded, WindowDailyRequests)
	}
	if snap.TokensToday+estimatedTokens > p.TokensPerDay {
		exceeded = append(exceeded, WindowDailyTokens)
	}

	return Decision{
		Allowed:  len(exceeded) == 0,
		Exceeded: exceeded,
		Remaining: Remaining{
			RequestsThisMinute: maxInt(0, snap.MinuteRemaining),
			RequestsToday:      maxInt(0, p.RequestsPerDay-snap.RequestsToday),
			TokensToday:        maxInt64(0, p.TokensPerDay-snap.TokensToday),
		},
		ResetAt: ResetTimes{
			Minute: NextMinuteStart(now),
			Day:    NextDayStart(now),
		},
	}
}

// RetryAfter returns how long a denied caller should wait before retrying:
// the time until the earliest violated window resets.
// This is a PURE function.
func RetryAfter(d Decision, now time.Time) time.Duration {
	if d.Allowed || len(d.Exceeded) == 0 {
		return 0
	}

	reset := d.ResetAt.Day
	for _, w := range d.Exceeded {
		if w == WindowMinute && d.ResetAt.Minute.Before(reset) {
			reset = d.ResetAt.Minute
		}
	}

	wait := reset.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// DayStart returns UTC midnight of the day containing t.
// Day boundaries are UTC for every user; no per-user timezone adjustment.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDayStart returns UTC midnight of the day after t.
func NextDayStart(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// MinuteStart returns the start of the minute containing t, in UTC.
func MinuteStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// NextMinuteStart returns the start of the minute after t, in UTC.
func NextMinuteStart(t time.Time) time.Time {
	return MinuteStart(t).Add(time.Minute)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
