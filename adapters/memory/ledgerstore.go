package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quotagate/quotagate/domain/usage"
	"github.com/quotagate/quotagate/ports"
)

// LedgerStore is an in-memory implementation of ports.LedgerStore and
// ports.AggregateStore, used in tests and single-process dev mode.
type LedgerStore struct {
	mu     sync.RWMutex
	events []usage.Event
	daily  map[string][]usage.DailyStat // keyed by user ID
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		daily: make(map[string][]usage.DailyStat),
	}
}

// Append stores one consumption event.
func (s *LedgerStore) Append(ctx context.Context, e usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// CountRequests returns the number of events for a user in [start, end).
func (s *LedgerStore) CountRequests(ctx context.Context, userID string, start, end time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.events {
		if inWindow(e, userID, start, end) {
			count++
		}
	}
	return count, nil
}

// SumTokens returns tokens_in + tokens_out over [start, end).
func (s *LedgerStore) SumTokens(ctx context.Context, userID string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, e := range s.events {
		if inWindow(e, userID, start, end) {
			sum += e.TotalTokens()
		}
	}
	return sum, nil
}

// Summary returns aggregated usage for [start, end).
func (s *LedgerStore) Summary(ctx context.Context, userID string, start, end time.Time) (usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Event
	for _, e := range s.events {
		if inWindow(e, userID, start, end) {
			matching = append(matching, e)
		}
	}

	summary := usage.Aggregate(matching, start, end)
	summary.UserID = userID
	return summary, nil
}

// RecentEvents returns the newest events for a user, newest first.
func (s *LedgerStore) RecentEvents(ctx context.Context, userID string, limit int) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matching []usage.Event
	for _, e := range s.events {
		if e.UserID == userID {
			matching = append(matching, e)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		return matching[i].CreatedAt.After(matching[j].CreatedAt)
	})
	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

// RollupDay aggregates one UTC day of events into the daily stats.
func (s *LedgerStore) RollupDay(ctx context.Context, day time.Time) (int64, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.AddDate(0, 0, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := make(map[string][]usage.Event)
	for _, e := range s.events {
		if !e.CreatedAt.Before(dayStart) && e.CreatedAt.Before(dayEnd) {
			byUser[e.UserID] = append(byUser[e.UserID], e)
		}
	}

	var rows int64
	for userID, events := range byUser {
		stats := usage.AggregateDaily(events)
		for _, stat := range stats {
			s.replaceDailyLocked(userID, stat)
			rows++
		}
	}
	return rows, nil
}

func (s *LedgerStore) replaceDailyLocked(userID string, stat usage.DailyStat) {
	existing := s.daily[userID]
	for i, d := range existing {
		if d.Day.Equal(stat.Day) {
			existing[i] = stat
			return
		}
	}
	s.daily[userID] = append(existing, stat)
}

// ListDaily returns up to days of per-day stats for a user, oldest first.
func (s *LedgerStore) ListDaily(ctx context.Context, userID string, days int) ([]usage.DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make([]usage.DailyStat, len(s.daily[userID]))
	copy(stats, s.daily[userID])
	sort.Slice(stats, func(i, j int) bool { return stats[i].Day.Before(stats[j].Day) })
	if days > 0 && len(stats) > days {
		stats = stats[len(stats)-days:]
	}
	return stats, nil
}

// Clear removes all state (for testing).
func (s *LedgerStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.daily = make(map[string][]usage.DailyStat)
}

func inWindow(e usage.Event, userID string, start, end time.Time) bool {
	return e.UserID == userID && !e.CreatedAt.Before(start) && e.CreatedAt.Before(end)
}

// Ensure interface compliance.
var (
	_ ports.LedgerStore    = (*LedgerStore)(nil)
	_ ports.AggregateStore = (*LedgerStore)(nil)
)
