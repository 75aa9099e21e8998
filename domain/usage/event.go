// Package usage provides consumption event types and aggregation functions.
// All functions are pure - no side effects.
package usage

import (
	"errors"
	"time"
)

// Event represents one completed gated operation (immutable ledger row).
// Written exactly once by the recorder; never mutated, never deleted in the
// hot path.
type Event struct {
	ID        string
	UserID    string
	Feature   string // Free-form tag, e.g. "idea_generation", "story_writing"
	Provider  string // Upstream LLM provider, e.g. "anthropic"
	Model     string
	TokensIn  int64
	TokensOut int64
	LatencyMs int64
	CostUSD   float64
	CreatedAt time.Time // UTC
}

// TotalTokens returns the tokens charged against the daily token window.
func (e Event) TotalTokens() int64 {
	return e.TokensIn + e.TokensOut
}

// Record is the caller-supplied input for one consumption event.
type Record struct {
	UserID    string
	Feature   string
	Provider  string
	Model     string
	TokensIn  int64
	TokensOut int64
	LatencyMs int64
	CostUSD   float64
}

// Validation errors.
var (
	ErrMissingUser    = errors.New("usage: user id required")
	ErrMissingFeature = errors.New("usage: feature required")
	ErrNegativeValue  = errors.New("usage: counts and cost must be non-negative")
)

// Validate checks a record before it is written to the ledger.
func (r Record) Validate() error {
	if r.UserID == "" {
		return ErrMissingUser
	}
	if r.Feature == "" {
		return ErrMissingFeature
	}
	if r.TokensIn < 0 || r.TokensOut < 0 || r.LatencyMs < 0 || r.CostUSD < 0 {
		return ErrNegativeValue
	}
	return nil
}

// NewEvent builds an immutable event from a record.
// This is a PURE function - ID and timestamp are injected by the caller.
func NewEvent(id string, r Record, at time.Time) Event {
	return Event{
		ID:        id,
		UserID:    r.UserID,
		Feature:   r.Feature,
		Provider:  r.Provider,
		Model:     r.Model,
		TokensIn:  r.TokensIn,
		TokensOut: r.TokensOut,
		LatencyMs: r.LatencyMs,
		CostUSD:   r.CostUSD,
		CreatedAt: at.UTC(),
	}
}

// DailyStat is a per-(user, UTC day) rollup of ledger events (value type).
type DailyStat struct {
	UserID    string
	Day       time.Time // UTC midnight
	Requests  int64
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}
