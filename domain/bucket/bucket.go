// Package bucket provides the pure token bucket algorithm.
// All functions are deterministic - same input always produces same output.
package bucket

import (
	"math"
	"time"
)

// Config holds token bucket parameters (value type).
type Config struct {
	Capacity     float64 // Maximum tokens the bucket holds
	RefillPerSec float64 // Tokens added per second of elapsed time
}

// ForRate returns a config for a requests-per-minute limit: capacity equals
// the limit, refilled continuously over the minute.
func ForRate(requestsPerMinute int) Config {
	return Config{
		Capacity:     float64(requestsPerMinute),
		RefillPerSec: float64(requestsPerMinute) / 60.0,
	}
}

// State represents one bucket's counters (value type).
// A zero State means "never seen": it initializes to full capacity, which is
// why expiring idle buckets is safe.
type State struct {
	Tokens     float64   // Tokens remaining, 0 <= Tokens <= Capacity
	LastRefill time.Time // Wall-clock time of the last observed state
}

// TakeResult represents the outcome of a bucket check (value type).
type TakeResult struct {
	Allowed    bool
	Remaining  float64       // Tokens left after this check
	RetryAfter time.Duration // If denied, time until one token is available
}

// Refill advances the bucket to now, adding elapsed_seconds * refill_rate
// tokens capped at capacity. Never lets tokens exceed capacity or go
// backward in time.
func Refill(state State, cfg Config, now time.Time) State {
	if state.LastRefill.IsZero() {
		return State{Tokens: cfg.Capacity, LastRefill: now}
	}

	elapsed := now.Sub(state.LastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	return State{
		Tokens:     math.Min(cfg.Capacity, state.Tokens+elapsed*cfg.RefillPerSec),
		LastRefill: now,
	}
}

// Take performs a refill-then-consume check. If at least one whole token is
// available it is consumed and the request admitted.
//
// Returns the result and the updated state (caller must persist atomically
// with the read for the check to be race-free).
func Take(state State, cfg Config, now time.Time) (TakeResult, State) {
	state = Refill(state, cfg, now)

	if state.Tokens >= 1.0 {
		state.Tokens -= 1.0
		return TakeResult{
			Allowed:   true,
			Remaining: state.Tokens,
		}, state
	}

	return TakeResult{
		Allowed:    false,
		Remaining:  state.Tokens,
		RetryAfter: timeToToken(state.Tokens, cfg),
	}, state
}

// timeToToken returns how long until the bucket refills to one whole token.
func timeToToken(tokens float64, cfg Config) time.Duration {
	if cfg.RefillPerSec <= 0 {
		return 0
	}
	deficit := 1.0 - tokens
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / cfg.RefillPerSec * float64(time.Second))
}
