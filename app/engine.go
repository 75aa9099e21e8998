// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate/adapters/metrics"
	"github.com/quotagate/quotagate/domain/bucket"
	"github.com/quotagate/quotagate/domain/policy"
	"github.com/quotagate/quotagate/domain/quota"
	"github.com/quotagate/quotagate/ports"
)

// QuotaUnavailableError signals that a backend needed for an admission
// decision was unreachable or timed out. The engine never silently admits
// unlimited traffic; whether to fail open or closed is the calling layer's
// configured policy.
type QuotaUnavailableError struct {
	Backend string
	Cause   error
}

func (e *QuotaUnavailableError) Error() string {
	return fmt.Sprintf("quota unavailable: %s: %v", e.Backend, e.Cause)
}

func (e *QuotaUnavailableError) Unwrap() error {
	return e.Cause
}

// Engine is the quota decision service. It combines the fast admission
// cache (minute gate) with authoritative ledger scans (daily windows).
type Engine struct {
	buckets ports.BucketStore
	ledger  ports.LedgerStore
	clock   ports.Clock
	logger  zerolog.Logger
	metrics *metrics.Collector

	checkTimeout time.Duration

	// Policy table is hot-reloadable.
	policies atomic.Pointer[policy.Table]
}

// EngineDeps contains dependencies for the engine.
type EngineDeps struct {
	Buckets ports.BucketStore
	Ledger  ports.LedgerStore
	Clock   ports.Clock
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// EngineConfig contains configuration for the engine.
type EngineConfig struct {
	Policies     policy.Table
	CheckTimeout time.Duration // bound on ledger scans per check (default: 2s)
}

// NewEngine creates a new quota engine.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}

	e := &Engine{
		buckets:      deps.Buckets,
		ledger:       deps.Ledger,
		clock:        deps.Clock,
		logger:       deps.Logger.With().Str("component", "quota_engine").Logger(),
		metrics:      deps.Metrics,
		checkTimeout: cfg.CheckTimeout,
	}
	e.UpdatePolicies(cfg.Policies)
	return e
}

// UpdatePolicies swaps the policy table. Thread-safe; can be called while
// handling requests (used by config hot reload).
func (e *Engine) UpdatePolicies(t policy.Table) {
	e.policies.Store(&t)
}

// Policies returns the current policy table.
func (e *Engine) Policies() policy.Table {
	return *e.policies.Load()
}

// Admit decides whether a gated operation may run.
//
// The minute gate consumes a bucket token even when a daily window denies
// the request: the bucket approximates request arrival, and a denied call
// is still an arrival. Daily windows are read fresh from the ledger on
// every call. All violated windows are reported, not just the first.
func (e *Engine) Admit(ctx context.Context, userID string, tier policy.Tier, routeKey string, estimatedTokens int64) (quota.Decision, error) {
	now := e.clock.Now()
	pol := e.Policies().LimitsFor(tier)

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.CheckDuration.Observe(time.Since(start).Seconds())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	snap, err := e.snapshot(ctx, userID, routeKey, pol, now)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CheckFailures.Inc()
		}
		e.logger.Error().Err(err).
			Str("user_id", userID).
			Str("route", routeKey).
			Msg("admission check failed, ledger unavailable")
		return quota.Decision{}, err
	}

	decision := quota.Evaluate(snap, pol, estimatedTokens, now)
	e.observe(decision, tier)

	if !decision.Allowed {
		e.logger.Debug().
			Str("user_id", userID).
			Str("route", routeKey).
			Str("tier", string(tier)).
			Interface("exceeded", decision.Exceeded).
			Msg("admission denied")
	}
	return decision, nil
}

// snapshot gathers the per-window usage figures for one admission check.
func (e *Engine) snapshot(ctx context.Context, userID, routeKey string, pol policy.Policy, now time.Time) (quota.Snapshot, error) {
	take, err := e.buckets.Take(ctx, userID+":"+routeKey, bucket.ForRate(pol.RequestsPerMinute), now)
	if err != nil {
		// Only reachable with a bare store wired without the failover
		// wrapper. The minute gate alone must not block traffic; the
		// daily ledger checks below still bound admission.
		e.logger.Warn().Err(err).Str("user_id", userID).Msg("bucket store error, skipping minute gate")
		take.Allowed = true
	}

	dayStart := quota.DayStart(now)
	requestsToday, err := e.ledger.CountRequests(ctx, userID, dayStart, now)
	if err != nil {
		return quota.Snapshot{}, &QuotaUnavailableError{Backend: "ledger", Cause: err}
	}
	tokensToday, err := e.ledger.SumTokens(ctx, userID, dayStart, now)
	if err != nil {
		return quota.Snapshot{}, &QuotaUnavailableError{Backend: "ledger", Cause: err}
	}

	return quota.Snapshot{
		MinuteAllowed:   take.Allowed,
		MinuteRemaining: int(take.Remaining),
		RequestsToday:   requestsToday,
		TokensToday:     tokensToday,
	}, nil
}

func (e *Engine) observe(d quota.Decision, tier policy.Tier) {
	if e.metrics == nil {
		return
	}
	outcome := "allow"
	if !d.Allowed {
		outcome = "deny"
	}
	e.metrics.AdmissionsTotal.WithLabelValues(string(tier), outcome).Inc()
	for _, w := range d.Exceeded {
		e.metrics.DenialsTotal.WithLabelValues(string(w)).Inc()
	}
}

// TierInfo is the read-only reporting view of a user's quota position.
type TierInfo struct {
	Tier    policy.Tier
	Limits  policy.Policy
	Current CurrentUsage
	Remain  quota.Remaining
	ResetAt quota.ResetTimes
}

// CurrentUsage holds a user's live consumption figures.
type CurrentUsage struct {
	RequestsToday      int
	RequestsThisMinute int
	TokensToday        int64
}

// TierInfo reports a user's limits, current usage, and remaining quota.
// All figures come from the authoritative ledger, including the minute
// count (the bucket is an approximation, not a source of record).
func (e *Engine) TierInfo(ctx context.Context, userID string, tier policy.Tier) (TierInfo, error) {
	now := e.clock.Now()
	pol := e.Policies().LimitsFor(tier)

	ctx, cancel := context.WithTimeout(ctx, e.checkTimeout)
	defer cancel()

	dayStart := quota.DayStart(now)
	minuteStart := quota.MinuteStart(now)

	requestsToday, err := e.ledger.CountRequests(ctx, userID, dayStart, now)
	if err != nil {
		return TierInfo{}, &QuotaUnavailableError{Backend: "ledger", Cause: err}
	}
	requestsThisMinute, err := e.ledger.CountRequests(ctx, userID, minuteStart, now)
	if err != nil {
		return TierInfo{}, &QuotaUnavailableError{Backend: "ledger", Cause: err}
	}
	tokensToday, err := e.ledger.SumTokens(ctx, userID, dayStart, now)
	if err != nil {
		return TierInfo{}, &QuotaUnavailableError{Backend: "ledger", Cause: err}
	}

	return TierInfo{
		Tier:   tier,
		Limits: pol,
		Current: CurrentUsage{
			RequestsToday:      requestsToday,
			RequestsThisMinute: requestsThisMinute,
			TokensToday:        tokensToday,
		},
		Remain: quota.Remaining{
			RequestsThisMinute: maxInt(0, pol.RequestsPerMinute-requestsThisMinute),
			RequestsToday:      maxInt(0, pol.RequestsPerDay-requestsToday),
			TokensToday:        maxInt64(0, pol.TokensPerDay-tokensToday),
		},
		ResetAt: quota.ResetTimes{
			Minute: quota.NextMinuteStart(now),
			Day:    quota.NextDayStart(now),
		},
	}, nil
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
