package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate/adapters/metrics"
	"github.com/quotagate/quotagate/domain/usage"
	"github.com/quotagate/quotagate/ports"
)

// StorageError signals that a consumption event could not be committed to
// the ledger after retries. Recording failures are non-fatal to the
// already-completed gated operation: the caller logs and moves on, and the
// system under-counts rather than blocking legitimate users.
type StorageError struct {
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %v", e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Recorder appends consumption events to the ledger.
//
// Writes are synchronous: a successful Record is immediately visible to the
// next window scan (read-your-own-writes), which the daily limits depend on.
type Recorder struct {
	ledger  ports.LedgerStore
	clock   ports.Clock
	idGen   ports.IDGenerator
	logger  zerolog.Logger
	metrics *metrics.Collector

	retries int
	backoff time.Duration
	timeout time.Duration
}

// RecorderDeps contains dependencies for the recorder.
type RecorderDeps struct {
	Ledger  ports.LedgerStore
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Logger  zerolog.Logger
	Metrics *metrics.Collector // optional
}

// RecorderConfig contains configuration for the recorder.
type RecorderConfig struct {
	Retries int           // write attempts before giving up (default: 3)
	Backoff time.Duration // base delay between attempts (default: 50ms)
	Timeout time.Duration // bound per attempt (default: 5s)
}

// NewRecorder creates a new usage recorder.
func NewRecorder(deps RecorderDeps, cfg RecorderConfig) *Recorder {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 50 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Recorder{
		ledger:  deps.Ledger,
		clock:   deps.Clock,
		idGen:   deps.IDGen,
		logger:  deps.Logger.With().Str("component", "usage_recorder").Logger(),
		metrics: deps.Metrics,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		timeout: cfg.Timeout,
	}
}

// Record appends one consumption event for a completed gated operation.
// Consumption is charged on actual token counts, not the pre-admission
// estimate; the ledger stays the source of truth for later decisions.
// Returns *StorageError if the write cannot be committed after retries.
func (r *Recorder) Record(ctx context.Context, rec usage.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	event := usage.NewEvent(r.idGen.New(), rec, r.clock.Now())

	var lastErr error
retry:
	for attempt := 0; attempt < r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		lastErr = r.ledger.Append(attemptCtx, event)
		cancel()

		if lastErr == nil {
			if r.metrics != nil {
				r.metrics.RecordsTotal.Inc()
				r.metrics.TokensRecorded.WithLabelValues(event.Feature).Add(float64(event.TotalTokens()))
			}
			return nil
		}
	}

	if r.metrics != nil {
		r.metrics.RecordFailures.Inc()
	}
	r.logger.Error().Err(lastErr).
		Str("user_id", rec.UserID).
		Str("feature", rec.Feature).
		Str("provider", rec.Provider).
		Int("attempts", r.retries).
		Msg("failed to record usage, event dropped")

	return &StorageError{Cause: lastErr}
}
