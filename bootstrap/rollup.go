package bootstrap

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quotagate/quotagate/domain/quota"
	"github.com/quotagate/quotagate/ports"
)

// RollupJob folds the previous day's ledger rows into the daily aggregates
// table on a cron schedule. Rollup is idempotent, so a missed or repeated
// run only rewrites the same aggregate rows.
type RollupJob struct {
	aggregates ports.AggregateStore
	clock      ports.Clock
	logger     zerolog.Logger
	schedule   string
	cron       *cron.Cron
}

// NewRollupJob creates a rollup job with the given cron schedule (UTC).
func NewRollupJob(aggregates ports.AggregateStore, clk ports.Clock, logger zerolog.Logger, schedule string) *RollupJob {
	return &RollupJob{
		aggregates: aggregates,
		clock:      clk,
		logger:     logger.With().Str("component", "rollup").Logger(),
		schedule:   schedule,
		cron:       cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start schedules the job. An invalid schedule is logged and the job stays
// idle; closed days can still be rolled up via the CLI.
func (j *RollupJob) Start() {
	_, err := j.cron.AddFunc(j.schedule, j.run)
	if err != nil {
		j.logger.Error().Err(err).Str("schedule", j.schedule).Msg("invalid rollup schedule, job disabled")
		return
	}
	j.cron.Start()
	j.logger.Info().Str("schedule", j.schedule).Msg("rollup job scheduled")
}

// Stop stops the scheduler and waits for a running rollup to finish.
func (j *RollupJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *RollupJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	yesterday := quota.DayStart(j.clock.Now()).AddDate(0, 0, -1)
	if err := j.RollupDay(ctx, yesterday); err != nil {
		j.logger.Error().Err(err).Time("day", yesterday).Msg("rollup failed")
	}
}

// RollupDay aggregates one closed day. Exposed for the CLI.
func (j *RollupJob) RollupDay(ctx context.Context, day time.Time) error {
	start := time.Now()
	n, err := j.aggregates.RollupDay(ctx, day)
	if err != nil {
		return err
	}
	j.logger.Info().
		Time("day", day).
		Int64("rows", n).
		Dur("took", time.Since(start)).
		Msg("daily rollup complete")
	return nil
}
