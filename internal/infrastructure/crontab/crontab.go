package crontab

import (
	"context"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"github.com/closetspace/asset-api/internal/config"
	"github.com/closetspace/asset-api/internal/infrastructure/metrics"
	"github.com/closetspace/asset-api/internal/utils/platformerrors"
)

// Timeout for each sweep; a single UPDATE should never come close.
const jobTimeout = time.Minute

// Sweeper is the slice of the item repository the janitor needs.
type Sweeper interface {
	FailStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Crontab runs the background jobs of the asset service. Its one job today
// is the stale-processing sweep: a crashed pipeline invocation must never
// strand an item in processing forever.
type Crontab struct {
	ctab    *crontab.Crontab
	cfg     *config.Config
	sweeper Sweeper
	log     zerolog.Logger
}

func NewCrontab(cfg *config.Config, sweeper Sweeper, log zerolog.Logger) *Crontab {
	return &Crontab{
		ctab:    crontab.New(),
		cfg:     cfg,
		sweeper: sweeper,
		log:     log.With().Str("component", "janitor").Logger(),
	}
}

// Run schedules the jobs and blocks until the context is done.
func (c *Crontab) Run(ctx context.Context) error {
	if c.cfg.JanitorEnabled {
		// Sweep once on start so items stranded by the previous process
		// recover immediately.
		c.sweepStaleProcessing(ctx)

		if err := c.ctab.AddJob("* * * * *", func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			c.sweepStaleProcessing(jobCtx)
		}); err != nil {
			return platformerrors.AsError(ctx, platformerrors.LayerInfrastructure, err, "failed to schedule stale processing sweep")
		}
		c.log.Info().
			Dur("threshold", c.cfg.StaleProcessingAfter).
			Msg("stale processing sweep scheduled")
	} else {
		c.log.Info().Msg("janitor disabled")
	}

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

func (c *Crontab) sweepStaleProcessing(ctx context.Context) {
	swept, err := c.sweeper.FailStaleProcessing(ctx, c.cfg.StaleProcessingAfter)
	if err != nil {
		c.log.Error().Err(err).Msg("stale processing sweep failed")
		return
	}
	metrics.RecordStaleSweep(swept)
	if swept > 0 {
		c.log.Warn().
			Int64("items", swept).
			Msg("failed items stuck in processing beyond the threshold")
	}
}
