package retention

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SessionJanitor drops inactive sessions; the session registry
// implements it.
type SessionJanitor interface {
	CleanupInactive(ctx context.Context) int
}

// Jobs schedules the maintenance work: cache cleanup every night,
// retention sweep on Sunday nights, session cleanup hourly.
type Jobs struct {
	cron    *cron.Cron
	sweeper *Sweeper
	janitor SessionJanitor
}

func NewJobs(sweeper *Sweeper, janitor SessionJanitor) *Jobs {
	return &Jobs{cron: cron.New(), sweeper: sweeper, janitor: janitor}
}

func (j *Jobs) Start() error {
	if _, err := j.cron.AddFunc("0 2 * * *", func() { j.RunCacheCleanup() }); err != nil {
		return err
	}
	if _, err := j.cron.AddFunc("0 3 * * 0", func() { j.RunRetentionSweep() }); err != nil {
		return err
	}
	if j.janitor != nil {
		if _, err := j.cron.AddFunc("@hourly", func() {
			ctx, cancel := jobContext()
			defer cancel()
			j.janitor.CleanupInactive(ctx)
		}); err != nil {
			return err
		}
	}
	j.cron.Start()
	log.Info().Msg("maintenance jobs scheduled")
	return nil
}

func (j *Jobs) Stop() {
	j.cron.Stop()
}

// RunCacheCleanup is the nightly job; also callable on demand.
func (j *Jobs) RunCacheCleanup() {
	ctx, cancel := jobContext()
	defer cancel()
	if _, err := j.sweeper.CleanExpiredCache(ctx); err != nil {
		log.Error().Err(err).Msg("cache cleanup failed")
	}
}

// RunRetentionSweep is the weekly job; also callable on demand.
func (j *Jobs) RunRetentionSweep() {
	ctx, cancel := jobContext()
	defer cancel()
	if _, err := j.sweeper.CleanOldMessages(ctx); err != nil {
		log.Error().Err(err).Msg("retention sweep failed")
	}
}

func jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Minute)
}
