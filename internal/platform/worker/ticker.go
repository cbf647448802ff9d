// Package worker runs periodic background jobs inside the server process.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Ticker invokes a Job on a fixed interval. Runs are sequential: a slow run
// delays the next tick rather than overlapping it.
type Ticker struct {
	name     string
	interval time.Duration
	job      Job
	logger   zerolog.Logger
	// RunOnStart triggers one run immediately instead of waiting a full interval.
	RunOnStart bool
}

// NewTicker creates a Ticker.
func NewTicker(name string, interval time.Duration, job Job, logger zerolog.Logger) *Ticker {
	return &Ticker{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger.With().Str("job", name).Logger(),
	}
}

// Start blocks until ctx is cancelled.
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("background job started")
	if t.RunOnStart {
		t.runOnce(ctx)
	}
	for {
		select {
		case <-ticker.C:
			t.runOnce(ctx)
		case <-ctx.Done():
			t.logger.Info().Msg("background job stopped")
			return
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Msg("background job panicked")
		}
	}()
	start := time.Now()
	if err := t.job(ctx); err != nil {
		t.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("background job failed")
		return
	}
	t.logger.Debug().Dur("elapsed", time.Since(start)).Msg("background job finished")
}
