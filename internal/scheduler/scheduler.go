// Package scheduler runs the daily rollup once per calendar date at a fixed
// time of day, and the interval jobs on cron schedules.
package scheduler

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/septivank/usage-rollup-worker/internal/repository"
	"github.com/septivank/usage-rollup-worker/tools/timeparser"
)

// Job is one daily cycle. An error means the cycle did not execute and is
// retried after the failure pause.
type Job func(ctx context.Context, now time.Time) error

// DailyConfig holds the daily scheduler settings
type DailyConfig struct {
	RunTime      timeparser.TimeOfDay
	Location     *time.Location
	PollInterval time.Duration
	FailurePause time.Duration
}

// Daily triggers a job when the wall clock reaches the run time, at most
// once per calendar date.
//
// Daily is not safe for concurrent use; Run and Tick must be driven from a
// single goroutine.
type Daily struct {
	cfg     DailyConfig
	job     Job
	history repository.History
	clock   quartz.Clock
	logger  *zap.Logger

	nextRun       time.Time
	lastExecution time.Time
	executed      bool
	pauseUntil    time.Time
}

// NewDaily creates a scheduler waiting for today's run time
func NewDaily(cfg DailyConfig, job Job, history repository.History, clock quartz.Clock, logger *zap.Logger) *Daily {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if history == nil {
		history = repository.NopHistory{}
	}
	d := &Daily{
		cfg:     cfg,
		job:     job,
		history: history,
		clock:   clock,
		logger:  logger.With(zap.String("scheduler", "daily")),
	}
	d.nextRun = cfg.RunTime.On(d.now())
	return d
}

func (d *Daily) now() time.Time {
	return d.clock.Now().In(d.cfg.Location)
}

// NextRun returns the next instant the job becomes due
func (d *Daily) NextRun() time.Time {
	return d.nextRun
}

// LastExecutionDate returns the date of the latest executed cycle
func (d *Daily) LastExecutionDate() (time.Time, bool) {
	return d.lastExecution, d.executed
}

// Seed restores the last execution date from the run history so a restart
// on an executed day does not run the cycle again
func (d *Daily) Seed(ctx context.Context) error {
	date, ok, err := d.history.LastExecutionDate(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	y, m, day := date.Date()
	d.lastExecution = time.Date(y, m, day, 0, 0, 0, 0, d.cfg.Location)
	d.executed = true
	d.logger.Info("restored last execution date", zap.String("date", d.lastExecution.Format("2006-01-02")))
	return nil
}

// Tick checks the clock once and runs the job if it is due. It reports
// whether the job was run.
func (d *Daily) Tick(ctx context.Context) bool {
	now := d.now()
	if now.Before(d.nextRun) || now.Before(d.pauseUntil) {
		return false
	}

	if d.executed && timeparser.SameDate(d.lastExecution, now) {
		d.advance(now)
		return false
	}

	d.logger.Info("running daily cycle", zap.Time("scheduled_for", d.nextRun))
	if err := d.job(ctx, now); err != nil {
		d.logger.Error("daily cycle failed",
			zap.Error(err),
			zap.Duration("retry_in", d.cfg.FailurePause),
		)
		d.pauseUntil = now.Add(d.cfg.FailurePause)
		return true
	}

	d.lastExecution = timeparser.DateOf(now)
	d.executed = true
	d.advance(now)
	return true
}

// advance moves nextRun to the first run time after now's date
func (d *Daily) advance(now time.Time) {
	for !d.nextRun.After(now) || timeparser.SameDate(d.nextRun, now) {
		d.nextRun = d.cfg.RunTime.On(d.nextRun.AddDate(0, 0, 1))
	}
	d.logger.Debug("next daily cycle scheduled", zap.Time("next_run", d.nextRun))
}

// Run polls the clock until ctx is cancelled
func (d *Daily) Run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.cfg.PollInterval, "scheduler", "daily")
	defer ticker.Stop()

	d.logger.Info("daily scheduler started",
		zap.String("run_time", d.cfg.RunTime.String()),
		zap.Time("next_run", d.nextRun),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daily scheduler stopped")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}
