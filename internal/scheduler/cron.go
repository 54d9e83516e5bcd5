package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// IntervalJob is a job run on a cron schedule. An empty Spec disables it.
type IntervalJob struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Cron runs interval jobs. Specs accept an optional seconds field and
// descriptors such as "@every 20s".
type Cron struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewCron registers jobs on a cron runner in loc
func NewCron(loc *time.Location, logger *zap.Logger, jobs ...IntervalJob) (*Cron, error) {
	if loc == nil {
		loc = time.Local
	}
	logger = logger.With(zap.String("scheduler", "cron"))
	cronLogger := zapCronLogger{logger: logger}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(cron.NewParser(
			cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	runner := &Cron{cron: c, ctx: ctx, cancel: cancel, logger: logger}

	for _, job := range jobs {
		if job.Spec == "" {
			logger.Info("interval job disabled", zap.String("job", job.Name))
			continue
		}
		if _, err := c.AddFunc(job.Spec, runner.wrap(job)); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", job.Spec, job.Name, err)
		}
		logger.Info("interval job scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	}

	return runner, nil
}

func (c *Cron) wrap(job IntervalJob) func() {
	return func() {
		if err := job.Run(c.ctx); err != nil {
			c.logger.Error("interval job failed", zap.String("job", job.Name), zap.Error(err))
		}
	}
}

// Jobs returns the number of scheduled jobs
func (c *Cron) Jobs() int {
	return len(c.cron.Entries())
}

// Start begins running jobs in the background
func (c *Cron) Start() {
	c.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx expires
func (c *Cron) Stop(ctx context.Context) error {
	c.cancel()
	select {
	case <-c.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("interval jobs did not finish: %w", ctx.Err())
	}
}

// zapCronLogger adapts zap to cron.Logger
type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
