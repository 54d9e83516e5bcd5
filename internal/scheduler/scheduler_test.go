package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/scheduler"
	"github.com/septivank/usage-rollup-worker/tools/timeparser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var runTime = timeparser.TimeOfDay{Hour: 10, Minute: 58, Second: 30}

func dailyConfig() scheduler.DailyConfig {
	return scheduler.DailyConfig{
		RunTime:      runTime,
		Location:     time.UTC,
		PollInterval: 250 * time.Millisecond,
		FailurePause: time.Second,
	}
}

type fixedHistory struct {
	date time.Time
	ok   bool
	err  error
}

func (h fixedHistory) Record(context.Context, db.RunRecord) error { return nil }

func (h fixedHistory) LastExecutionDate(context.Context) (time.Time, bool, error) {
	return h.date, h.ok, h.err
}

func countingJob(calls *atomic.Int32) scheduler.Job {
	return func(context.Context, time.Time) error {
		calls.Add(1)
		return nil
	}
}

func TestDaily_WaitsForRunTime(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC))

	var calls atomic.Int32
	d := scheduler.NewDaily(dailyConfig(), countingJob(&calls), nil, clock, zap.NewNop())
	require.Equal(t, time.Date(2025, 3, 6, 10, 58, 30, 0, time.UTC), d.NextRun())

	require.False(t, d.Tick(ctx))
	clock.Set(time.Date(2025, 3, 6, 10, 58, 29, 0, time.UTC))
	require.False(t, d.Tick(ctx))
	require.Zero(t, calls.Load())

	clock.Set(time.Date(2025, 3, 6, 10, 58, 30, 0, time.UTC))
	require.True(t, d.Tick(ctx))
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, time.Date(2025, 3, 7, 10, 58, 30, 0, time.UTC), d.NextRun())

	date, ok := d.LastExecutionDate()
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), date)
}

func TestDaily_OncePerDate(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 6, 10, 58, 30, 0, time.UTC))

	var calls atomic.Int32
	d := scheduler.NewDaily(dailyConfig(), countingJob(&calls), nil, clock, zap.NewNop())

	require.True(t, d.Tick(ctx))
	clock.Set(time.Date(2025, 3, 6, 23, 59, 59, 0, time.UTC))
	require.False(t, d.Tick(ctx))
	require.EqualValues(t, 1, calls.Load())

	clock.Set(time.Date(2025, 3, 7, 10, 58, 30, 0, time.UTC))
	require.True(t, d.Tick(ctx))
	require.EqualValues(t, 2, calls.Load())
}

func TestDaily_StartedAfterRunTimeRunsImmediately(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 6, 15, 0, 0, 0, time.UTC))

	var calls atomic.Int32
	d := scheduler.NewDaily(dailyConfig(), countingJob(&calls), nil, clock, zap.NewNop())

	require.True(t, d.Tick(ctx))
	require.Equal(t, time.Date(2025, 3, 7, 10, 58, 30, 0, time.UTC), d.NextRun())
}

func TestDaily_SeededDateIsNotRunAgain(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 6, 15, 0, 0, 0, time.UTC))

	var calls atomic.Int32
	history := fixedHistory{date: time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), ok: true}
	d := scheduler.NewDaily(dailyConfig(), countingJob(&calls), history, clock, zap.NewNop())
	require.NoError(t, d.Seed(ctx))

	require.False(t, d.Tick(ctx))
	require.Zero(t, calls.Load())
	require.Equal(t, time.Date(2025, 3, 7, 10, 58, 30, 0, time.UTC), d.NextRun())

	clock.Set(time.Date(2025, 3, 7, 10, 58, 30, 0, time.UTC))
	require.True(t, d.Tick(ctx))
	require.EqualValues(t, 1, calls.Load())
}

func TestDaily_SeedError(t *testing.T) {
	clock := quartz.NewMock(t)
	history := fixedHistory{err: errors.New("connection refused")}
	d := scheduler.NewDaily(dailyConfig(), countingJob(new(atomic.Int32)), history, clock, zap.NewNop())
	require.Error(t, d.Seed(context.Background()))
}

func TestDaily_FailureIsRetriedAfterPause(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	clock := quartz.NewMock(t)
	start := time.Date(2025, 3, 6, 10, 58, 30, 0, time.UTC)
	clock.Set(start)

	var calls atomic.Int32
	job := func(context.Context, time.Time) error {
		if calls.Add(1) == 1 {
			return errors.New("snapshot unavailable")
		}
		return nil
	}
	d := scheduler.NewDaily(dailyConfig(), job, nil, clock, zap.New(core))

	require.True(t, d.Tick(ctx))
	require.Equal(t, 1, logs.FilterMessage("daily cycle failed").Len())
	_, executed := d.LastExecutionDate()
	require.False(t, executed)
	require.Equal(t, start, d.NextRun())

	// still paused
	clock.Set(start.Add(500 * time.Millisecond))
	require.False(t, d.Tick(ctx))

	clock.Set(start.Add(time.Second))
	require.True(t, d.Tick(ctx))
	require.EqualValues(t, 2, calls.Load())
	_, executed = d.LastExecutionDate()
	require.True(t, executed)
}

func TestDaily_HonorsLocation(t *testing.T) {
	ctx := context.Background()
	manila := time.FixedZone("PHT", 8*60*60)
	clock := quartz.NewMock(t)
	// 02:58:30 UTC is 10:58:30 in Manila
	clock.Set(time.Date(2025, 3, 6, 2, 58, 30, 0, time.UTC))

	cfg := dailyConfig()
	cfg.Location = manila
	var got time.Time
	d := scheduler.NewDaily(cfg, func(_ context.Context, now time.Time) error {
		got = now
		return nil
	}, nil, clock, zap.NewNop())

	require.True(t, d.Tick(ctx))
	require.Equal(t, manila, got.Location())
	require.Equal(t, 6, got.Day())
}

func TestDaily_RunPollsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 6, 10, 58, 0, 0, time.UTC))

	var calls atomic.Int32
	d := scheduler.NewDaily(dailyConfig(), countingJob(&calls), nil, clock, zap.NewNop())

	trap := clock.Trap().NewTicker("scheduler", "daily")
	defer trap.Close()

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(runCtx)
	}()
	call := trap.MustWait(ctx)
	call.MustRelease(ctx)

	for i := 0; i < 130; i++ {
		clock.Advance(250 * time.Millisecond).MustWait(ctx)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	stop()
	<-done
	require.EqualValues(t, 1, calls.Load())
}
