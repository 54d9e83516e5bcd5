package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/dispatch"
	"github.com/septivank/usage-rollup-worker/internal/logging"
	"github.com/septivank/usage-rollup-worker/internal/metrics"
	"github.com/septivank/usage-rollup-worker/internal/mq"
	"github.com/septivank/usage-rollup-worker/internal/repository"
	"github.com/septivank/usage-rollup-worker/internal/retry"
	"github.com/septivank/usage-rollup-worker/internal/rollup"
)

// JobDaily is the job label of the daily rollup
const JobDaily = "daily_rollup"

const finishTimeout = 10 * time.Second

// Collection labels used in metrics
const (
	collectionDevice = "device"
	collectionUser   = "user"
)

// Report summarizes one daily cycle
type Report struct {
	RunID   uuid.UUID
	RunDate time.Time
	Devices int
	Users   int
	Orphans int
	// Skipped counts devices and users left untouched for invalid history
	Skipped        int
	Rollovers      int
	DeviceFailures int
	UserFailures   int
	// Err combines the write failures of the cycle
	Err error
}

// Failures returns the number of failed writes
func (r Report) Failures() int {
	return r.DeviceFailures + r.UserFailures
}

// DailyService runs the daily aggregation and rollover cycle
type DailyService struct {
	store     repository.UsageStore
	retry     *retry.Policy
	pool      *dispatch.Pool
	history   repository.History
	publisher mq.EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDailyService creates a new daily rollup service
func NewDailyService(
	store repository.UsageStore,
	retryPolicy *retry.Policy,
	pool *dispatch.Pool,
	history repository.History,
	publisher mq.EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DailyService {
	return &DailyService{
		store:     store,
		retry:     retryPolicy,
		pool:      pool,
		history:   history,
		publisher: publisher,
		metrics:   m,
		logger:    logging.WithJob(logger, JobDaily),
	}
}

// Run executes one full fetch, compute and dispatch cycle for the calendar
// day of now. An error means the snapshot could not be read and nothing was
// written; write failures are reported in Report.Err and do not fail the
// cycle.
func (s *DailyService) Run(ctx context.Context, now time.Time) (Report, error) {
	report := Report{RunID: uuid.New(), RunDate: now}
	runLogger := logging.WithRunID(s.logger, report.RunID.String())
	runLogger.Info("starting daily update", zap.Time("now", now))

	devices, err := s.store.FetchDevices(ctx)
	if err != nil {
		s.fail(ctx, runLogger, report, now, err)
		return report, fmt.Errorf("failed to fetch devices: %w", err)
	}
	users, err := s.store.FetchUsers(ctx)
	if err != nil {
		s.fail(ctx, runLogger, report, now, err)
		return report, fmt.Errorf("failed to fetch users: %w", err)
	}

	cycle := rollup.Plan(devices, users, now)
	for _, orphan := range cycle.Orphans {
		runLogger.Warn("no user found for device",
			zap.String("device_id", orphan.ID),
			zap.String("owner_id", orphan.OwnerID),
		)
	}
	for _, device := range cycle.InvalidDevices {
		runLogger.Warn("skipping device with invalid history",
			zap.String("device_id", device.ID),
			zap.Error(device.SeriesErr),
		)
	}
	for _, user := range cycle.InvalidUsers {
		runLogger.Warn("skipping user with invalid history",
			zap.String("user_id", user.ID),
			zap.Error(user.SeriesErr),
		)
	}

	report.Devices = len(cycle.Devices)
	report.Users = len(cycle.Users)
	report.Orphans = len(cycle.Orphans)
	report.Skipped = len(cycle.InvalidDevices) + len(cycle.InvalidUsers)

	var deviceFailures, userFailures atomic.Int32
	tasks := make([]dispatch.Task, 0, len(cycle.Devices)+len(cycle.Users))
	for _, plan := range cycle.Devices {
		if plan.Rollover {
			report.Rollovers++
			runLogger.Info("processed monthly reset for device",
				zap.String("device_id", plan.DeviceID),
				zap.Float64("sum", plan.MonthContribution),
			)
		}
		tasks = append(tasks, dispatch.Task{
			Name: "device/" + plan.DeviceID,
			Run: func(ctx context.Context) error {
				err := s.retry.Do(ctx, "update_device", func(ctx context.Context) error {
					return s.store.UpdateDevice(ctx, plan.DeviceID, plan.Patch)
				})
				s.metrics.RecordWrite(collectionDevice, err)
				if err != nil {
					deviceFailures.Add(1)
					return err
				}
				runLogger.Debug("updated device",
					zap.String("device_id", plan.DeviceID),
					zap.Strings("fields", plan.Patch.Fields()),
				)
				return nil
			},
		})
	}
	for _, plan := range cycle.Users {
		tasks = append(tasks, dispatch.Task{
			Name: "user/" + plan.UserID,
			Run: func(ctx context.Context) error {
				err := s.retry.Do(ctx, "update_user", func(ctx context.Context) error {
					return s.store.UpdateUser(ctx, plan.UserID, plan.Patch)
				})
				s.metrics.RecordWrite(collectionUser, err)
				if err != nil {
					userFailures.Add(1)
					return err
				}
				runLogger.Debug("updated user",
					zap.String("user_id", plan.UserID),
					zap.Strings("fields", plan.Patch.Fields()),
				)
				return nil
			},
		})
	}

	result := s.pool.Run(ctx, tasks)
	report.DeviceFailures = int(deviceFailures.Load())
	report.UserFailures = int(userFailures.Load())
	report.Err = result.Err

	status := db.RunStatusSucceeded
	metricStatus := metrics.StatusSuccess
	if report.Failures() > 0 {
		status = db.RunStatusPartial
		metricStatus = metrics.StatusPartial
		runLogger.Error("daily update completed with failed writes",
			zap.Int("device_failures", report.DeviceFailures),
			zap.Int("user_failures", report.UserFailures),
			zap.Error(report.Err),
		)
	} else {
		runLogger.Info("daily update completed successfully",
			zap.Int("devices", report.Devices),
			zap.Int("users", report.Users),
			zap.Int("rollovers", report.Rollovers),
		)
	}

	s.metrics.RecordCycle(JobDaily, metricStatus)
	if status == db.RunStatusSucceeded {
		s.metrics.RecordDailySuccess(now)
	}

	finishCtx, cancel := finishContext(ctx)
	defer cancel()
	s.record(finishCtx, runLogger, report, now, status)
	s.publish(finishCtx, runLogger, report, status)

	return report, nil
}

func (s *DailyService) fail(ctx context.Context, logger *zap.Logger, report Report, now time.Time, err error) {
	logger.Error("failed to process daily updates", zap.Error(err))
	s.metrics.RecordCycle(JobDaily, metrics.StatusFailed)

	finishCtx, cancel := finishContext(ctx)
	defer cancel()
	s.record(finishCtx, logger, report, now, db.RunStatusFailed)
}

// finishContext outlives a shutdown of ctx so the run is still recorded and
// announced once its writes are done.
func finishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

func (s *DailyService) record(ctx context.Context, logger *zap.Logger, report Report, now time.Time, status string) {
	run := db.RunRecord{
		ID:         report.RunID,
		RunDate:    now,
		StartedAt:  now,
		FinishedAt: time.Now(),
		Devices:    report.Devices,
		Users:      report.Users,
		Failures:   report.Failures(),
		Status:     status,
	}
	if err := s.history.Record(ctx, run); err != nil {
		logger.Warn("failed to record run history", zap.Error(err))
	}
}

func (s *DailyService) publish(ctx context.Context, logger *zap.Logger, report Report, status string) {
	event := mq.RollupCompletedEvent{
		RunID:          report.RunID.String(),
		RunDate:        report.RunDate.Format("2006-01-02"),
		Status:         status,
		DevicesUpdated: report.Devices - report.DeviceFailures,
		UsersUpdated:   report.Users - report.UserFailures,
		Rollovers:      report.Rollovers,
		Failures:       report.Failures(),
	}
	if err := s.publisher.Publish(ctx, mq.RoutingKeyRollupCompleted, event); err != nil {
		logger.Error("failed to publish event", zap.Error(err), zap.String("routing_key", mq.RoutingKeyRollupCompleted))
	}
}
