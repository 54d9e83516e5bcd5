package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/dispatch"
	"github.com/septivank/usage-rollup-worker/internal/logging"
	"github.com/septivank/usage-rollup-worker/internal/metrics"
	"github.com/septivank/usage-rollup-worker/internal/repository"
	"github.com/septivank/usage-rollup-worker/internal/retry"
)

// JobPesoSum is the job label of the running peso total
const JobPesoSum = "peso_sum"

// PesoSumService keeps each user's pesoSum equal to the total current
// reading of the devices they own
type PesoSumService struct {
	store   repository.UsageStore
	retry   *retry.Policy
	pool    *dispatch.Pool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPesoSumService creates a new peso sum service
func NewPesoSumService(
	store repository.UsageStore,
	retryPolicy *retry.Policy,
	pool *dispatch.Pool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PesoSumService {
	return &PesoSumService{
		store:   store,
		retry:   retryPolicy,
		pool:    pool,
		metrics: m,
		logger:  logging.WithJob(logger, JobPesoSum),
	}
}

// SumByOwner totals the current reading of every device per owner
func SumByOwner(devices []db.Device) map[string]float64 {
	sums := make(map[string]float64)
	for _, device := range devices {
		sums[device.OwnerID] += device.PesoState
	}
	return sums
}

// Run writes pesoSum for every owner, and 0 for every user owning no device.
// Owners are written with merge semantics whether or not their user
// document exists yet.
func (s *PesoSumService) Run(ctx context.Context) error {
	devices, err := s.store.FetchDevices(ctx)
	if err != nil {
		s.logger.Error("failed to fetch devices", zap.Error(err))
		s.metrics.RecordCycle(JobPesoSum, metrics.StatusFailed)
		return fmt.Errorf("failed to fetch devices: %w", err)
	}
	users, err := s.store.FetchUsers(ctx)
	if err != nil {
		s.logger.Error("failed to fetch users", zap.Error(err))
		s.metrics.RecordCycle(JobPesoSum, metrics.StatusFailed)
		return fmt.Errorf("failed to fetch users: %w", err)
	}

	sums := SumByOwner(devices)
	for id := range users {
		if _, owns := sums[id]; !owns {
			sums[id] = 0
		}
	}

	ids := make([]string, 0, len(sums))
	for id := range sums {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tasks := make([]dispatch.Task, 0, len(ids))
	for _, id := range ids {
		total := sums[id]
		tasks = append(tasks, dispatch.Task{
			Name: "user/" + id,
			Run: func(ctx context.Context) error {
				err := s.retry.Do(ctx, "merge_user", func(ctx context.Context) error {
					return s.store.MergeUser(ctx, id, map[string]interface{}{db.FieldPesoSum: total})
				})
				s.metrics.RecordWrite(collectionUser, err)
				return err
			},
		})
	}

	result := s.pool.Run(ctx, tasks)
	if result.Failed > 0 {
		s.logger.Error("peso sums updated with failed writes",
			zap.Int("failures", result.Failed),
			zap.Error(result.Err),
		)
		s.metrics.RecordCycle(JobPesoSum, metrics.StatusPartial)
		return nil
	}

	s.logger.Debug("peso sums updated", zap.Int("users", result.Succeeded))
	s.metrics.RecordCycle(JobPesoSum, metrics.StatusSuccess)
	return nil
}
