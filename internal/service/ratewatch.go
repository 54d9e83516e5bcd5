package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/septivank/usage-rollup-worker/internal/anomaly"
	"github.com/septivank/usage-rollup-worker/internal/logging"
	"github.com/septivank/usage-rollup-worker/internal/metrics"
	"github.com/septivank/usage-rollup-worker/internal/mq"
	"github.com/septivank/usage-rollup-worker/internal/repository"
	"github.com/septivank/usage-rollup-worker/internal/retry"
	"github.com/septivank/usage-rollup-worker/internal/scraper"
)

// JobRateWatch is the job label of the rate mirror
const JobRateWatch = "rate_watch"

// RateSource produces the currently announced rate
type RateSource interface {
	Scrape(ctx context.Context) (scraper.Result, error)
}

// RateWatchService mirrors the announced rate into the store when it changes
type RateWatchService struct {
	source    RateSource
	store     repository.RateStore
	detector  *anomaly.Detector
	retry     *retry.Policy
	publisher mq.EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewRateWatchService creates a new rate watch service
func NewRateWatchService(
	source RateSource,
	store repository.RateStore,
	detector *anomaly.Detector,
	retryPolicy *retry.Policy,
	publisher mq.EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RateWatchService {
	return &RateWatchService{
		source:    source,
		store:     store,
		detector:  detector,
		retry:     retryPolicy,
		publisher: publisher,
		metrics:   m,
		logger:    logging.WithJob(logger, JobRateWatch),
	}
}

// Run scrapes the rate and stores it if no rate is stored or it differs
// from the stored one. It reports whether a new rate was written.
func (s *RateWatchService) Run(ctx context.Context) (bool, error) {
	result, err := s.source.Scrape(ctx)
	if err != nil {
		s.logger.Warn("couldn't extract the overall rate", zap.Error(err))
		s.metrics.RecordCycle(JobRateWatch, metrics.StatusFailed)
		return false, fmt.Errorf("failed to scrape rate: %w", err)
	}

	previous, stored, err := s.store.GetRate(ctx)
	if err != nil {
		s.logger.Error("failed to read stored rate", zap.Error(err))
		s.metrics.RecordCycle(JobRateWatch, metrics.StatusFailed)
		return false, fmt.Errorf("failed to read stored rate: %w", err)
	}

	s.metrics.RecordRate(result.Rate)
	if stored && previous == result.Rate {
		s.logger.Info("overall rate is unchanged", zap.Float64("rate", result.Rate))
		s.metrics.RecordCycle(JobRateWatch, metrics.StatusSuccess)
		return false, nil
	}

	var previousPtr *float64
	if stored {
		previousPtr = &previous
	}
	if suspicious, reason := s.detector.DetectRateAnomaly(result.Rate, previousPtr); suspicious {
		s.logger.Warn("suspicious rate change",
			zap.Float64("rate", result.Rate),
			zap.String("reason", reason),
			zap.String("article_url", result.ArticleURL),
		)
	}

	err = s.retry.Do(ctx, "set_rate", func(ctx context.Context) error {
		return s.store.SetRate(ctx, result.Rate)
	})
	s.metrics.RecordWrite("rate", err)
	if err != nil {
		s.metrics.RecordCycle(JobRateWatch, metrics.StatusFailed)
		return false, fmt.Errorf("failed to store rate: %w", err)
	}

	s.logger.Info("new overall rate stored",
		zap.Float64("rate", result.Rate),
		zap.String("article_url", result.ArticleURL),
	)
	s.metrics.RecordCycle(JobRateWatch, metrics.StatusSuccess)

	event := mq.RateChangedEvent{PreviousRate: previousPtr, Rate: result.Rate, ArticleURL: result.ArticleURL}
	if err := s.publisher.Publish(ctx, mq.RoutingKeyRateChanged, event); err != nil {
		s.logger.Error("failed to publish event", zap.Error(err), zap.String("routing_key", mq.RoutingKeyRateChanged))
	}

	return true, nil
}
