package main

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/usage-rollup-worker/internal/anomaly"
	"github.com/septivank/usage-rollup-worker/internal/config"
	"github.com/septivank/usage-rollup-worker/internal/db"
	"github.com/septivank/usage-rollup-worker/internal/dispatch"
	"github.com/septivank/usage-rollup-worker/internal/httpserver"
	"github.com/septivank/usage-rollup-worker/internal/metrics"
	"github.com/septivank/usage-rollup-worker/internal/mq"
	"github.com/septivank/usage-rollup-worker/internal/repository"
	"github.com/septivank/usage-rollup-worker/internal/retry"
	"github.com/septivank/usage-rollup-worker/internal/scheduler"
	"github.com/septivank/usage-rollup-worker/internal/scraper"
	"github.com/septivank/usage-rollup-worker/internal/service"
)

func startWorker(
	lc fx.Lifecycle,
	logger *zap.Logger,
	daily *scheduler.Daily,
	cron *scheduler.Cron,
	_ *httpserver.Server,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := daily.Seed(startCtx); err != nil {
				logger.Warn("failed to restore last execution date", zap.Error(err))
			}
			go func() {
				defer close(done)
				daily.Run(ctx)
			}()
			cron.Start()
			logger.Info("worker started")
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				logger.Warn("daily cycle still running at shutdown")
			}
			if err := cron.Stop(stopCtx); err != nil {
				logger.Error("failed to stop interval jobs", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})
}

// ProvideMetrics creates the Prometheus registry and the worker collectors
func ProvideMetrics() (*metrics.Metrics, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewMetrics(reg)
	if err != nil {
		return nil, nil, err
	}
	return m, reg, nil
}

// ProvideFirestore creates the Firestore client
func ProvideFirestore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*firestore.Client, error) {
	return db.NewFirestore(lc, logger, db.FirestoreConfig{
		ProjectID:       cfg.Firebase.ProjectID,
		CredentialsJSON: cfg.Firebase.CredentialsJSON,
		CredentialsFile: cfg.Firebase.CredentialsFile,
	})
}

// ProvideRepository creates the Firestore-backed repository
func ProvideRepository(client *firestore.Client, cfg *config.Config, logger *zap.Logger) *repository.FirestoreRepository {
	return repository.NewFirestoreRepository(client, repository.Collections{
		Devices:      cfg.Collections.Devices,
		Users:        cfg.Collections.Users,
		Rates:        cfg.Collections.Rates,
		RateDocument: cfg.Collections.RateDocument,
	}, logger)
}

// ProvideRetryPolicy creates the write retry policy
func ProvideRetryPolicy(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *retry.Policy {
	return retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.Delay, logger,
		retry.WithRetryable(retry.IsRetryableWrite),
		retry.WithMetrics(m),
	)
}

// ProvideDispatchPool creates the bounded worker pool
func ProvideDispatchPool(cfg *config.Config, logger *zap.Logger) *dispatch.Pool {
	pool := dispatch.NewPool(cfg.Dispatch.Workers)
	logger.Info("dispatch pool configured", zap.Int("workers", pool.Workers()))
	return pool
}

// ProvideHistory creates the run history store. Without HISTORY_DATABASE_URL
// runs are not recorded.
func ProvideHistory(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.History, error) {
	if cfg.History.DatabaseURL == "" {
		logger.Info("HISTORY_DATABASE_URL not set, run history disabled")
		return repository.NopHistory{}, nil
	}

	pool, err := db.NewPool(lc, logger, cfg.History.DatabaseURL, cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	history := repository.NewPostgresHistory(pool)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return history.EnsureSchema(ctx)
		},
	})
	return history, nil
}

// ProvidePublisher creates the event publisher. Without RABBITMQ_URL events
// are dropped.
func ProvidePublisher(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (mq.EventPublisher, error) {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("RABBITMQ_URL not set, event publishing disabled")
		return mq.NopPublisher{}, nil
	}

	conn, err := mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideRateScraper creates the rate page scraper
func ProvideRateScraper(cfg *config.Config) *scraper.RateScraper {
	client := &http.Client{Timeout: cfg.Rate.HTTPTimeout}
	return scraper.NewRateScraper(client, cfg.Rate.ListingURL, cfg.Rate.BaseURL)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Rate.SpikeThreshold)
}

// ProvideDailyService creates the daily rollup service
func ProvideDailyService(
	repo *repository.FirestoreRepository,
	retryPolicy *retry.Policy,
	pool *dispatch.Pool,
	history repository.History,
	publisher mq.EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.DailyService {
	return service.NewDailyService(repo, retryPolicy, pool, history, publisher, m, logger)
}

// ProvidePesoSumService creates the peso sum service
func ProvidePesoSumService(
	repo *repository.FirestoreRepository,
	retryPolicy *retry.Policy,
	pool *dispatch.Pool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.PesoSumService {
	return service.NewPesoSumService(repo, retryPolicy, pool, m, logger)
}

// ProvideRateWatchService creates the rate watch service
func ProvideRateWatchService(
	source *scraper.RateScraper,
	repo *repository.FirestoreRepository,
	detector *anomaly.Detector,
	retryPolicy *retry.Policy,
	publisher mq.EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.RateWatchService {
	return service.NewRateWatchService(source, repo, detector, retryPolicy, publisher, m, logger)
}

// ProvideDailyScheduler creates the scheduler driving the daily rollup
func ProvideDailyScheduler(
	cfg *config.Config,
	daily *service.DailyService,
	history repository.History,
	logger *zap.Logger,
) *scheduler.Daily {
	job := func(ctx context.Context, now time.Time) error {
		_, err := daily.Run(ctx, now)
		return err
	}
	return scheduler.NewDaily(scheduler.DailyConfig{
		RunTime:      cfg.Schedule.RunTime,
		Location:     cfg.Schedule.Location,
		PollInterval: cfg.Schedule.PollInterval,
		FailurePause: cfg.Schedule.FailurePause,
	}, job, history, quartz.NewReal(), logger)
}

// ProvideCron creates the runner for the peso sum and rate watch jobs
func ProvideCron(
	cfg *config.Config,
	pesoSum *service.PesoSumService,
	rateWatch *service.RateWatchService,
	logger *zap.Logger,
) (*scheduler.Cron, error) {
	return scheduler.NewCron(cfg.Schedule.Location, logger,
		scheduler.IntervalJob{
			Name: service.JobPesoSum,
			Spec: cfg.Schedule.PesoSumSpec,
			Run:  pesoSum.Run,
		},
		scheduler.IntervalJob{
			Name: service.JobRateWatch,
			Spec: cfg.Schedule.RateWatchSpec,
			Run: func(ctx context.Context) error {
				_, err := rateWatch.Run(ctx)
				return err
			},
		},
	)
}

// ProvideHTTPServer serves /metrics and /healthz on SERVICE_PORT
func ProvideHTTPServer(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, reg *prometheus.Registry) *httpserver.Server {
	return httpserver.NewServer(lc, logger, cfg.ServicePort, httpserver.Handler(cfg.ServiceName, reg))
}
