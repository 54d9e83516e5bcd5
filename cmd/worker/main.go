package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/usage-rollup-worker/internal/config"
	"github.com/septivank/usage-rollup-worker/internal/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const startStopTimeout = 30 * time.Second

// loadDotEnv loads the first .env found in the working directory or up to
// two levels above it. Containers usually have none and rely on the
// process environment.
func loadDotEnv() {
	candidates := []string{".env", "../../.env"}
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		candidates = append(candidates,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(filepath.Dir(parentDir), ".env"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			absPath, _ := filepath.Abs(path)
			fmt.Printf("Loaded environment from: %s\n", absPath)
			return
		}
	}
	fmt.Println("No .env file found, using system environment variables")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}

func main() {
	loadDotEnv()

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideMetrics,
			ProvideFirestore,
			ProvideRepository,
			ProvideRetryPolicy,
			ProvideDispatchPool,
			ProvideHistory,
			ProvidePublisher,
			ProvideRateScraper,
			ProvideAnomalyDetector,
			ProvideDailyService,
			ProvidePesoSumService,
			ProvideRateWatchService,
			ProvideDailyScheduler,
			ProvideCron,
			ProvideHTTPServer,
		),
		fx.Invoke(startWorker),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tempLogger, _ := newLogger(&config.Config{ServiceName: "usage-rollup-worker"})
	tempLogger.Info("starting application...", zap.Duration("timeout", startStopTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), startStopTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("application start timed out; a dependency (Firestore, run history database or RabbitMQ) is probably unreachable")
		}
		tempLogger.Fatal("failed to start application", zap.Error(err))
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startStopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		tempLogger.Error("error stopping app", zap.Error(err))
	}
}
