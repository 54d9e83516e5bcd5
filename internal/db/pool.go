package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// historyMaxConns bounds the run history pool; it sees one insert per cycle.
const historyMaxConns = 2

// NewPool creates the PostgreSQL pool backing the run history. The database
// is pinged when the application starts, not here.
func NewPool(lc fx.Lifecycle, logger *zap.Logger, databaseURL, applicationName string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to parse HISTORY_DATABASE_URL: %w", err)
	}
	config.MaxConns = historyMaxConns
	if applicationName != "" {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	target := []zap.Field{
		zap.String("host", config.ConnConfig.Host),
		zap.Uint16("port", config.ConnConfig.Port),
		zap.String("database", config.ConnConfig.Database),
		zap.String("user", config.ConnConfig.User),
	}
	logger.Info("initializing run history connection pool", target...)

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to create connection pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				logger.Error("run history database unreachable", append(target, zap.Error(err))...)
				return fmt.Errorf("[DATABASE] cannot reach run history database, check HISTORY_DATABASE_URL or unset it to run without history: %w", err)
			}
			logger.Info("run history database connected")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("run history database connection closed")
			return nil
		},
	})

	return pool, nil
}
