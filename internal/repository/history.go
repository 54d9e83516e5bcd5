package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/septivank/usage-rollup-worker/internal/db"
)

// History records daily rollup cycles
type History interface {
	Record(ctx context.Context, run db.RunRecord) error
	// LastExecutionDate returns the date of the latest cycle that ran to
	// completion, if any
	LastExecutionDate(ctx context.Context) (time.Time, bool, error)
}

// NopHistory is used when no history database is configured
type NopHistory struct{}

// Record discards the run
func (NopHistory) Record(context.Context, db.RunRecord) error { return nil }

// LastExecutionDate reports no previous run
func (NopHistory) LastExecutionDate(context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

// PostgresHistory stores runs in PostgreSQL
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory creates a new run history repository
func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{pool: pool}
}

// EnsureSchema creates the run history table if it does not exist
func (h *PostgresHistory) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS rollup_runs (
			id          UUID PRIMARY KEY,
			run_date    DATE NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			devices     INTEGER NOT NULL,
			users       INTEGER NOT NULL,
			failures    INTEGER NOT NULL,
			status      TEXT NOT NULL
		)
	`
	if _, err := h.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create rollup_runs table: %w", err)
	}
	return nil
}

// Record inserts a run
func (h *PostgresHistory) Record(ctx context.Context, run db.RunRecord) error {
	query := `
		INSERT INTO rollup_runs (id, run_date, started_at, finished_at, devices, users, failures, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := h.pool.Exec(ctx, query,
		run.ID,
		run.RunDate,
		run.StartedAt,
		run.FinishedAt,
		run.Devices,
		run.Users,
		run.Failures,
		run.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// LastExecutionDate returns the latest run date that was not a failed cycle
func (h *PostgresHistory) LastExecutionDate(ctx context.Context) (time.Time, bool, error) {
	query := `
		SELECT run_date
		FROM rollup_runs
		WHERE status <> $1
		ORDER BY run_date DESC
		LIMIT 1
	`

	var runDate time.Time
	err := h.pool.QueryRow(ctx, query, db.RunStatusFailed).Scan(&runDate)
	if err == pgx.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last run: %w", err)
	}

	return runDate, true, nil
}
