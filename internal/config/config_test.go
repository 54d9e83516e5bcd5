package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FIREBASE_CREDENTIALS_FILE", "/secrets/service-account.json")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "usage-rollup-worker", cfg.ServiceName)
	require.Equal(t, "device", cfg.Collections.Devices)
	require.Equal(t, "users", cfg.Collections.Users)
	require.Equal(t, "10:58:30", cfg.Schedule.RunTime.String())
	require.Equal(t, 250*time.Millisecond, cfg.Schedule.PollInterval)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, time.Second, cfg.Retry.Delay)
	require.Equal(t, "@every 20s", cfg.Schedule.PesoSumSpec)
	require.Empty(t, cfg.History.DatabaseURL)
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("FIREBASE_CREDENTIALS", "")
	t.Setenv("FIREBASE_CREDENTIALS_FILE", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidRunTime(t *testing.T) {
	t.Setenv("FIREBASE_CREDENTIALS", "{}")
	t.Setenv("SCHEDULE_RUN_TIME", "noon-ish")

	_, err := Load()
	require.ErrorContains(t, err, "SCHEDULE_RUN_TIME")
}

func TestLoad_EmptyScheduleDisablesJob(t *testing.T) {
	t.Setenv("FIREBASE_CREDENTIALS", "{}")
	t.Setenv("PESO_SUM_SCHEDULE", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.Schedule.PesoSumSpec)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("FIREBASE_CREDENTIALS", "{}")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_DELAY", "250ms")
	t.Setenv("SCHEDULE_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.Delay)
	require.Equal(t, time.UTC, cfg.Schedule.Location)
}

func TestLoad_RejectsZeroAttempts(t *testing.T) {
	t.Setenv("FIREBASE_CREDENTIALS", "{}")
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")

	_, err := Load()
	require.Error(t, err)
}
