package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/septivank/usage-rollup-worker/tools/timeparser"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	LogLevel    string
	Firebase    FirebaseConfig
	Collections CollectionsConfig
	Schedule    ScheduleConfig
	Retry       RetryConfig
	Dispatch    DispatchConfig
	Rate        RateConfig
	History     HistoryConfig
	RabbitMQ    RabbitMQConfig
}

// FirebaseConfig holds Firestore connection settings
type FirebaseConfig struct {
	ProjectID       string
	CredentialsJSON string
	CredentialsFile string
}

// CollectionsConfig names the Firestore collections the jobs read and write
type CollectionsConfig struct {
	Devices      string
	Users        string
	Rates        string
	RateDocument string
}

// ScheduleConfig holds the daily rollup and interval job schedules
type ScheduleConfig struct {
	RunTime       timeparser.TimeOfDay
	Location      *time.Location
	PollInterval  time.Duration
	FailurePause  time.Duration
	PesoSumSpec   string
	RateWatchSpec string
}

// RetryConfig holds the write retry policy
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// DispatchConfig holds worker pool settings. Workers <= 0 means GOMAXPROCS.
type DispatchConfig struct {
	Workers int
}

// RateConfig holds the rate scraper settings
type RateConfig struct {
	ListingURL     string
	BaseURL        string
	SpikeThreshold float64
	HTTPTimeout    time.Duration
}

// HistoryConfig holds the optional run-history database settings
type HistoryConfig struct {
	DatabaseURL string
}

// RabbitMQConfig holds the optional event publishing settings
type RabbitMQConfig struct {
	URL            string
	EventsExchange string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	runTime, err := timeparser.ParseTimeOfDay(getEnv("SCHEDULE_RUN_TIME", "10:58:30"))
	if err != nil {
		return nil, fmt.Errorf("SCHEDULE_RUN_TIME: %w", err)
	}

	location, err := time.LoadLocation(getEnv("SCHEDULE_TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("SCHEDULE_TIMEZONE: %w", err)
	}

	pollInterval, err := getEnvAsDuration("SCHEDULE_POLL_INTERVAL", 250*time.Millisecond)
	if err != nil {
		return nil, err
	}
	failurePause, err := getEnvAsDuration("SCHEDULE_FAILURE_PAUSE", time.Second)
	if err != nil {
		return nil, err
	}
	retryDelay, err := getEnvAsDuration("RETRY_DELAY", time.Second)
	if err != nil {
		return nil, err
	}
	httpTimeout, err := getEnvAsDuration("RATE_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "usage-rollup-worker"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsJSON: getEnv("FIREBASE_CREDENTIALS", ""),
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Collections: CollectionsConfig{
			Devices:      getEnv("DEVICE_COLLECTION", "device"),
			Users:        getEnv("USER_COLLECTION", "users"),
			Rates:        getEnv("RATE_COLLECTION", "meralcoConversion"),
			RateDocument: getEnv("RATE_DOCUMENT", "currentConversion"),
		},
		Schedule: ScheduleConfig{
			RunTime:       runTime,
			Location:      location,
			PollInterval:  pollInterval,
			FailurePause:  failurePause,
			PesoSumSpec:   getEnvAllowEmpty("PESO_SUM_SCHEDULE", "@every 20s"),
			RateWatchSpec: getEnvAllowEmpty("RATE_SCHEDULE", "0 0 0 * * *"),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			Delay:       retryDelay,
		},
		Dispatch: DispatchConfig{
			Workers: getEnvAsInt("DISPATCH_WORKERS", 0),
		},
		Rate: RateConfig{
			ListingURL:     getEnv("RATE_LISTING_URL", "https://company.meralco.com.ph/news-and-advisories"),
			BaseURL:        getEnv("RATE_BASE_URL", "https://company.meralco.com.ph"),
			SpikeThreshold: getEnvAsFloat("RATE_SPIKE_THRESHOLD", 3.0),
			HTTPTimeout:    httpTimeout,
		},
		History: HistoryConfig{
			DatabaseURL: getEnv("HISTORY_DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:            getEnv("RABBITMQ_URL", ""),
			EventsExchange: getEnv("RABBITMQ_EVENTS_EXCHANGE", "usage-rollup.events.exchange"),
		},
	}

	// Validate required fields
	if cfg.Firebase.CredentialsJSON == "" && cfg.Firebase.CredentialsFile == "" {
		return nil, fmt.Errorf("FIREBASE_CREDENTIALS or FIREBASE_CREDENTIALS_FILE is required but not set in environment variables")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Schedule.PollInterval <= 0 {
		return nil, fmt.Errorf("SCHEDULE_POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty distinguishes an unset variable from one explicitly set
// to the empty string, which disables optional schedules.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, valueStr, err)
	}
	return value, nil
}
