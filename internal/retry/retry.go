// Package retry applies a bounded, fixed-delay retry policy to remote writes.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/septivank/usage-rollup-worker/internal/metrics"
	"github.com/septivank/usage-rollup-worker/internal/repository"
	"github.com/septivank/usage-rollup-worker/internal/validator"
)

// Policy retries an operation up to MaxAttempts times in total with a
// constant delay between attempts.
type Policy struct {
	maxAttempts int
	delay       time.Duration
	retryable   func(error) bool
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Policy
type Option func(*Policy)

// WithRetryable sets the classifier deciding which errors are retried.
// Errors it rejects fail the operation immediately.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.retryable = fn
	}
}

// WithMetrics records failed attempts
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Policy) {
		p.metrics = m
	}
}

// NewPolicy creates a retry policy. maxAttempts below 1 is treated as 1.
func NewPolicy(maxAttempts int, delay time.Duration, logger *zap.Logger, opts ...Option) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	p := &Policy{
		maxAttempts: maxAttempts,
		delay:       delay,
		retryable:   func(error) bool { return true },
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsRetryableWrite retries every write error except a missing document and
// a stored value of the wrong shape
func IsRetryableWrite(err error) bool {
	var parseErr *validator.ParseError
	return !errors.Is(err, repository.ErrNotFound) && !errors.As(err, &parseErr)
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// classified as not retryable, or ctx is done. Each failed attempt is logged
// as a warning; the final failure is logged as an error and returned.
func (p *Policy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.delay), uint64(p.maxAttempts-1)),
		ctx,
	)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}

		p.metrics.RecordAttemptFailure(operation)
		p.logger.Warn("attempt failed",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.maxAttempts),
			zap.Error(err),
		)
		if !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	if err != nil {
		p.logger.Error("operation failed",
			zap.String("operation", operation),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return err
	}

	return nil
}
