package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig configures the backoff of a Retrying store.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns a retry configuration with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Retrying decorates a RowStore with exponential backoff on transient
// failures. Reads and deletes retry on ErrRateLimited and ErrUnavailable.
// Inserts retry only on ErrRateLimited: an unavailable backend may have applied
// the insert before failing, and replaying it could duplicate the rows.
type Retrying struct {
	next   RowStore
	config RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next. A nil logger falls back to slog.Default.
func NewRetrying(next RowStore, config RetryConfig, logger *slog.Logger) *Retrying {
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{next: next, config: config, logger: logger, sleep: sleepContext}
}

// Select implements RowStore.
func (r *Retrying) Select(ctx context.Context, q Query) ([]Row, error) {
	var rows []Row
	err := r.withRetry(ctx, "select", IsTransient, func() error {
		var err error
		rows, err = r.next.Select(ctx, q)
		return err
	})
	return rows, err
}

// Insert implements RowStore.
func (r *Retrying) Insert(ctx context.Context, table string, rows []Row) ([]Row, error) {
	var stored []Row
	rateLimited := func(err error) bool { return errors.Is(err, ErrRateLimited) }
	err := r.withRetry(ctx, "insert", rateLimited, func() error {
		var err error
		stored, err = r.next.Insert(ctx, table, rows)
		return err
	})
	return stored, err
}

// Delete implements RowStore.
func (r *Retrying) Delete(ctx context.Context, table string, filters []Filter) (int, error) {
	var n int
	err := r.withRetry(ctx, "delete", IsTransient, func() error {
		var err error
		n, err = r.next.Delete(ctx, table, filters)
		return err
	})
	return n, err
}

func (r *Retrying) withRetry(ctx context.Context, op string, retryable func(error) bool, fn func() error) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.logger.WarnContext(ctx, "retrying store operation", "op", op, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * r.config.BackoffFactor)
			if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
				delay = r.config.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("%s failed after %d retries: %w", op, r.config.MaxRetries, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
