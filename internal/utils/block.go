package utils

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrRetriesExhausted is returned by DoWithRetry once the retry budget is spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// BlockURL builds the block-lookup URL for a height: {base}/{height}.
func BlockURL(base string, height uint64) string {
	return strings.TrimRight(base, "/") + "/" + strconv.FormatUint(height, 10)
}

// SleepContext pauses for d, returning early with the context error if ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// DoWithRetry calls fn until it succeeds or fails with an error that retryable rejects.
// Retryable failures are retried after a fixed delay. A maxRetries of 0 means no limit.
// The number of retries performed is returned alongside the result.
func DoWithRetry[T any](ctx context.Context, maxRetries uint, delay time.Duration, retryable func(error) bool, fn func() (T, error)) (T, uint, error) {
	var retries uint
	for {
		res, err := fn()
		if err == nil || !retryable(err) {
			return res, retries, err
		}
		if maxRetries > 0 && retries >= maxRetries {
			var zero T
			return zero, retries, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, retries, err)
		}

		slog.Warn("Transient error, retrying", "error", err, "delay", delay, "retry", retries+1)
		if sleepErr := SleepContext(ctx, delay); sleepErr != nil {
			var zero T
			return zero, retries, errors.WithMessage(sleepErr, "retry interrupted")
		}
		retries++
	}
}
