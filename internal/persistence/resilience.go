package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrStoreUnavailable is returned while repeated write failures keep the
// store's breaker open.
var ErrStoreUnavailable = errors.New("result store unavailable")

// RetryConfig configures exponential backoff for writes that hit a locked
// database.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 50ms)
	MaxInterval         time.Duration // Maximum retry interval (default 2s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 15s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      15 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// writeGuard retries busy writes and stops attempting writes altogether
// after consecutive hard failures.
type writeGuard struct {
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
}

func newWriteGuard(retry RetryConfig, onStateChange func(from, to string)) *writeGuard {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "result-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			onStateChange(from.String(), to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the database.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &writeGuard{retry: retry, breaker: cb}
}

// do runs op, retrying while the database reports it is busy.
func (g *writeGuard) do(ctx context.Context, op func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.withRetry(ctx, op)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrStoreUnavailable
	}
	return err
}

func (g *writeGuard) withRetry(ctx context.Context, op func() error) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := op()
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.retry.InitialInterval
	policy.MaxInterval = g.retry.MaxInterval
	policy.MaxElapsedTime = g.retry.MaxElapsedTime
	policy.Multiplier = g.retry.Multiplier
	policy.RandomizationFactor = g.retry.RandomizationFactor

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// isBusy reports whether err means another connection holds the lock.
func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
