package provider

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/star/satpass/internal/apperr"
)

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	Attempts int           // Total tries, including the first.
	Base     time.Duration // Delay after the first failure.
	Factor   float64
	Max      time.Duration // Cap on any single delay.
}

// DefaultRetry returns 3 attempts with 500 ms, 1 s delays (capped at 5 s).
func DefaultRetry() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Base:     500 * time.Millisecond,
		Factor:   2,
		Max:      5 * time.Second,
	}
}

// backOff builds the delay schedule: no jitter, no elapsed-time limit, and
// Attempts-1 waits before it stops.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = p.Max
	if p.Max <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	if p.Factor > 0 {
		b.Multiplier = p.Factor
	}
	b.Reset()

	attempts := max(p.Attempts, 1)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Retry calls fn until it succeeds, fails with an error that is not
// ProviderUnavailable, or the policy's attempts run out. Waiting between
// attempts stops early when ctx is done, returning the last error.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var last error
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !apperr.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		last = err
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("provider unavailable, retrying",
			"op", op,
			"attempt", attempt,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	v, err := backoff.RetryNotifyWithData[T](operation, p.backOff(ctx), notify)
	if err != nil && last != nil && ctx.Err() != nil {
		return v, last
	}
	return v, err
}
