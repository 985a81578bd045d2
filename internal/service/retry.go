package service

import (
	"context"
	"errors"
	"time"

	"github.com/AvTe/RentConnect-sub000/internal/apperr"

	"github.com/cenkalti/backoff/v5"
)

func exponential(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	if max > 0 {
		b.MaxInterval = max
	}
	return b
}

// withConflictRetry reruns op while it fails with apperr.ErrConflict. Each
// run must open its own transaction.
func withConflictRetry[T any](ctx context.Context, maxTries int, base time.Duration, op func() (T, error)) (T, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, apperr.ErrConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(exponential(base, 40*base)), backoff.WithMaxTries(uint(maxTries)))
}
