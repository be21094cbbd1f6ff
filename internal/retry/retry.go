// Package retry wraps remote calls in bounded exponential backoff.
// Only transient failures and rate limits are retried; everything else
// returns on the first attempt.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/klauern/postsync/internal/apperr"
	"github.com/klauern/postsync/internal/logging"
)

// Policy bounds the retries of one call.
type Policy struct {
	// MaxTries counts the first attempt. Values below 1 mean a single attempt.
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy returns the policy used for platform calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxTries:        4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// WithRetries returns p with MaxTries set to retries plus the first attempt.
func (p Policy) WithRetries(retries int) Policy {
	if retries < 0 {
		retries = 0
	}
	p.MaxTries = uint(retries) + 1
	return p
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts run out, or ctx is done.
func Do[T any](ctx context.Context, op string, p Policy, fn func() (T, error)) (T, error) {
	tries := p.MaxTries
	if tries < 1 {
		tries = 1
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !apperr.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logging.WithContext(ctx).Debug("retrying after transient failure",
				logging.Operation(op),
				slog.Duration("wait", wait),
				logging.Err(err),
			)
		}),
	)
	// A permanent error on the last allowed attempt comes back still wrapped.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}

// Void is Do for calls without a result.
func Void(ctx context.Context, op string, p Policy, fn func() error) error {
	_, err := Do(ctx, op, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
