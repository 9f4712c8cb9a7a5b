package errors

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures the bounded retry combinator.
type RetryPolicy struct {
	MaxAttempts  int           // total attempts, including the first one
	InitialDelay time.Duration // wait after the first failure
	MaxDelay     time.Duration // cap for a single wait
	Multiplier   float64       // exponential growth factor
	Jitter       float64       // randomization factor in [0, 1)
}

// DefaultRetryPolicy returns the window retry budget: three attempts with a
// short exponential backoff between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.5,
	}
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = p.InitialDelay
	exponential.MaxInterval = p.MaxDelay
	if p.Multiplier > 0 {
		exponential.Multiplier = p.Multiplier
	}
	exponential.RandomizationFactor = p.Jitter
	exponential.MaxElapsedTime = 0 // the attempt budget bounds the retries
	exponential.Reset()
	return exponential
}

// RetryOutcome tags how a Retry call ended.
type RetryOutcome int

const (
	// RetrySucceeded means one attempt returned without error.
	RetrySucceeded RetryOutcome = iota
	// RetryExhausted means every attempt of the budget failed.
	RetryExhausted
	// RetryAborted means the context ended or the operation returned a
	// permanent error before the budget was used up.
	RetryAborted
)

func (o RetryOutcome) String() string {
	switch o {
	case RetrySucceeded:
		return "succeeded"
	case RetryExhausted:
		return "exhausted"
	case RetryAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// RetryResult is the tagged result of Retry. Err holds the last failure and is
// nil only when Outcome is RetrySucceeded.
type RetryResult[T any] struct {
	Value    T
	Outcome  RetryOutcome
	Attempts int
	Err      error
}

// Ok reports whether the operation eventually succeeded.
func (r RetryResult[T]) Ok() bool {
	return r.Outcome == RetrySucceeded
}

// RetryNotifyFunc is called after a failed attempt that will be retried.
type RetryNotifyFunc func(err error, attempt int, wait time.Duration)

// retryAfterBackOff stretches the delegate's wait to the RetryAfter hint of
// the last failure when the hint is longer.
type retryAfterBackOff struct {
	backoff.BackOff
	lastErr *error
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	wait := b.BackOff.NextBackOff()
	if wait == backoff.Stop {
		return wait
	}
	var transient *TransientFetchError
	if errors.As(*b.lastErr, &transient) && transient.RetryAfter > wait {
		wait = transient.RetryAfter
	}
	return wait
}

// Retry runs op until it succeeds or the policy's attempt budget is spent.
// Every error counts as a failed attempt except one wrapped with
// backoff.Permanent, which aborts immediately. A TransientFetchError carrying a
// RetryAfter hint stretches the next wait to at least that duration.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error), notify RetryNotifyFunc) RetryResult[T] {
	var result RetryResult[T]
	if err := ctx.Err(); err != nil {
		result.Outcome = RetryAborted
		result.Err = err
		return result
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	permanent := false
	schedule := backoff.WithMaxRetries(
		backoff.WithContext(&retryAfterBackOff{BackOff: policy.newBackOff(), lastErr: &lastErr}, ctx),
		uint64(maxAttempts-1),
	)

	value, err := backoff.RetryNotifyWithData(func() (T, error) {
		result.Attempts++
		value, err := op(ctx)
		lastErr = err
		var perm *backoff.PermanentError
		permanent = errors.As(err, &perm)
		return value, err
	}, schedule, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, result.Attempts, wait)
		}
	})

	switch {
	case err == nil:
		result.Value = value
		result.Outcome = RetrySucceeded
	case permanent:
		result.Outcome = RetryAborted
		result.Err = err
	case ctx.Err() != nil:
		result.Outcome = RetryAborted
		result.Err = lastErr
		if result.Err == nil {
			result.Err = ctx.Err()
		}
	default:
		result.Outcome = RetryExhausted
		result.Err = err
	}
	return result
}
