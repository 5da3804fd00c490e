// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package pace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrRetriesExhausted is returned by Retry when every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy describes bounded exponential back off. Limit is the number of
// retries after the first attempt, so at most Limit+1 attempts are made.
// Backoff before n-th retry (n starts from 1) equals Initial*Factor^(n-1),
// capped at Max when Max is positive.
type RetryPolicy struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
	Limit   int
}

// DefaultRetryPolicy is used by HTTP and readiness probes when nothing else is
// configured.
var DefaultRetryPolicy = RetryPolicy{
	Initial: 60 * time.Second,
	Factor:  2,
	Max:     10 * time.Minute,
	Limit:   3,
}

// Validate checks if the policy parameters make sense.
func (rp RetryPolicy) Validate() error {
	if rp.Limit < 0 {
		return fmt.Errorf("retry limit cannot be negative, got: %d", rp.Limit)
	}
	_, err := rp.strategy()
	return err
}

// Attempts returns maximum number of attempts.
func (rp RetryPolicy) Attempts() int { return rp.Limit + 1 }

// Delay returns backoff duration before given retry (1-based).
func (rp RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	factor := rp.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(rp.Initial) * math.Pow(factor, float64(retry-1))
	if rp.Max > 0 && d > float64(rp.Max) {
		return rp.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Strategy returns pacing Strategy producing the same sequence of intervals as
// Delay. Factor equal to 1 gives Fixed strategy.
func (rp RetryPolicy) Strategy() Strategy {
	s, err := rp.strategy()
	if err != nil {
		return NewFixed(rp.Initial)
	}
	return s
}

func (rp RetryPolicy) strategy() (Strategy, error) {
	if rp.Factor == 1 {
		if rp.Initial < 0 {
			return nil, errors.New("initial backoff cannot be negative")
		}
		return NewFixed(rp.Initial), nil
	}
	return NewExponentialBackoff(rp.Initial, rp.Factor, rp.Max)
}

// Retry calls fn until it succeeds, fn returns a permanent error (see
// Permanent) or the policy is exhausted. Between attempts it waits according
// to the policy. The onRetry callback, if not nil, is called before every
// wait. The last error is returned wrapped with ErrRetriesExhausted.
func Retry(
	ctx context.Context, rp RetryPolicy, fn func(attempt int) error,
	onRetry func(attempt int, wait time.Duration, err error),
) error {
	strategy := rp.Strategy()
	var lastErr error
	for attempt := 1; attempt <= rp.Attempts(); attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
		if attempt == rp.Attempts() {
			break
		}
		wait := strategy.NextInterval()
		if onRetry != nil {
			onRetry(attempt, wait, lastErr)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted,
		rp.Attempts(), lastErr)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks given error as not retryable for Retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
