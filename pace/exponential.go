// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package pace

import (
	"errors"
	"fmt"
	"time"
)

// ExponentialBackoff implements Strategy for exponential back off. The first
// interval is initial, every next one is the previous multiplied by factor.
// When max is positive intervals never exceed max.
//
// Example for initial=60s, factor=2 and max=10m:
//
//	1m, 2m, 4m, 8m, 10m, 10m, ... (until Reset)
type ExponentialBackoff struct {
	initial time.Duration
	factor  float64
	max     time.Duration

	current time.Duration
}

// NewExponentialBackoff initialize new ExponentialBackoff strategy. Initial
// interval cannot be negative, factor has to be at least 1 and max (if
// positive) cannot be smaller than initial. Zero max means no cap.
func NewExponentialBackoff(initial time.Duration, factor float64, max time.Duration) (*ExponentialBackoff, error) {
	if initial < 0 || max < 0 {
		return nil, errors.New("initial and max durations cannot be negative")
	}
	if factor < 1 {
		return nil, fmt.Errorf("factor should be at least 1, got: %v", factor)
	}
	if max > 0 && max < initial {
		return nil, fmt.Errorf("max should not be smaller than initial (initial:%v, max:%v)",
			initial, max)
	}
	return &ExponentialBackoff{
		initial: initial,
		factor:  factor,
		max:     max,
		current: initial,
	}, nil
}

// NextInterval returns time duration, to pass before the next event.
func (eb *ExponentialBackoff) NextInterval() time.Duration {
	next := eb.current
	grown := time.Duration(float64(eb.current) * eb.factor)
	if grown < eb.current {
		// overflow
		grown = eb.current
	}
	if eb.max > 0 && grown > eb.max {
		grown = eb.max
	}
	eb.current = grown
	return next
}

// Reset resets internal state. Next call to NextInterval returns initial
// interval.
func (eb *ExponentialBackoff) Reset() {
	eb.current = eb.initial
}
