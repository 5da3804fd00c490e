// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

// Package pace controls waiting between attempts of retried operations.
//
// Strategy produces the sequence of waits. RetryPolicy describes the
// exponential backoff used by probes (initial wait, growth factor, cap and
// retry limit) and Retry runs a function under such policy.
package pace

import "time"

// Strategy yields consecutive intervals to wait. Reset brings it back to the
// first interval.
type Strategy interface {
	NextInterval() time.Duration
	Reset()
}
