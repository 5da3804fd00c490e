// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package schedule

import (
	"fmt"
	"time"
)

// Fixed is a schedule with ticks every interval since start. It's used when
// the pipeline is configured with an interval instead of a cron expression.
type Fixed struct {
	start    time.Time
	interval time.Duration
}

// NewFixed creates Fixed schedule which starts at startTs and ticks every
// interval. Interval has to be positive.
func NewFixed(startTs time.Time, interval time.Duration) (Fixed, error) {
	if interval <= 0 {
		return Fixed{}, fmt.Errorf("fixed schedule interval has to be positive, got: %v",
			interval)
	}
	return Fixed{start: startTs, interval: interval}, nil
}

// Start returns schedule start time.
func (f Fixed) Start() time.Time {
	return f.start
}

// Next returns the first tick strictly after currentTime. When previous
// schedule is known and currentTime is after it, the next tick is one interval
// after the previous one, so the driver does not drift when it wakes up late.
func (f Fixed) Next(currentTime time.Time, prevSchedule *time.Time) time.Time {
	if currentTime.Before(f.start) && prevSchedule == nil {
		return f.start
	}
	if prevSchedule != nil && currentTime.After(*prevSchedule) {
		return prevSchedule.Add(f.interval)
	}
	if currentTime.Before(f.start) {
		return f.start
	}
	ticks := currentTime.Sub(f.start)/f.interval + 1
	return f.start.Add(ticks * f.interval)
}

// String returns serialized representation of the schedule.
func (f Fixed) String() string {
	return fmt.Sprintf("every %s", f.interval)
}
