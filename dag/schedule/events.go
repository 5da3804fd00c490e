// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package schedule

import "fmt"

// Event represents what happened at a schedule point.
type Event int

const (
	// Regular firing which started a new DAG run.
	Regular Event = iota
	// Firing skipped because the previous DAG run was still active.
	SkippedOverlap
	// DAG run triggered by hand, outside of the schedule.
	ManuallyTriggered
	// Manual trigger rejected because the previous DAG run was still active.
	RejectedOverlap
	// DAG run left unfinished by previous process, marked as failed.
	Abandoned
)

// String serialize Event.
func (e Event) String() string {
	return [...]string{
		"REGULAR",
		"SKIPPED_OVERLAP",
		"MANUALLY_TRIGGERED",
		"REJECTED_OVERLAP",
		"ABANDONED",
	}[e]
}

// ParseEvent parses Event based on given string. Events are case-sensitive.
func ParseEvent(s string) (Event, error) {
	events := map[string]Event{
		"REGULAR":            Regular,
		"SKIPPED_OVERLAP":    SkippedOverlap,
		"MANUALLY_TRIGGERED": ManuallyTriggered,
		"REJECTED_OVERLAP":   RejectedOverlap,
		"ABANDONED":          Abandoned,
	}
	if event, ok := events[s]; ok {
		return event, nil
	}
	return 0, fmt.Errorf("invalid schedule Event: %s", s)
}
