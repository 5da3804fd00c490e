// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

// Package timeutils contains helpers for serializing timestamps stored in the
// database and returned by the API.
package timeutils

import (
	"time"
)

// Timestamp format for time.Time serialization and deserialization. This
// format is used to store timestamps in the database. It has fixed width and
// timestamps are always stored in UTC, so string order is the time order.
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// Now returns current time in UTC truncated to microseconds, which is the
// precision of TimestampFormat.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ToString moves given time.Time to UTC and serialize it based on
// TimestampFormat format.
func ToString(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// FromString tries to recreate time.Time based on given string value according
// to TimestampFormat format.
func FromString(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, s)
}

// In most cases FromString should be called on strings created by ToString and
// should succeed. In cases when we are pretty sure that FromString will
// succeed, we can use FromStringMust. If FromString would fail for given
// input, time.Time{} would be returned.
func FromStringMust(s string) time.Time {
	t, err := FromString(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
