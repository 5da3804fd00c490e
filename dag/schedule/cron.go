// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCron is returned by ParseCron for malformed expressions.
var ErrInvalidCron = errors.New("invalid cron expression")

// How far into the future Next searches. Any satisfiable expression fires at
// least once within that horizon (29th of February in leap years is the
// sparsest case).
const searchHorizonYears = 9

// Cron represents classic cron schedule expression. It implements Schedule
// interface.
//
// Cron can be parsed from the five field expression
//
//	cronSched, err := ParseCron("0 */2 * * *")
//
// or built using provided fluent API. For example if you want set
// "5,45 10 * * 1" cron schedule, you can write:
//
//	cronSched := NewCron().AtMinutes(5, 45).AtHour(10).OnWeekday(time.Monday)
//
// Empty field means "*". When both day of month and day of week are
// restricted, the schedule fires when either of them matches (like in Vixie
// cron). Next is evaluated in the location of given time, unless location
// is set using In method.
//
// By default schedule starts at the Unix epoch start (1970-01-01). It can be
// changed using Starts method.
type Cron struct {
	start      time.Time
	loc        *time.Location
	expr       string
	minute     []int
	hour       []int
	dayOfMonth []int
	month      []int
	dayOfWeek  []int
}

// NewCron initialize new default Cron which is "* * * * *" and starts at
// 1970-01-01.
func NewCron() *Cron {
	return &Cron{start: time.Unix(0, 0)}
}

// MustParseCron is like ParseCron but panics on invalid expressions.
func MustParseCron(expr string) *Cron {
	c, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return c
}

var cronMacros = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

var monthNames = map[string]int{
	"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
	"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
}

var weekdayNames = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// ParseCron parses five field cron expression: minute, hour, day of month,
// month and day of week. Each field accepts "*", single values, ranges
// ("1-5"), steps ("*/15", "0-30/10") and comma separated lists of those.
// Months and weekdays can be given by three letter English names. Weekday 7
// is Sunday. Macros like @daily and @hourly are supported as well.
func ParseCron(expr string) (*Cron, error) {
	normalized := strings.TrimSpace(expr)
	if macro, isMacro := cronMacros[strings.ToLower(normalized)]; isMacro {
		normalized = macro
	}
	fields := strings.Fields(normalized)
	if len(fields) != 5 {
		return nil, fmt.Errorf("%w %q: expected 5 fields, got %d",
			ErrInvalidCron, expr, len(fields))
	}
	bounds := []struct {
		name     string
		min, max int
		names    map[string]int
	}{
		{"minute", 0, 59, nil},
		{"hour", 0, 23, nil},
		{"day of month", 1, 31, nil},
		{"month", 1, 12, monthNames},
		{"day of week", 0, 7, weekdayNames},
	}
	var parts [5][]int
	for idx, b := range bounds {
		values, err := parseCronField(fields[idx], b.min, b.max, b.names)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %s: %v", ErrInvalidCron, expr,
				b.name, err)
		}
		parts[idx] = values
	}
	c := NewCron()
	c.minute = parts[0]
	c.hour = parts[1]
	c.dayOfMonth = parts[2]
	c.month = parts[3]
	c.dayOfWeek = normalizeWeekdays(parts[4])
	c.expr = strings.Join(fields, " ")
	return c, nil
}

// Starts set Cron start time.
func (c *Cron) Starts(start time.Time) *Cron {
	c.start = start
	return c
}

// Start returns schedule start time.
func (c *Cron) Start() time.Time { return c.start }

// In sets location in which the schedule is evaluated. Without it Next uses
// location of given time.
func (c *Cron) In(loc *time.Location) *Cron {
	c.loc = loc
	return c
}

// Next computes the next time according to set cron schedule, after given
// currentTime. In case when curretTime is precisely on cron schedule (eg,
// 2024-04-02 12:00:00 for "0 12 * * *" cron), then next cron schedule is
// returned (2024-04-03 12:00:00 for mentioned example). Times before Start
// are moved to Start. Zero time is returned for expressions which never fire
// (like "0 0 30 2 *").
func (c *Cron) Next(currentTime time.Time, _ *time.Time) time.Time {
	if currentTime.Before(c.start) {
		currentTime = c.start.Add(-time.Minute)
	}
	if c.loc != nil {
		currentTime = currentTime.In(c.loc)
	}
	t := zeroSecondsAndSubs(currentTime).Add(time.Minute)
	horizon := t.AddDate(searchHorizonYears, 0, 0)
	loc := t.Location()

	for t.Before(horizon) {
		if !contains(c.month, int(t.Month())) {
			t = forward(t, time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc))
			continue
		}
		if !c.dayMatches(t) {
			t = forward(t, time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc))
			continue
		}
		if !contains(c.hour, t.Hour()) {
			t = forward(t, time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc))
			continue
		}
		if !contains(c.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// String returns cron schedule string expression.
func (c *Cron) String() string {
	if c.expr != "" {
		return c.expr
	}
	var parts [5]string
	parts[0] = cronPartToString(c.minute)
	parts[1] = cronPartToString(c.hour)
	parts[2] = cronPartToString(c.dayOfMonth)
	parts[3] = cronPartToString(c.month)
	parts[4] = cronPartToString(c.dayOfWeek)
	return strings.Join(parts[:], " ")
}

// Sets minute part in cron schedule. Given input should be from interval
// [0,59].
func (c *Cron) AtMinute(m int) *Cron {
	return c.AtMinutes(m)
}

// Sets minute part in cron schedule. Each input should be from interval [0,
// 59].
func (c *Cron) AtMinutes(minutes ...int) *Cron {
	c.minute = normalizeInts(minutes, 60)
	c.expr = ""
	return c
}

// Sets hour part in cron schedule. Given input should be from interval [0,
// 23].
func (c *Cron) AtHour(h int) *Cron {
	return c.AtHours(h)
}

// Sets hour part in cron schedule. Each input should be from interval [0, 23].
func (c *Cron) AtHours(hours ...int) *Cron {
	c.hour = normalizeInts(hours, 24)
	c.expr = ""
	return c
}

// Sets weekday part in cron schedule.
func (c *Cron) OnWeekday(d time.Weekday) *Cron {
	return c.OnWeekdays(d)
}

// Sets weekday part in cron schedule.
func (c *Cron) OnWeekdays(days ...time.Weekday) *Cron {
	dInts := make([]int, len(days))
	for idx, day := range days {
		dInts[idx] = int(day)
	}
	c.dayOfWeek = normalizeInts(dInts, 7)
	c.expr = ""
	return c
}

// Sets day of month part in cron schedule. Given input should be from interval
// [1, 31].
func (c *Cron) OnMonthDay(monthDay int) *Cron {
	return c.OnMonthDays(monthDay)
}

// Sets day of month part in cron schedule. Each input should be from interval
// [1, 31].
func (c *Cron) OnMonthDays(monthDays ...int) *Cron {
	c.dayOfMonth = normalizeInts(monthDays, 32)
	c.expr = ""
	return c
}

// Sets month part in cron schedule.
func (c *Cron) InMonth(m time.Month) *Cron {
	return c.InMonths(m)
}

// Sets month part in cron schedule.
func (c *Cron) InMonths(months ...time.Month) *Cron {
	mInts := make([]int, len(months))
	for idx, m := range months {
		mInts[idx] = int(m)
	}
	c.month = normalizeInts(mInts, 13)
	c.expr = ""
	return c
}

// Checks if c is default cron instance - "* * * * *"
func (c *Cron) isDefault() bool {
	return len(c.minute) == 0 &&
		len(c.hour) == 0 &&
		len(c.dayOfMonth) == 0 &&
		len(c.month) == 0 &&
		len(c.dayOfWeek) == 0
}

func (c *Cron) dayMatches(t time.Time) bool {
	domSet, dowSet := len(c.dayOfMonth) > 0, len(c.dayOfWeek) > 0
	if domSet && dowSet {
		return contains(c.dayOfMonth, t.Day()) ||
			contains(c.dayOfWeek, int(t.Weekday()))
	}
	return contains(c.dayOfMonth, t.Day()) &&
		contains(c.dayOfWeek, int(t.Weekday()))
}

// Moves to candidate unless location quirks (DST changes) would not move the
// time forward at all.
func forward(current, candidate time.Time) time.Time {
	if candidate.After(current) {
		return candidate
	}
	return zeroSecondsAndSubs(current.Add(time.Hour))
}

func parseCronField(field string, min, max int, names map[string]int) ([]int, error) {
	if field == "*" {
		return nil, nil
	}
	set := make(map[int]struct{})
	for _, item := range strings.Split(field, ",") {
		rangePart, stepPart, hasStep := strings.Cut(item, "/")
		step := 1
		if hasStep {
			s, err := strconv.Atoi(stepPart)
			if err != nil || s < 1 {
				return nil, fmt.Errorf("invalid step %q", stepPart)
			}
			step = s
		}
		lo, hi := min, max
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			from, to, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = parseCronValue(from, names); err != nil {
				return nil, err
			}
			if hi, err = parseCronValue(to, names); err != nil {
				return nil, err
			}
		default:
			v, err := parseCronValue(rangePart, names)
			if err != nil {
				return nil, err
			}
			lo = v
			if !hasStep {
				hi = v
			}
		}
		if lo < min || hi > max || lo > hi {
			return nil, fmt.Errorf("value out of range [%d, %d] in %q", min,
				max, item)
		}
		for v := lo; v <= hi; v += step {
			set[v] = struct{}{}
		}
	}
	values := make([]int, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Ints(values)
	return values, nil
}

func parseCronValue(s string, names map[string]int) (int, error) {
	if v, isName := names[strings.ToUpper(s)]; isName {
		return v, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}

// Weekday 7 is an alias for Sunday.
func normalizeWeekdays(days []int) []int {
	if len(days) == 0 {
		return days
	}
	return normalizeInts(days, 7)
}

func normalizeInts(values []int, mod int) []int {
	set := make(map[int]struct{}, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		v %= mod
		if _, seen := set[v]; seen {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func contains(sorted []int, value int) bool {
	if len(sorted) == 0 {
		return true
	}
	idx := sort.SearchInts(sorted, value)
	return idx < len(sorted) && sorted[idx] == value
}

func cronPartToString(part []int) string {
	if len(part) == 0 {
		return "*"
	}
	var str []string
	for _, num := range part {
		str = append(str, strconv.Itoa(int(num)))
	}
	return strings.Join(str, ",")
}

func zeroSecondsAndSubs(t time.Time) time.Time {
	return time.Date(
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location(),
	)
}
