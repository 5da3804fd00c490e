package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultCron(t *testing.T) {
	c := NewCron()
	if !c.isDefault() {
		t.Errorf("Expected default cron * * * * * from NewCron()")
	}
}

func TestCronString(t *testing.T) {
	data := []struct {
		input    *Cron
		expected string
	}{
		{NewCron(), "* * * * *"},
		{NewCron().AtMinute(10), "10 * * * *"},
		{NewCron().AtMinutes(55, 5, 30), "5,30,55 * * * *"},
		{NewCron().AtHour(12).AtMinute(59), "59 12 * * *"},
		{NewCron().OnWeekday(time.Monday).AtMinute(59).AtHour(12), "59 12 * * 1"},
		{NewCron().InMonths(time.October, time.February).OnMonthDay(3), "* * 3 2,10 *"},
		{MustParseCron("0   */2 * * *"), "0 */2 * * *"},
		{MustParseCron("@hourly"), "0 * * * *"},
		{MustParseCron("0 */2 * * *").AtMinute(15), "15 0,2,4,6,8,10,12,14,16,18,20,22 * * *"},
	}

	for _, d := range data {
		res := d.input.String()
		if res != d.expected {
			t.Errorf("Expected %s, but got: %s for input %v", d.expected, res,
				d.input)
		}
	}
}

func TestParseCronFields(t *testing.T) {
	c, err := ParseCron("5,45 10-12 1-31/10 jan,Jul sat-7")
	if err != nil {
		t.Fatalf("Unexpected error: %s", err.Error())
	}
	expectInts(t, "minute", []int{5, 45}, c.minute)
	expectInts(t, "hour", []int{10, 11, 12}, c.hour)
	expectInts(t, "dom", []int{1, 11, 21, 31}, c.dayOfMonth)
	expectInts(t, "month", []int{1, 7}, c.month)
	expectInts(t, "dow", []int{0, 6}, c.dayOfWeek)

	c = MustParseCron("*/20 5/6 * * *")
	expectInts(t, "minute", []int{0, 20, 40}, c.minute)
	expectInts(t, "hour", []int{5, 11, 17, 23}, c.hour)
	if c.dayOfMonth != nil || c.month != nil || c.dayOfWeek != nil {
		t.Errorf("Expected unrestricted day and month fields, got %+v", c)
	}
}

func TestParseCronInvalid(t *testing.T) {
	inputs := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"* * * foo *",
		"1,,2 * * * *",
	}
	for _, input := range inputs {
		_, err := ParseCron(input)
		if !errors.Is(err, ErrInvalidCron) {
			t.Errorf("Expected ErrInvalidCron for %q, got: %v", input, err)
		}
	}
}

func TestCronNext(t *testing.T) {
	warsawTz := warsaw(t)
	beforeDlsWarsaw := time.Date(2024, time.March, 31, 1, 59, 0, 0, warsawTz)

	data := []struct {
		expr             string
		currentTime      time.Time
		expectedNextTime time.Time
	}{
		{"* * * * *", timeUtc(2024, 3, 24, 12, 10), timeUtc(2024, 3, 24, 12, 11)},
		{"* * * * *", timeUtc(2024, 3, 23, 23, 59), timeUtc(2024, 3, 24, 0, 0)},
		{"* * * * *", timeUtc(2024, 3, 23, 23, 59).Add(30 * time.Second), timeUtc(2024, 3, 24, 0, 0)},

		{"0 * * * *", timeUtc(2024, 3, 24, 12, 0), timeUtc(2024, 3, 24, 13, 0)},
		{"0 * * * *", timeUtc(2024, 12, 31, 23, 1), timeUtc(2025, 1, 1, 0, 0)},
		{"59 * * * *", timeUtc(2024, 12, 31, 23, 59), timeUtc(2025, 1, 1, 0, 59)},
		{"5 * * * *", beforeDlsWarsaw, time.Date(2024, time.March, 31, 3, 5, 0, 0, warsawTz)},

		{"15,16,59 * * * *", timeUtc(2024, 3, 24, 12, 16), timeUtc(2024, 3, 24, 12, 59)},
		{"15,16,59 * * * *", timeUtc(2024, 3, 24, 12, 59), timeUtc(2024, 3, 24, 13, 15)},

		{"* 12 * * *", timeUtc(2024, 3, 24, 12, 5), timeUtc(2024, 3, 24, 12, 6)},
		{"* 12 * * *", timeUtc(2024, 3, 24, 12, 59), timeUtc(2024, 3, 25, 12, 0)},
		{"* 2 * * *", beforeDlsWarsaw, time.Date(2024, time.April, 1, 2, 0, 0, 0, warsawTz)},

		{"0 12 * * *", timeUtc(2024, 3, 24, 12, 0), timeUtc(2024, 3, 25, 12, 0)},
		{"2,18,48 12 * * *", timeUtc(2024, 3, 24, 12, 30), timeUtc(2024, 3, 24, 12, 48)},
		{"55 13,23 * * *", timeUtc(2024, 3, 24, 13, 55), timeUtc(2024, 3, 24, 23, 55)},

		{"0 */2 * * *", timeUtc(2024, 3, 24, 12, 0), timeUtc(2024, 3, 24, 14, 0)},
		{"0 */2 * * *", timeUtc(2024, 3, 24, 13, 59), timeUtc(2024, 3, 24, 14, 0)},
		{"0 */2 * * *", timeUtc(2024, 12, 31, 22, 0), timeUtc(2025, 1, 1, 0, 0)},

		{"* * 13 * *", timeUtc(2024, 3, 13, 23, 59), timeUtc(2024, 4, 13, 0, 0)},
		{"* * 31 * *", timeUtc(2024, 1, 31, 23, 59), timeUtc(2024, 3, 31, 0, 0)},
		{"0 2 31 * *", time.Date(2024, time.March, 1, 12, 0, 0, 0, warsawTz),
			time.Date(2024, time.May, 31, 2, 0, 0, 0, warsawTz)},

		{"* * * 2 *", timeUtc(2024, 2, 29, 23, 59), timeUtc(2025, 2, 1, 0, 0)},
		{"27 13 * feb *", timeUtc(2024, 2, 29, 23, 0), timeUtc(2025, 2, 1, 13, 27)},
		{"13 13 29 2 *", timeUtc(2024, 2, 29, 13, 13), timeUtc(2028, 2, 29, 13, 13)},

		// 2024-04-21 is Sunday, day of month and weekday are OR-ed
		{"* * 22 * 3", timeUtc(2024, 4, 22, 23, 59), timeUtc(2024, 4, 24, 0, 0)},
		{"* * 22 * wed", timeUtc(2024, 5, 1, 23, 59), timeUtc(2024, 5, 8, 0, 0)},
		{"* 21 13 7 5", timeUtc(2024, 7, 12, 21, 59), timeUtc(2024, 7, 13, 21, 0)},
		{"* 21 13 7 5", timeUtc(2024, 7, 26, 21, 59), timeUtc(2025, 7, 4, 21, 0)},
		{"0 0 * * 7", timeUtc(2024, 4, 21, 0, 0), timeUtc(2024, 4, 28, 0, 0)},
	}

	for _, d := range data {
		cronSched := MustParseCron(d.expr)
		next := cronSched.Next(d.currentTime, nil)
		if !d.expectedNextTime.Equal(next) {
			t.Errorf("For cron %s and time %+v expected next %+v, but got %+v",
				cronSched.String(), d.currentTime, d.expectedNextTime, next)
		}
	}
}

func TestCronNextFluent(t *testing.T) {
	data := []struct {
		cronSched        *Cron
		currentTime      time.Time
		expectedNextTime time.Time
	}{
		{NewCron().AtMinutes(3, 4).AtHours(0, 12), timeUtc(2024, 3, 24, 12, 4), timeUtc(2024, 3, 25, 0, 3)},
		{NewCron().AtHour(23).OnMonthDay(31), timeUtc(2025, 1, 31, 23, 59), timeUtc(2025, 3, 31, 23, 0)},
		{NewCron().OnMonthDay(29).InMonths(time.February, time.November), timeUtc(2024, 11, 29, 23, 59), timeUtc(2028, 2, 29, 0, 0)},
		{NewCron().OnMonthDay(3).InMonth(time.August).OnWeekday(time.Sunday), timeUtc(2024, 8, 25, 23, 59), timeUtc(2025, 8, 3, 0, 0)},
	}

	for _, d := range data {
		next := d.cronSched.Next(d.currentTime, nil)
		if !d.expectedNextTime.Equal(next) {
			t.Errorf("For cron %s and time %+v expected next %+v, but got %+v",
				d.cronSched.String(), d.currentTime, d.expectedNextTime, next)
		}
	}
}

func TestCronNextInLocation(t *testing.T) {
	warsaw := time.FixedZone("CET", 60*60)
	c := MustParseCron("0 */2 * * *").In(time.UTC)
	current := time.Date(2024, 5, 1, 12, 30, 0, 0, warsaw)
	next := c.Next(current, nil)
	expected := timeUtc(2024, 5, 1, 12, 0)
	if !expected.Equal(next) {
		t.Errorf("Expected next %+v, but got %+v", expected, next)
	}
	if next.Location() != time.UTC {
		t.Errorf("Expected next time in UTC, got %s", next.Location())
	}
}

func TestCronNextBeforeStart(t *testing.T) {
	start := timeUtc(2024, 6, 1, 10, 30)
	c := MustParseCron("0 */2 * * *").Starts(start)
	if !c.Start().Equal(start) {
		t.Errorf("Expected start %v, got %v", start, c.Start())
	}
	next := c.Next(timeUtc(2024, 1, 1, 0, 0), nil)
	if exp := timeUtc(2024, 6, 1, 12, 0); !next.Equal(exp) {
		t.Errorf("Expected %v, got %v", exp, next)
	}
}

func TestCronNextNeverFires(t *testing.T) {
	next := MustParseCron("0 0 30 2 *").Next(timeUtc(2024, 1, 1, 0, 0), nil)
	if !next.IsZero() {
		t.Errorf("Expected zero time for schedule that never fires, got %v", next)
	}
}

func TestCronPartToString(t *testing.T) {
	data := []struct {
		input    []int
		expected string
	}{
		{[]int{}, "*"},
		{[]int{10}, "10"},
		{[]int{8, 10}, "8,10"},
	}

	for _, d := range data {
		res := cronPartToString(d.input)
		if res != d.expected {
			t.Errorf("For input %+v expected %s, but got: %s", d.input,
				d.expected, res)
		}
	}
}

func TestParseEvent(t *testing.T) {
	for _, e := range []Event{Regular, SkippedOverlap, ManuallyTriggered, RejectedOverlap, Abandoned} {
		parsed, err := ParseEvent(e.String())
		if err != nil || parsed != e {
			t.Errorf("Expected %v, got %v (err: %v)", e, parsed, err)
		}
	}
	if _, err := ParseEvent("regular"); err == nil {
		t.Error("Expected error for lower case event")
	}
}

func expectInts(t *testing.T, name string, expected, got []int) {
	t.Helper()
	if len(expected) != len(got) {
		t.Errorf("%s: expected %v, got %v", name, expected, got)
		return
	}
	for i := range expected {
		if expected[i] != got[i] {
			t.Errorf("%s: expected %v, got %v", name, expected, got)
			return
		}
	}
}

func timeUtc(year, month, day, hour, minute int) time.Time {
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
}

func warsaw(t *testing.T) *time.Location {
	location, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skip("Cannot load Warsaw time location")
	}
	return location
}
