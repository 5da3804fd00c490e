package timeutils

import (
	"math/rand"
	"sort"
	"testing"
	"time"
)

func TestToStringBasic(t *testing.T) {
	warsawTz := warsawTimeZone(t)
	tss := []time.Time{
		time.Date(2023, time.August, 22, 15, 0, 0, 0, time.UTC),
		time.Date(2023, time.August, 22, 15, 10, 5, 123456000, time.UTC),
		time.Date(2023, time.August, 22, 15, 10, 5, 123456000, warsawTz),
		time.Date(2023, time.November, 11, 17, 8, 0, 0, time.UTC),
	}
	expected := []string{
		"2023-08-22T15:00:00.000000Z",
		"2023-08-22T15:10:05.123456Z",
		"2023-08-22T13:10:05.123456Z",
		"2023-11-11T17:08:00.000000Z",
	}

	for idx, ts := range tss {
		s := ToString(ts)
		e := expected[idx]
		if s != e {
			t.Errorf("Expected ToString(%v)=%s, got: %s", ts, e, s)
		}
	}
}

func TestFromStringNotTime(t *testing.T) {
	incorrectInputs := []string{
		"Damian",
		"",
		"2023-02-29T12:00:00.000000Z",
		"2023-13-29T12:00:00.000000Z",
		"2023-12-10T25:10:00.000000Z",
		"2023-08-22 15:10:05.123456Z",
	}
	for _, input := range incorrectInputs {
		ts, err := FromString(input)
		if err == nil {
			t.Errorf("Expected error while parsing incorrect timestamp string %s, but it's fine: %v", input, ts)
		}
		if !FromStringMust(input).IsZero() {
			t.Errorf("Expected zero time from FromStringMust(%s)", input)
		}
	}
}

func TestFuzzToAndFromString(t *testing.T) {
	const N = 100
	warsawTz := warsawTimeZone(t)
	for i := 0; i < N; i++ {
		randTs := randomTime(warsawTz)
		str := ToString(randTs)
		tsFromStr, err := FromString(str)
		if err != nil {
			t.Errorf("Could not parse %s to time.Time: %s", str, err.Error())
		}
		if !tsFromStr.Equal(randTs) {
			t.Errorf("FromString(ToString(%v))!=%v", randTs, tsFromStr)
		}
	}
}

func TestStringOrderIsTimeOrder(t *testing.T) {
	const N = 200
	warsawTz := warsawTimeZone(t)
	times := make([]time.Time, N)
	strs := make([]string, N)
	for i := 0; i < N; i++ {
		times[i] = randomTime(warsawTz)
		strs[i] = ToString(times[i])
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	sort.Strings(strs)
	for i := range times {
		if ToString(times[i]) != strs[i] {
			t.Fatalf("Order mismatch at %d: %s vs %s", i, ToString(times[i]), strs[i])
		}
	}
}

func TestNowRoundTrip(t *testing.T) {
	now := Now()
	if !FromStringMust(ToString(now)).Equal(now) {
		t.Errorf("FromString(ToString(%v)) is not equal to itself", now)
	}
}

func warsawTimeZone(t *testing.T) *time.Location {
	location, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skip("Cannot load Warsaw timezone location")
	}
	return location
}

func randomTime(tz *time.Location) time.Time {
	year := rand.Intn(2023-1900) + 1900
	month := rand.Intn(12) + 1
	day := rand.Intn(28) + 1

	hour := rand.Intn(24)
	minute := rand.Intn(60)
	second := rand.Intn(60)
	ns := rand.Intn(1000000) * 1000

	return time.Date(year, time.Month(month), day, hour, minute, second, ns, tz)
}
