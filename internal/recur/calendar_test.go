package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseDate_Canonical(t *testing.T) {
	got, err := ParseDate("2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, date("2024-03-10"), got)
}

func TestParseDate_TimestampFallbacks(t *testing.T) {
	for _, raw := range []string{
		"2024-03-10T08:30:00Z",
		"2024-03-10 08:30:00",
		"2024-03-10T08:30:00",
	} {
		got, err := ParseDate(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, date("2024-03-10"), got, "time component must be discarded for %s", raw)
	}
}

func TestParseDate_Invalid(t *testing.T) {
	for _, raw := range []string{"", "tomorrow", "2024-13-01", "10.03.2024"} {
		_, err := ParseDate(raw)
		assert.ErrorIs(t, err, ErrInvalidDate, raw)
	}
}

func TestDiffDays(t *testing.T) {
	assert.Equal(t, 0, DiffDays(date("2024-03-10"), date("2024-03-10")))
	assert.Equal(t, 9, DiffDays(date("2024-03-01"), date("2024-03-10")))
	assert.Equal(t, -9, DiffDays(date("2024-03-10"), date("2024-03-01")))
	// Across a month boundary.
	assert.Equal(t, 31, DiffDays(date("2024-01-15"), date("2024-02-15")))
}

func TestDaysInMonth(t *testing.T) {
	assert.Equal(t, 29, DaysInMonth(2024, time.February), "leap year")
	assert.Equal(t, 28, DaysInMonth(2025, time.February))
	assert.Equal(t, 31, DaysInMonth(2024, time.January))
	assert.Equal(t, 30, DaysInMonth(2024, time.April))
}

func TestClampMonthDay(t *testing.T) {
	assert.Equal(t, date("2024-02-29"), ClampMonthDay(2024, time.February, 31))
	assert.Equal(t, date("2025-02-28"), ClampMonthDay(2025, time.February, 31))
	assert.Equal(t, date("2024-04-30"), ClampMonthDay(2024, time.April, 31))
	assert.Equal(t, date("2024-04-15"), ClampMonthDay(2024, time.April, 15), "in-range day stays put")
}

func TestNthWeekdayOfMonth(t *testing.T) {
	// January 2024 starts on a Monday.
	assert.Equal(t, date("2024-01-09"), NthWeekdayOfMonth(2024, time.January, 2, time.Tuesday))
	assert.Equal(t, date("2024-01-01"), NthWeekdayOfMonth(2024, time.January, 1, time.Monday))
	assert.Equal(t, date("2024-03-29"), NthWeekdayOfMonth(2024, time.March, -1, time.Friday), "last friday")
}

func TestNthWeekdayOfMonth_MissingFifthFallsBack(t *testing.T) {
	// February 2024 has only four Mondays; the 5th falls back to the 4th.
	assert.Equal(t, date("2024-02-26"), NthWeekdayOfMonth(2024, time.February, 5, time.Monday))
	// January 2024 does have five Mondays.
	assert.Equal(t, date("2024-01-29"), NthWeekdayOfMonth(2024, time.January, 5, time.Monday))
}

func TestAddMonths_ClampsDay(t *testing.T) {
	assert.Equal(t, date("2024-02-29"), AddMonths(date("2024-01-31"), 1))
	assert.Equal(t, date("2025-02-28"), AddMonths(date("2025-01-31"), 1))
	assert.Equal(t, date("2024-04-30"), AddMonths(date("2024-03-31"), 1))
	assert.Equal(t, date("2023-12-31"), AddMonths(date("2024-01-31"), -1), "negative steps cross year boundaries")
}

func TestWeekStart(t *testing.T) {
	// 2024-01-03 is a Wednesday.
	assert.Equal(t, date("2023-12-31"), WeekStart(date("2024-01-03")))
	// A Sunday is its own week start.
	assert.Equal(t, date("2023-12-31"), WeekStart(date("2023-12-31")))
}
