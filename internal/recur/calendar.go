package recur

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the canonical storage form for calendar dates. The engine
// works on naive local-calendar dates; no timezone conversion happens
// anywhere, dates are pinned to midnight UTC purely as a normal form.
const DateLayout = "2006-01-02"

// ErrInvalidDate marks a date string that failed every accepted layout.
var ErrInvalidDate = errors.New("invalid date")

var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseDate parses a stored date string. Strict YYYY-MM-DD first, then a
// few timestamp layouts older rows may carry; the time component is
// discarded either way.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// FormatDate renders a date in the canonical YYYY-MM-DD form.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOf truncates a timestamp to its calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a date by n calendar days.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// DiffDays returns b - a in whole days.
func DiffDays(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// DaysInMonth returns the length of the given month.
func DaysInMonth(year int, month time.Month) int {
	// Move to the first of the next month, roll back a day.
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}

// ClampMonthDay returns the date in year/month nearest to day without
// exceeding the month's length: day 31 in April yields April 30.
func ClampMonthDay(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	if last := DaysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// NthWeekdayOfMonth returns the nth occurrence of dow in year/month.
// nth counts forward from 1; -1 selects the last occurrence. A missing
// 5th occurrence falls back to the 4th rather than rolling into the next
// month.
func NthWeekdayOfMonth(year int, month time.Month, nth int, dow time.Weekday) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	firstDow := 1 + int((dow-first.Weekday()+7)%7)
	last := DaysInMonth(year, month)

	if nth == -1 {
		day := firstDow + 7*4
		for day > last {
			day -= 7
		}
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}

	if nth < 1 {
		nth = 1
	}
	if nth > 5 {
		nth = 5
	}
	day := firstDow + 7*(nth-1)
	for day > last {
		day -= 7
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// AddMonths shifts a date by n months, clamping the day to the target
// month's length (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	t = DateOf(t)
	total := int(t.Month()) - 1 + n
	year := t.Year() + total/12
	month := time.Month(total%12 + 1)
	if total < 0 {
		// Go's integer division truncates toward zero.
		year = t.Year() + (total-11)/12
		month = time.Month((total%12+12)%12 + 1)
	}
	return ClampMonthDay(year, month, t.Day())
}

// WeekStart returns the Sunday on or before t.
func WeekStart(t time.Time) time.Time {
	t = DateOf(t)
	return AddDays(t, -int(t.Weekday()))
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
