package recur

import (
	"errors"
	"time"

	"taskdeck/internal/model"
)

// ErrUnsupportedFrequency marks a stored rule shape the projector does not
// recognize (unknown freq, empty weekly day set, out-of-range monthly
// fields). Reconciliation treats it as a no-op rather than a hard failure
// so a bad rule cannot block unrelated task edits.
var ErrUnsupportedFrequency = errors.New("unsupported recurrence shape")

// DefaultHorizonDays is used when a daily rule stores no horizon.
const DefaultHorizonDays = 14

// Pattern is the closed set of recurrence shapes. Each variant carries
// only the fields its math needs; the nullable sibling columns on the
// stored rule are resolved once, in Compile.
type Pattern interface {
	isPattern()
}

// Once fires on the anchor date and never again.
type Once struct{}

// Daily repeats every Interval days. FromCompletion anchors each step to
// the previous completion instead of the calendar; such rules are driven
// by the completion state machine, never by calendar projection.
type Daily struct {
	Interval       int
	FromCompletion bool
	HorizonDays    int
}

// Weekly fires on each weekday in Days, stepping Interval weeks at a time.
type Weekly struct {
	Interval int
	Days     DaySet
}

// MonthlyByDay fires on a fixed day of month, clamped to month length.
type MonthlyByDay struct {
	Day int
}

// MonthlyByWeekday fires on the nth Dow of each month (-1 = last).
type MonthlyByWeekday struct {
	Nth int
	Dow time.Weekday
}

// Yearly fires once a year on Month/Day, clamped to month length.
type Yearly struct {
	Month time.Month
	Day   int
}

// ManualNext has no formula: the user supplies the next due date at
// completion time.
type ManualNext struct{}

func (Once) isPattern()             {}
func (Daily) isPattern()            {}
func (Weekly) isPattern()           {}
func (MonthlyByDay) isPattern()     {}
func (MonthlyByWeekday) isPattern() {}
func (Yearly) isPattern()           {}
func (ManualNext) isPattern()       {}

// DaySet is a weekday bitmask, bit 0 = Sunday.
type DaySet uint8

func (d DaySet) Has(w time.Weekday) bool {
	return d&(1<<uint(w)) != 0
}

func (d DaySet) Empty() bool {
	return d&0x7f == 0
}

// Schedule is a compiled rule: a pattern plus the bounds shared by every
// variant. Count >= 1 caps the total number of occurrences; 0 means
// infinite. OffsetDays shifts every projected date.
type Schedule struct {
	Pattern    Pattern
	Count      int
	OffsetDays int
}

// Finite reports whether the schedule generates a bounded occurrence set.
func (s Schedule) Finite() bool {
	return s.Count >= 1
}

// Compile resolves a stored rule row into its closed-variant form,
// clamping stored numbers into their documented ranges.
func Compile(r model.RecurrenceRule) (Schedule, error) {
	s := Schedule{Count: r.Count, OffsetDays: clampOffset(r.OffsetDays)}
	if s.Count < 0 {
		s.Count = 0
	}

	if r.ManualNextDue {
		s.Pattern = ManualNext{}
		return s, nil
	}

	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	switch r.Freq {
	case model.FreqDaily:
		// 0 = unset; the projector falls back to the lookahead default.
		horizon := r.HorizonDays
		if horizon < 0 {
			horizon = 0
		}
		if horizon > 365 {
			horizon = 365
		}
		s.Pattern = Daily{
			Interval:       interval,
			FromCompletion: r.Anchor == model.AnchorCompleted,
			HorizonDays:    horizon,
		}
		return s, nil

	case model.FreqWeekly:
		days := DaySet(r.WeeklyDays)
		if days.Empty() {
			return Schedule{}, ErrUnsupportedFrequency
		}
		s.Pattern = Weekly{Interval: interval, Days: days}
		return s, nil

	case model.FreqMonthly:
		if r.MonthlyNth != 0 {
			if (r.MonthlyNth < 1 || r.MonthlyNth > 5) && r.MonthlyNth != -1 {
				return Schedule{}, ErrUnsupportedFrequency
			}
			if r.MonthlyDow < 0 || r.MonthlyDow > 6 {
				return Schedule{}, ErrUnsupportedFrequency
			}
			s.Pattern = MonthlyByWeekday{Nth: r.MonthlyNth, Dow: time.Weekday(r.MonthlyDow)}
			return s, nil
		}
		if r.MonthlyDay >= 1 && r.MonthlyDay <= 31 {
			s.Pattern = MonthlyByDay{Day: r.MonthlyDay}
			return s, nil
		}
		if s.Count == 1 {
			// Degenerate single-occurrence rule attached to
			// non-recurring tasks.
			s.Pattern = Once{}
			return s, nil
		}
		return Schedule{}, ErrUnsupportedFrequency

	case model.FreqYearly:
		if r.YearlyMonth < 1 || r.YearlyMonth > 12 || r.MonthlyDay < 1 || r.MonthlyDay > 31 {
			return Schedule{}, ErrUnsupportedFrequency
		}
		s.Pattern = Yearly{Month: time.Month(r.YearlyMonth), Day: r.MonthlyDay}
		return s, nil
	}

	return Schedule{}, ErrUnsupportedFrequency
}

func clampOffset(d int) int {
	if d < -365 {
		return -365
	}
	if d > 365 {
		return 365
	}
	return d
}
