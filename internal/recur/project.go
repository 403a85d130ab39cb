package recur

import "time"

// Iteration caps guarding projection loops against unsatisfiable rule
// parameters. Termination comes from these bounds, not from timeouts.
const (
	maxMonthlyIterations = 240
	maxYearlyIterations  = 200
)

// Lookahead bounds the rolling window projected for infinite schedules.
// DailyHorizonDays applies only to daily rules that store no horizon of
// their own.
type Lookahead struct {
	DailyHorizonDays int
	WeeklyWeeks      int
	MonthlyMonths    int
	YearlyYears      int
}

// DefaultLookahead returns the engine defaults: 14 days, 8 weeks,
// 2 months, 2 years.
func DefaultLookahead() Lookahead {
	return Lookahead{DailyHorizonDays: DefaultHorizonDays, WeeklyWeeks: 8, MonthlyMonths: 2, YearlyYears: 2}
}

func (l Lookahead) orDefault() Lookahead {
	def := DefaultLookahead()
	if l.DailyHorizonDays <= 0 {
		l.DailyHorizonDays = def.DailyHorizonDays
	}
	if l.WeeklyWeeks <= 0 {
		l.WeeklyWeeks = def.WeeklyWeeks
	}
	if l.MonthlyMonths <= 0 {
		l.MonthlyMonths = def.MonthlyMonths
	}
	if l.YearlyYears <= 0 {
		l.YearlyYears = def.YearlyYears
	}
	return l
}

// FiniteTargets projects the full target-date set of a finite schedule:
// the first Count dates the pattern implies from the anchor, each shifted
// by OffsetDays. Completion-anchored and manual-next schedules have no
// calendar projection and yield nil, as do infinite schedules.
func FiniteTargets(s Schedule, anchor time.Time) []time.Time {
	if !s.Finite() {
		return nil
	}
	anchor = DateOf(anchor)
	off := s.OffsetDays

	switch p := s.Pattern.(type) {
	case Once:
		return []time.Time{AddDays(anchor, off)}

	case Daily:
		if p.FromCompletion {
			return nil
		}
		out := make([]time.Time, 0, s.Count)
		for k := 0; k < s.Count; k++ {
			out = append(out, AddDays(anchor, k*p.Interval+off))
		}
		return out

	case Weekly:
		var out []time.Time
		start := WeekStart(anchor)
		for step := 0; len(out) < s.Count && step <= s.Count+1; step++ {
			sunday := AddDays(start, step*7*p.Interval)
			for dow := 0; dow < 7 && len(out) < s.Count; dow++ {
				if !p.Days.Has(time.Weekday(dow)) {
					continue
				}
				raw := AddDays(sunday, dow)
				if raw.Before(anchor) {
					continue
				}
				out = append(out, AddDays(raw, off))
			}
		}
		return out

	case MonthlyByDay:
		return finiteMonthly(s, anchor, func(year int, month time.Month) time.Time {
			return ClampMonthDay(year, month, p.Day)
		})

	case MonthlyByWeekday:
		return finiteMonthly(s, anchor, func(year int, month time.Month) time.Time {
			return NthWeekdayOfMonth(year, month, p.Nth, p.Dow)
		})

	case Yearly:
		var out []time.Time
		for i := 0; len(out) < s.Count && i < maxYearlyIterations; i++ {
			raw := ClampMonthDay(anchor.Year()+i, p.Month, p.Day)
			if raw.Before(anchor) {
				continue
			}
			out = append(out, AddDays(raw, off))
		}
		return out
	}

	return nil
}

func finiteMonthly(s Schedule, anchor time.Time, dateIn func(int, time.Month) time.Time) []time.Time {
	limit := 2 * s.Count
	if limit > maxMonthlyIterations {
		limit = maxMonthlyIterations
	}
	var out []time.Time
	for i := 0; len(out) < s.Count && i < limit; i++ {
		year, month := monthAt(anchor, i)
		raw := dateIn(year, month)
		if raw.Before(anchor) {
			continue
		}
		out = append(out, AddDays(raw, s.OffsetDays))
	}
	return out
}

// UpcomingTargets projects the rolling window of an infinite schedule:
// every shifted target date within the frequency's lookahead from today,
// never before today and never before the pattern's first occurrence.
func UpcomingTargets(s Schedule, anchor, today time.Time, look Lookahead) []time.Time {
	if s.Finite() {
		return nil
	}
	anchor = DateOf(anchor)
	today = DateOf(today)
	look = look.orDefault()
	off := s.OffsetDays

	switch p := s.Pattern.(type) {
	case Daily:
		if p.FromCompletion {
			return nil
		}
		horizon := p.HorizonDays
		if horizon <= 0 {
			horizon = look.DailyHorizonDays
		}
		end := AddDays(today, horizon-1)
		k := 0
		if delta := DiffDays(anchor, AddDays(today, -off)); delta > 0 {
			k = (delta + p.Interval - 1) / p.Interval
		}
		var out []time.Time
		for ; ; k++ {
			d := AddDays(anchor, k*p.Interval+off)
			if d.After(end) {
				break
			}
			if d.Before(today) {
				continue
			}
			out = append(out, d)
		}
		return out

	case Weekly:
		end := AddDays(today, look.WeeklyWeeks*7)
		start := WeekStart(anchor)
		stride := 7 * p.Interval
		step := 0
		if delta := DiffDays(start, AddDays(today, -off)); delta > stride {
			step = delta/stride - 1
		}
		var out []time.Time
		for ; ; step++ {
			sunday := AddDays(start, step*stride)
			if AddDays(sunday, off).After(end) {
				break
			}
			for dow := 0; dow < 7; dow++ {
				if !p.Days.Has(time.Weekday(dow)) {
					continue
				}
				raw := AddDays(sunday, dow)
				if raw.Before(anchor) {
					continue
				}
				d := AddDays(raw, off)
				if d.Before(today) || d.After(end) {
					continue
				}
				out = append(out, d)
			}
		}
		return out

	case MonthlyByDay:
		return upcomingMonthly(s, anchor, today, look, func(year int, month time.Month) time.Time {
			return ClampMonthDay(year, month, p.Day)
		})

	case MonthlyByWeekday:
		return upcomingMonthly(s, anchor, today, look, func(year int, month time.Month) time.Time {
			return NthWeekdayOfMonth(year, month, p.Nth, p.Dow)
		})

	case Yearly:
		end := AddMonths(today, 12*look.YearlyYears)
		i := today.Year() - anchor.Year() - 2
		if i < 0 {
			i = 0
		}
		var out []time.Time
		for guard := 0; guard < maxYearlyIterations; guard, i = guard+1, i+1 {
			raw := ClampMonthDay(anchor.Year()+i, p.Month, p.Day)
			if raw.Before(anchor) {
				continue
			}
			d := AddDays(raw, off)
			if d.After(end) {
				break
			}
			if d.Before(today) {
				continue
			}
			out = append(out, d)
		}
		return out
	}

	// Once, ManualNext: nothing to project on a rolling window.
	return nil
}

func upcomingMonthly(s Schedule, anchor, today time.Time, look Lookahead, dateIn func(int, time.Month) time.Time) []time.Time {
	end := AddMonths(today, look.MonthlyMonths)
	// Start a year-and-change back from today to stay safe under the
	// largest allowed offset shift.
	i := monthsBetween(anchor, today) - 13
	if i < 0 {
		i = 0
	}
	var out []time.Time
	for guard := 0; guard < maxMonthlyIterations; guard, i = guard+1, i+1 {
		year, month := monthAt(anchor, i)
		raw := dateIn(year, month)
		if raw.Before(anchor) {
			continue
		}
		d := AddDays(raw, s.OffsetDays)
		if d.After(end) {
			break
		}
		if d.Before(today) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// NextAfter returns the first projected date of an infinite schedule on or
// after the given day, or false when the lookahead holds none.
func NextAfter(s Schedule, anchor, day time.Time, look Lookahead) (time.Time, bool) {
	targets := UpcomingTargets(s, anchor, day, look)
	if len(targets) == 0 {
		return time.Time{}, false
	}
	return targets[0], true
}

func monthAt(t time.Time, i int) (int, time.Month) {
	total := t.Year()*12 + int(t.Month()) - 1 + i
	return total / 12, time.Month(total%12 + 1)
}
