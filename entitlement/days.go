package entitlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DATES
// =============================================================================

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return Date(y, m, d)
}

func StartOfYear(year int) time.Time { return Date(year, time.January, 1) }
func EndOfYear(year int) time.Time   { return Date(year, time.December, 31) }

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a company holiday that does not count against workday leave.
type Holiday struct {
	Date      time.Time
	Name      string
	Recurring bool // same month/day every year
}

// HolidayList is a static HolidayCalendar.
type HolidayList []Holiday

// HolidaysIn returns the list's holidays falling in year, with recurring
// entries moved to that year. A recurring Feb 29 is skipped in common years.
func (l HolidayList) HolidaysIn(_ context.Context, year int) ([]Holiday, error) {
	var out []Holiday
	for _, h := range l {
		switch {
		case h.Recurring:
			d := Date(year, h.Date.Month(), h.Date.Day())
			if d.Month() != h.Date.Month() {
				continue
			}
			h.Date = d
			out = append(out, h)
		case h.Date.Year() == year:
			out = append(out, h)
		}
	}
	return out, nil
}

// DateSet is a set of calendar days.
type DateSet map[time.Time]bool

// NewDateSet builds a set from holidays.
func NewDateSet(holidays []Holiday) DateSet {
	set := make(DateSet, len(holidays))
	for _, h := range holidays {
		set[DateOf(h.Date)] = true
	}
	return set
}

func (s DateSet) Has(t time.Time) bool { return s[DateOf(t)] }

// =============================================================================
// DAY COUNTING
// =============================================================================

// CountDays counts days in [from, to] inclusive per rule. Under RuleWorkdays
// weekends and holidays are skipped; holidays may be nil.
func CountDays(from, to time.Time, rule WeekendRule, holidays DateSet) int {
	from, to = DateOf(from), DateOf(to)
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if rule == RuleWorkdays && (isWeekend(d) || holidays.Has(d)) {
			continue
		}
		n++
	}
	return n
}

// Clip restricts span to [from, to]. ok is false when they do not overlap.
func Clip(span LeaveSpan, from, to time.Time) (LeaveSpan, bool) {
	start, end := DateOf(span.Start), DateOf(span.End)
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if end.Before(start) {
		return LeaveSpan{}, false
	}
	span.Start, span.End = start, end
	return span, true
}

// SpanDays is the balance cost of span under cat's rules. A half-day span
// covering one countable day costs 0.5 when the category allows half days.
func SpanDays(span LeaveSpan, cat LeaveCategory, holidays DateSet) decimal.Decimal {
	rule := cat.WeekendRule
	if !rule.Valid() {
		rule = RuleWorkdays
	}
	n := CountDays(span.Start, span.End, rule, holidays)
	if span.HalfDay && cat.HalfDayAllowed && n == 1 {
		return decimal.NewFromFloat(0.5)
	}
	return decimal.NewFromInt(int64(n))
}

// DaysPerYear splits span's cost by calendar year.
func DaysPerYear(span LeaveSpan, cat LeaveCategory, holidaysFor func(year int) DateSet) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal)
	for y := span.Start.Year(); y <= span.End.Year(); y++ {
		part, ok := Clip(span, StartOfYear(y), EndOfYear(y))
		if !ok {
			continue
		}
		var hs DateSet
		if holidaysFor != nil {
			hs = holidaysFor(y)
		}
		out[y] = SpanDays(part, cat, hs)
	}
	return out
}
