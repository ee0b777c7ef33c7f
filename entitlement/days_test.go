package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/approval-engine/entitlement"
)

// 2025-03-03 is a Monday.
var monday = entitlement.Date(2025, time.March, 3)

func TestCountDays_WeekendRule(t *testing.T) {
	sunday := monday.AddDate(0, 0, 6)

	assert.Equal(t, 5, entitlement.CountDays(monday, sunday, entitlement.RuleWorkdays, nil))
	assert.Equal(t, 7, entitlement.CountDays(monday, sunday, entitlement.RuleCalendar, nil))
}

func TestCountDays_Holidays(t *testing.T) {
	friday := monday.AddDate(0, 0, 4)
	holidays := entitlement.NewDateSet([]entitlement.Holiday{{Date: monday.AddDate(0, 0, 2), Name: "Founders Day"}})

	assert.Equal(t, 4, entitlement.CountDays(monday, friday, entitlement.RuleWorkdays, holidays))
	// calendar counting ignores holidays
	assert.Equal(t, 5, entitlement.CountDays(monday, friday, entitlement.RuleCalendar, holidays))
}

func TestCountDays_TimeOfDayIgnored(t *testing.T) {
	from := monday.Add(17 * time.Hour)
	to := monday.AddDate(0, 0, 1).Add(2 * time.Hour)
	assert.Equal(t, 2, entitlement.CountDays(from, to, entitlement.RuleCalendar, nil))
}

func TestSpanDays_HalfDay(t *testing.T) {
	cat := entitlement.LeaveCategory{WeekendRule: entitlement.RuleWorkdays, HalfDayAllowed: true}
	half := entitlement.LeaveSpan{Start: monday, End: monday, HalfDay: true}

	assert.True(t, entitlement.SpanDays(half, cat, nil).Equal(entitlement.Days(0.5)))

	// not allowed: full day
	cat.HalfDayAllowed = false
	assert.True(t, entitlement.SpanDays(half, cat, nil).Equal(entitlement.Days(1)))

	// half day on a weekend costs nothing
	cat.HalfDayAllowed = true
	saturday := monday.AddDate(0, 0, 5)
	assert.True(t, entitlement.SpanDays(entitlement.LeaveSpan{Start: saturday, End: saturday, HalfDay: true}, cat, nil).IsZero())
}

func TestClip(t *testing.T) {
	span := entitlement.LeaveSpan{
		Start: entitlement.Date(2024, time.December, 30),
		End:   entitlement.Date(2025, time.January, 2),
	}

	got, ok := entitlement.Clip(span, entitlement.StartOfYear(2025), entitlement.EndOfYear(2025))
	require.True(t, ok)
	assert.Equal(t, entitlement.Date(2025, time.January, 1), got.Start)
	assert.Equal(t, entitlement.Date(2025, time.January, 2), got.End)

	_, ok = entitlement.Clip(span, entitlement.StartOfYear(2026), entitlement.EndOfYear(2026))
	assert.False(t, ok)
}

func TestDaysPerYear_SplitsAtYearEnd(t *testing.T) {
	cat := entitlement.LeaveCategory{WeekendRule: entitlement.RuleCalendar}
	span := entitlement.LeaveSpan{
		Start: entitlement.Date(2024, time.December, 30),
		End:   entitlement.Date(2025, time.January, 2),
	}

	got := entitlement.DaysPerYear(span, cat, nil)
	require.Len(t, got, 2)
	assert.True(t, got[2024].Equal(entitlement.Days(2)))
	assert.True(t, got[2025].Equal(entitlement.Days(2)))
}

func TestHolidayList_Recurring(t *testing.T) {
	list := entitlement.HolidayList{
		{Date: entitlement.Date(2000, time.December, 25), Name: "Christmas", Recurring: true},
		{Date: entitlement.Date(2025, time.May, 1), Name: "Labour Day"},
		{Date: entitlement.Date(2024, time.May, 1), Name: "Labour Day"},
	}

	got, err := list.HolidaysIn(context.Background(), 2025)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entitlement.Date(2025, time.December, 25), got[0].Date)
	assert.Equal(t, entitlement.Date(2025, time.May, 1), got[1].Date)
}

func TestHolidayList_LeapDayOnlyInLeapYears(t *testing.T) {
	// GIVEN: a recurring holiday on Feb 29
	list := entitlement.HolidayList{
		{Date: entitlement.Date(2024, time.February, 29), Name: "Leap Day", Recurring: true},
	}

	// WHEN: expanding a common year
	got, err := list.HolidaysIn(context.Background(), 2025)
	require.NoError(t, err)

	// THEN: it is skipped rather than moved to Mar 1
	assert.Empty(t, got)

	got, err = list.HolidaysIn(context.Background(), 2028)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entitlement.Date(2028, time.February, 29), got[0].Date)
}
