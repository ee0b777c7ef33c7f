/*
Package entitlement computes yearly leave balances.

PURPOSE:
  A LeaveEntitlement is a cache of a pure computation over an employee's
  record, a LeaveCategory's rules and the approved leave taken in the
  year. RecalcYear recomputes it from source data and upserts the row,
  so calling it repeatedly never double-counts.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveCategory:    reference data (quota, proration, carryover, weekend rule)
  - LeaveEntitlement: one row per (employee, category, year)
  - LeaveSpan:        an approved leave range consumed against the balance

THE COMPUTATION:
  opening   = prior carry_out (capped), 0 once its expiry has passed
  accrual   = base quota, prorated by active months when configured
  consumed  = approved leave days in the year per the weekend rule
  closing   = max(0, opening + accrual - consumed)
  carry_out = min(closing, carryover cap)

  All quantities are decimal days; half days make 0.5 reachable.

SEE ALSO:
  - days.go:    day counting, weekend rule, holidays
  - accrual.go: proration and carryover
  - engine.go:  RecalcYear, Current, RecalcAll
*/
package entitlement

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEAVE CATEGORY
// =============================================================================

// WeekendRule decides which days of a leave span count against the balance.
type WeekendRule string

const (
	// RuleWorkdays excludes Saturdays, Sundays and calendar holidays.
	RuleWorkdays WeekendRule = "workdays"
	// RuleCalendar counts every day in the span.
	RuleCalendar WeekendRule = "calendar"
)

func (r WeekendRule) Valid() bool { return r == RuleWorkdays || r == RuleCalendar }

// LeaveCategory is admin-managed reference data.
type LeaveCategory struct {
	ID             string
	Code           string
	Name           string
	Paid           bool
	DeductBalance  bool
	HalfDayAllowed bool
	WeekendRule    WeekendRule

	// BaseQuotaDays is nil for unlimited or event-triggered categories.
	BaseQuotaDays   *decimal.Decimal
	ProrateOnJoin   bool
	ProrateOnResign bool

	// CarryoverMaxDays is nil when the carryover is uncapped.
	CarryoverMaxDays *decimal.Decimal
	// CarryoverExpiryMonths is nil when carried days never expire.
	CarryoverExpiryMonths *int

	ProofRequired bool

	// Defaults holds free-form per-category settings (e.g. special-reason day tables).
	Defaults map[string]string
}

// Tracked reports whether the category has a balance at all. Categories
// that neither deduct nor carry a quota get an unlimited placeholder.
func (c LeaveCategory) Tracked() bool {
	return c.DeductBalance || c.BaseQuotaDays != nil
}

// =============================================================================
// LEAVE ENTITLEMENT
// =============================================================================

// LeaveEntitlement is the computed balance for one (employee, category, year).
type LeaveEntitlement struct {
	ID         string
	EmployeeID string
	CategoryID string
	Period     string // the year, e.g. "2025"

	Opening  decimal.Decimal
	Accrual  decimal.Decimal
	Consumed decimal.Decimal
	CarryIn  decimal.Decimal
	CarryOut decimal.Decimal
	Closing  decimal.Decimal

	// ExpiresAt is when CarryOut is forfeited; nil means never.
	ExpiresAt *time.Time

	// Unlimited marks the placeholder for untracked categories. Never stored.
	Unlimited bool

	ComputedAt time.Time
}

// Covers reports whether days can be taken from this balance.
func (e LeaveEntitlement) Covers(days decimal.Decimal) bool {
	return e.Unlimited || !days.GreaterThan(e.Closing)
}

// PeriodOf formats a year as an entitlement period.
func PeriodOf(year int) string { return strconv.Itoa(year) }

// =============================================================================
// LEAVE SPANS
// =============================================================================

// LeaveSpan is one approved leave range, inclusive on both ends.
type LeaveSpan struct {
	RequestID string
	Start     time.Time
	End       time.Time
	HalfDay   bool
}

// Days builds a decimal day quantity.
func Days(n float64) decimal.Decimal { return decimal.NewFromFloat(n) }

// DaysPtr is Days for optional fields.
func DaysPtr(n float64) *decimal.Decimal {
	d := Days(n)
	return &d
}
