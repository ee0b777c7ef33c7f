package entitlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/directory"
)

var twelve = decimal.NewFromInt(12)

// ActiveMonths counts the months of year the employee accrues for. The join
// month and the resign month both count. Join and resign dates only shorten
// the range when the category prorates on them.
func ActiveMonths(cat LeaveCategory, emp directory.Employee, year int) int {
	if !emp.ActiveIn(year) {
		return 0
	}
	first, last := time.January, time.December
	if cat.ProrateOnJoin && emp.JoinDate != nil && emp.JoinDate.Year() == year {
		first = emp.JoinDate.Month()
	}
	if cat.ProrateOnResign && emp.ResignDate != nil && emp.ResignDate.Year() == year {
		last = emp.ResignDate.Month()
	}
	if last < first {
		return 0
	}
	return int(last-first) + 1
}

// Accrual is the quota earned in year. Prorated quotas are floored to whole
// days; a full year earns the configured quota unchanged. A tracked category
// without a quota accrues nothing.
func Accrual(cat LeaveCategory, emp directory.Employee, year int) decimal.Decimal {
	if cat.BaseQuotaDays == nil {
		return decimal.Zero
	}
	months := ActiveMonths(cat, emp, year)
	switch {
	case months >= 12:
		return *cat.BaseQuotaDays
	case months <= 0:
		return decimal.Zero
	}
	return cat.BaseQuotaDays.Mul(decimal.NewFromInt(int64(months))).Div(twelve).Floor()
}

// CapCarryover applies the category's carryover cap.
func CapCarryover(cat LeaveCategory, days decimal.Decimal) decimal.Decimal {
	if cat.CarryoverMaxDays != nil && days.GreaterThan(*cat.CarryoverMaxDays) {
		return *cat.CarryoverMaxDays
	}
	return days
}

// CarryIn derives this year's carry-in and opening from the prior year's
// row. opening is zero once prior.ExpiresAt has passed at now.
func CarryIn(cat LeaveCategory, prior *LeaveEntitlement, now time.Time) (carryIn, opening decimal.Decimal) {
	if prior == nil || prior.Unlimited {
		return decimal.Zero, decimal.Zero
	}
	carryIn = CapCarryover(cat, decimal.Max(prior.CarryOut, decimal.Zero))
	if prior.ExpiresAt != nil && !now.Before(*prior.ExpiresAt) {
		return carryIn, decimal.Zero
	}
	return carryIn, carryIn
}

// ExpiryAt returns when a carry-out computed at now is forfeited, or nil
// when the category never expires carryover. With anchorPeriodEnd the clock
// starts at the end of year instead of now.
func ExpiryAt(cat LeaveCategory, year int, now time.Time, anchorPeriodEnd bool) *time.Time {
	if cat.CarryoverExpiryMonths == nil {
		return nil
	}
	from := now
	if anchorPeriodEnd {
		from = StartOfYear(year + 1)
	}
	at := from.AddDate(0, *cat.CarryoverExpiryMonths, 0)
	return &at
}
