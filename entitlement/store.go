package entitlement

import (
	"context"
	"time"
)

// CategoryStore reads leave categories.
type CategoryStore interface {
	Category(ctx context.Context, id string) (LeaveCategory, error)
	Categories(ctx context.Context) ([]LeaveCategory, error)
}

// Store persists computed entitlements.
type Store interface {
	// Entitlement returns the row for (employee, category, period), or
	// ErrEntitlementNotFound.
	Entitlement(ctx context.Context, employeeID, categoryID, period string) (LeaveEntitlement, error)

	// UpsertEntitlement inserts or overwrites the row keyed by
	// (employee, category, period) and returns it as stored. An existing
	// row keeps its ID. Last writer wins.
	UpsertEntitlement(ctx context.Context, e LeaveEntitlement) (LeaveEntitlement, error)
}

// LeaveSource reads the approved leave consumed against a category.
type LeaveSource interface {
	// ApprovedLeaves returns spans of approved leave for the employee and
	// category that overlap [from, to].
	ApprovedLeaves(ctx context.Context, employeeID, categoryID string, from, to time.Time) ([]LeaveSpan, error)
}

// HolidayCalendar lists holidays excluded from workday counting.
type HolidayCalendar interface {
	HolidaysIn(ctx context.Context, year int) ([]Holiday, error)
}

// Observer is notified after every recalculation.
type Observer interface {
	ObserveRecalc(categoryCode string, took time.Duration, err error)
}
