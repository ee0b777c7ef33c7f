package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/directory"
)

// =============================================================================
// ENGINE - LeaveEntitlement recalculation
// =============================================================================

// Engine recomputes LeaveEntitlement rows from source data. It never
// rejects anything: a balance that cannot cover a request shows up as a
// low closing value and the caller decides what to do with it.
type Engine struct {
	Categories   CategoryStore
	Entitlements Store
	Leaves       LeaveSource
	Employees    directory.Employees
	Holidays     HolidayCalendar // optional
	Observer     Observer        // optional
	Log          zerolog.Logger

	// StaleAfter is how long Current trusts a stored row. Zero means
	// always recompute.
	StaleAfter time.Duration

	// AnchorExpiryAtPeriodEnd starts the carryover expiry clock at the end
	// of the period instead of at computation time.
	AnchorExpiryAtPeriodEnd bool

	Now   func() time.Time
	NewID func() string
}

func NewEngine(categories CategoryStore, store Store, leaves LeaveSource, employees directory.Employees) *Engine {
	return &Engine{
		Categories:   categories,
		Entitlements: store,
		Leaves:       leaves,
		Employees:    employees,
		Log:          zerolog.Nop(),
		StaleAfter:   time.Hour,
		Now:          time.Now,
		NewID:        uuid.NewString,
	}
}

// RecalcYear recomputes and upserts the entitlement for (emp, cat, year).
// Untracked categories return an unlimited placeholder that is not stored.
func (e *Engine) RecalcYear(ctx context.Context, emp directory.Employee, cat LeaveCategory, year int) (LeaveEntitlement, error) {
	start := time.Now()
	ent, err := e.recalcYear(ctx, emp, cat, year)
	if e.Observer != nil {
		e.Observer.ObserveRecalc(cat.Code, time.Since(start), err)
	}
	if err != nil {
		e.Log.Error().Err(err).
			Str("employee_id", emp.ID).
			Str("category", cat.Code).
			Int("year", year).
			Msg("Entitlement recalculation failed")
	}
	return ent, err
}

func (e *Engine) recalcYear(ctx context.Context, emp directory.Employee, cat LeaveCategory, year int) (LeaveEntitlement, error) {
	if year < 1900 || year > 9999 {
		return LeaveEntitlement{}, fmt.Errorf("%d: %w", year, ErrInvalidYear)
	}
	now := e.Now()
	period := PeriodOf(year)

	if !cat.Tracked() {
		return LeaveEntitlement{
			EmployeeID: emp.ID,
			CategoryID: cat.ID,
			Period:     period,
			Unlimited:  true,
			ComputedAt: now,
		}, nil
	}

	// 1. Opening from the prior year's carry-out
	var prior *LeaveEntitlement
	p, err := e.Entitlements.Entitlement(ctx, emp.ID, cat.ID, PeriodOf(year-1))
	switch {
	case err == nil:
		prior = &p
	case !errors.Is(err, ErrEntitlementNotFound):
		return LeaveEntitlement{}, fmt.Errorf("prior entitlement: %w", err)
	}
	carryIn, opening := CarryIn(cat, prior, now)

	// 2. Accrual
	accrual := Accrual(cat, emp, year)

	// 3. Consumed
	consumed, err := e.consumed(ctx, emp.ID, cat, year)
	if err != nil {
		return LeaveEntitlement{}, err
	}

	// 4. Closing and carry-out
	closing := decimal.Max(opening.Add(accrual).Sub(consumed), decimal.Zero)
	carryOut := CapCarryover(cat, closing)

	// 5. Expiry. Once the year has ended the stored expiry is kept, so
	// recomputing a closed year cannot revive forfeited carryover.
	expiresAt := ExpiryAt(cat, year, now, e.AnchorExpiryAtPeriodEnd)
	if !now.Before(StartOfYear(year + 1)) {
		existing, err := e.Entitlements.Entitlement(ctx, emp.ID, cat.ID, period)
		switch {
		case err == nil && existing.ExpiresAt != nil && expiresAt != nil:
			expiresAt = existing.ExpiresAt
		case err != nil && !errors.Is(err, ErrEntitlementNotFound):
			return LeaveEntitlement{}, fmt.Errorf("stored entitlement: %w", err)
		}
	}

	ent := LeaveEntitlement{
		ID:         e.NewID(),
		EmployeeID: emp.ID,
		CategoryID: cat.ID,
		Period:     period,
		Opening:    opening,
		Accrual:    accrual,
		Consumed:   consumed,
		CarryIn:    carryIn,
		CarryOut:   carryOut,
		Closing:    closing,
		ExpiresAt:  expiresAt,
		ComputedAt: now,
	}

	stored, err := e.Entitlements.UpsertEntitlement(ctx, ent)
	if err != nil {
		return LeaveEntitlement{}, fmt.Errorf("upsert entitlement: %w", err)
	}

	e.Log.Debug().
		Str("employee_id", emp.ID).
		Str("category", cat.Code).
		Str("period", period).
		Str("opening", opening.String()).
		Str("accrual", accrual.String()).
		Str("consumed", consumed.String()).
		Str("closing", closing.String()).
		Msg("Entitlement recalculated")
	return stored, nil
}

func (e *Engine) consumed(ctx context.Context, employeeID string, cat LeaveCategory, year int) (decimal.Decimal, error) {
	from, to := StartOfYear(year), EndOfYear(year)
	spans, err := e.Leaves.ApprovedLeaves(ctx, employeeID, cat.ID, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("approved leaves: %w", err)
	}
	holidays, err := e.holidaySet(ctx, year)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, s := range spans {
		part, ok := Clip(s, from, to)
		if !ok {
			continue
		}
		total = total.Add(SpanDays(part, cat, holidays))
	}
	return total, nil
}

func (e *Engine) holidaySet(ctx context.Context, year int) (DateSet, error) {
	if e.Holidays == nil {
		return nil, nil
	}
	hs, err := e.Holidays.HolidaysIn(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("holidays %d: %w", year, err)
	}
	return NewDateSet(hs), nil
}

// RecalcYearByID loads the employee and category and recalculates.
func (e *Engine) RecalcYearByID(ctx context.Context, employeeID, categoryID string, year int) (LeaveEntitlement, error) {
	emp, err := e.Employees.Employee(ctx, employeeID)
	if err != nil {
		return LeaveEntitlement{}, err
	}
	cat, err := e.Categories.Category(ctx, categoryID)
	if err != nil {
		return LeaveEntitlement{}, err
	}
	return e.RecalcYear(ctx, emp, cat, year)
}

// Current returns the entitlement for (employee, category, year), reusing
// the stored row while it is younger than StaleAfter.
func (e *Engine) Current(ctx context.Context, employeeID, categoryID string, year int) (LeaveEntitlement, error) {
	cat, err := e.Categories.Category(ctx, categoryID)
	if err != nil {
		return LeaveEntitlement{}, err
	}
	if cat.Tracked() && e.StaleAfter > 0 {
		stored, err := e.Entitlements.Entitlement(ctx, employeeID, categoryID, PeriodOf(year))
		switch {
		case err == nil:
			if e.Now().Sub(stored.ComputedAt) < e.StaleAfter {
				return stored, nil
			}
		case !errors.Is(err, ErrEntitlementNotFound):
			return LeaveEntitlement{}, err
		}
	}
	emp, err := e.Employees.Employee(ctx, employeeID)
	if err != nil {
		return LeaveEntitlement{}, err
	}
	return e.RecalcYear(ctx, emp, cat, year)
}

// RecalcAll recomputes year for every employee active in it and every
// tracked category. Failures are logged and joined; the pass continues.
func (e *Engine) RecalcAll(ctx context.Context, year int) (int, error) {
	emps, err := e.Employees.ListEmployees(ctx)
	if err != nil {
		return 0, err
	}
	cats, err := e.Categories.Categories(ctx)
	if err != nil {
		return 0, err
	}

	var (
		n    int
		errs []error
	)
	for _, emp := range emps {
		if !emp.ActiveIn(year) {
			continue
		}
		for _, cat := range cats {
			if !cat.Tracked() {
				continue
			}
			if err := ctx.Err(); err != nil {
				return n, err
			}
			if _, err := e.RecalcYear(ctx, emp, cat, year); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", emp.ID, cat.Code, err))
				continue
			}
			n++
		}
	}
	return n, errors.Join(errs...)
}

// RequestedDays prices span against cat, split by calendar year so each
// year's balance can be checked separately.
func (e *Engine) RequestedDays(ctx context.Context, cat LeaveCategory, span LeaveSpan) (map[int]decimal.Decimal, error) {
	if DateOf(span.End).Before(DateOf(span.Start)) {
		return nil, ErrInvalidSpan
	}
	sets := make(map[int]DateSet)
	for y := span.Start.Year(); y <= span.End.Year(); y++ {
		hs, err := e.holidaySet(ctx, y)
		if err != nil {
			return nil, err
		}
		sets[y] = hs
	}
	return DaysPerYear(span, cat, func(y int) DateSet { return sets[y] }), nil
}
