package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/entitlement"
)

// =============================================================================
// LEAVE CATEGORIES (entitlement.CategoryStore)
// =============================================================================

const categoryColumns = `id, code, name, paid, deduct_balance, half_day_allowed, weekend_rule,
	base_quota_days, prorate_on_join, prorate_on_resign, carryover_max_days,
	carryover_expiry_months, proof_required, defaults_json`

// SaveCategory inserts or replaces a leave category.
func (s *Store) SaveCategory(ctx context.Context, c entitlement.LeaveCategory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	defaults := c.Defaults
	if defaults == nil {
		defaults = map[string]string{}
	}
	defaultsJSON, err := json.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to encode category defaults: %w", err)
	}
	var expiry sql.NullInt64
	if c.CarryoverExpiryMonths != nil {
		expiry = sql.NullInt64{Int64: int64(*c.CarryoverExpiryMonths), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO leave_categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.Code, c.Name, c.Paid, c.DeductBalance, c.HalfDayAllowed, string(c.WeekendRule),
		nullDecimal(c.BaseQuotaDays), c.ProrateOnJoin, c.ProrateOnResign, nullDecimal(c.CarryoverMaxDays),
		expiry, c.ProofRequired, string(defaultsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (s *Store) Category(ctx context.Context, id string) (entitlement.LeaveCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+categoryColumns+" FROM leave_categories WHERE id = ?", id)
	if err != nil {
		return entitlement.LeaveCategory{}, fmt.Errorf("failed to query category: %w", err)
	}
	list, err := scanCategories(rows)
	if err != nil {
		return entitlement.LeaveCategory{}, err
	}
	if len(list) == 0 {
		return entitlement.LeaveCategory{}, fmt.Errorf("category %q: %w", id, entitlement.ErrCategoryNotFound)
	}
	return list[0], nil
}

func (s *Store) Categories(ctx context.Context) ([]entitlement.LeaveCategory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+categoryColumns+" FROM leave_categories ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	return scanCategories(rows)
}

func scanCategories(rows *sql.Rows) ([]entitlement.LeaveCategory, error) {
	defer rows.Close()

	var out []entitlement.LeaveCategory
	for rows.Next() {
		var (
			c                  entitlement.LeaveCategory
			rule, defaultsJSON string
			quota, carryMax    decimal.NullDecimal
			expiry             sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Paid, &c.DeductBalance, &c.HalfDayAllowed, &rule,
			&quota, &c.ProrateOnJoin, &c.ProrateOnResign, &carryMax,
			&expiry, &c.ProofRequired, &defaultsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.WeekendRule = entitlement.WeekendRule(rule)
		if quota.Valid {
			c.BaseQuotaDays = &quota.Decimal
		}
		if carryMax.Valid {
			c.CarryoverMaxDays = &carryMax.Decimal
		}
		if expiry.Valid {
			months := int(expiry.Int64)
			c.CarryoverExpiryMonths = &months
		}
		if err := json.Unmarshal([]byte(defaultsJSON), &c.Defaults); err != nil {
			return nil, fmt.Errorf("failed to decode category defaults: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// =============================================================================
// LEAVE ENTITLEMENTS (entitlement.Store)
// =============================================================================

const entitlementColumns = `id, employee_id, category_id, period, opening, accrual, consumed,
	carry_in, carry_out, closing, expires_at, computed_at`

func (s *Store) Entitlement(ctx context.Context, employeeID, categoryID, period string) (entitlement.LeaveEntitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadEntitlement(ctx, employeeID, categoryID, period)
}

func (s *Store) loadEntitlement(ctx context.Context, employeeID, categoryID, period string) (entitlement.LeaveEntitlement, error) {
	var (
		e          entitlement.LeaveEntitlement
		expiresAt  sql.NullString
		computedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT `+entitlementColumns+`
		FROM leave_entitlements
		WHERE employee_id = ? AND category_id = ? AND period = ?
	`, employeeID, categoryID, period).Scan(
		&e.ID, &e.EmployeeID, &e.CategoryID, &e.Period,
		&e.Opening, &e.Accrual, &e.Consumed, &e.CarryIn, &e.CarryOut, &e.Closing,
		&expiresAt, &computedAt,
	)
	if isNoRows(err) {
		return entitlement.LeaveEntitlement{}, entitlement.ErrEntitlementNotFound
	}
	if err != nil {
		return entitlement.LeaveEntitlement{}, fmt.Errorf("failed to load entitlement: %w", err)
	}
	if e.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return entitlement.LeaveEntitlement{}, err
	}
	if e.ComputedAt, err = parseTime(computedAt); err != nil {
		return entitlement.LeaveEntitlement{}, err
	}
	return e, nil
}

// UpsertEntitlement keys on (employee, category, period); an existing row
// keeps its id. Decimals are stored as their exact string form.
func (s *Store) UpsertEntitlement(ctx context.Context, e entitlement.LeaveEntitlement) (entitlement.LeaveEntitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_entitlements (`+entitlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, category_id, period) DO UPDATE SET
			opening = excluded.opening,
			accrual = excluded.accrual,
			consumed = excluded.consumed,
			carry_in = excluded.carry_in,
			carry_out = excluded.carry_out,
			closing = excluded.closing,
			expires_at = excluded.expires_at,
			computed_at = excluded.computed_at
	`,
		e.ID, e.EmployeeID, e.CategoryID, e.Period,
		e.Opening.String(), e.Accrual.String(), e.Consumed.String(),
		e.CarryIn.String(), e.CarryOut.String(), e.Closing.String(),
		nullTime(e.ExpiresAt), formatTime(e.ComputedAt),
	)
	if err != nil {
		return entitlement.LeaveEntitlement{}, fmt.Errorf("failed to upsert entitlement: %w", err)
	}
	return s.loadEntitlement(ctx, e.EmployeeID, e.CategoryID, e.Period)
}

// =============================================================================
// APPROVED LEAVE (entitlement.LeaveSource)
// =============================================================================

// ApprovedLeaves selects leave requests whose chain is finished and
// approved: a flow exists and none of its rows is pending or rejected.
func (s *Store) ApprovedLeaves(ctx context.Context, employeeID, categoryID string, from, to time.Time) ([]entitlement.LeaveSpan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kind := string(approval.KindLeaveRequest)
	rows, err := s.db.QueryContext(ctx, `
		SELECT lr.id, lr.start_date, lr.end_date, lr.half_day
		FROM leave_requests lr
		WHERE lr.employee_id = ? AND lr.category_id = ?
		  AND lr.end_date >= ? AND lr.start_date <= ?
		  AND EXISTS (
			SELECT 1 FROM approval_flows f WHERE f.kind = ? AND f.ref_id = lr.id
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM approvals a
			WHERE a.kind = ? AND a.ref_id = lr.id AND a.status IN ('pending', 'rejected')
		  )
		ORDER BY lr.start_date ASC, lr.id ASC
	`, employeeID, categoryID, formatDate(from), formatDate(to), kind, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query approved leave: %w", err)
	}
	defer rows.Close()

	var out []entitlement.LeaveSpan
	for rows.Next() {
		var sp entitlement.LeaveSpan
		var start, end string
		if err := rows.Scan(&sp.RequestID, &start, &end, &sp.HalfDay); err != nil {
			return nil, fmt.Errorf("failed to scan leave span: %w", err)
		}
		if sp.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if sp.End, err = parseDate(end); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// =============================================================================
// HOLIDAYS (entitlement.HolidayCalendar)
// =============================================================================

// SaveHoliday inserts or replaces a holiday.
func (s *Store) SaveHoliday(ctx context.Context, id string, h entitlement.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO holidays (id, date, name, recurring) VALUES (?, ?, ?, ?)",
		id, formatDate(h.Date), h.Name, h.Recurring)
	if err != nil {
		return fmt.Errorf("failed to save holiday: %w", err)
	}
	return nil
}

// HolidaysIn returns the holidays of year, with recurring entries moved
// into it.
func (s *Store) HolidaysIn(ctx context.Context, year int) ([]entitlement.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, name, recurring FROM holidays
		WHERE recurring OR substr(date, 1, 4) = ?
		ORDER BY date
	`, fmt.Sprintf("%04d", year))
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var list entitlement.HolidayList
	for rows.Next() {
		var h entitlement.Holiday
		var date string
		if err := rows.Scan(&date, &h.Name, &h.Recurring); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		if h.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list.HolidaysIn(ctx, year)
}

var (
	_ entitlement.CategoryStore   = (*Store)(nil)
	_ entitlement.Store           = (*Store)(nil)
	_ entitlement.LeaveSource     = (*Store)(nil)
	_ entitlement.HolidayCalendar = (*Store)(nil)
)
