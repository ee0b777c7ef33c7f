package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/approval-engine/requests"
)

// =============================================================================
// LEAVE REQUESTS (requests.LeaveStore)
// =============================================================================

const leaveColumns = `id, employee_id, category_id, start_date, end_date, half_day,
	reason, proof_url, days, created_at, updated_at`

func (s *Store) CreateLeaveRequest(ctx context.Context, r requests.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_requests (`+leaveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EmployeeID, r.CategoryID, formatDate(r.Start), formatDate(r.End), r.HalfDay,
		r.Reason, r.ProofURL, r.Days.String(), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create leave request: %w", err)
	}
	return nil
}

func (s *Store) LeaveRequest(ctx context.Context, id string) (requests.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+leaveColumns+" FROM leave_requests WHERE id = ?", id)
	if err != nil {
		return requests.LeaveRequest{}, fmt.Errorf("failed to query leave request: %w", err)
	}
	list, err := scanLeaveRequests(rows)
	if err != nil {
		return requests.LeaveRequest{}, err
	}
	if len(list) == 0 {
		return requests.LeaveRequest{}, requests.ErrRequestNotFound
	}
	return list[0], nil
}

func (s *Store) UpdateLeaveRequest(ctx context.Context, r requests.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_requests
		SET category_id = ?, start_date = ?, end_date = ?, half_day = ?,
		    reason = ?, proof_url = ?, days = ?, updated_at = ?
		WHERE id = ?
	`,
		r.CategoryID, formatDate(r.Start), formatDate(r.End), r.HalfDay,
		r.Reason, r.ProofURL, r.Days.String(), formatTime(r.UpdatedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave request: %w", err)
	}
	return mustAffect(res, requests.ErrRequestNotFound)
}

func (s *Store) DeleteLeaveRequest(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "leave_requests", id)
}

func (s *Store) LeaveRequestsFor(ctx context.Context, employeeID, categoryID string) ([]requests.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+leaveColumns+`
		FROM leave_requests
		WHERE employee_id = ? AND category_id = ?
		ORDER BY start_date ASC, id ASC
	`, employeeID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave requests: %w", err)
	}
	return scanLeaveRequests(rows)
}

func scanLeaveRequests(rows *sql.Rows) ([]requests.LeaveRequest, error) {
	defer rows.Close()

	var out []requests.LeaveRequest
	for rows.Next() {
		var (
			r                requests.LeaveRequest
			start, end       string
			created, updated string
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &r.CategoryID, &start, &end, &r.HalfDay,
			&r.Reason, &r.ProofURL, &r.Days, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan leave request: %w", err)
		}
		var err error
		if r.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if r.End, err = parseDate(end); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// OVERTIME (requests.OvertimeStore)
// =============================================================================

func (s *Store) CreateOvertime(ctx context.Context, o requests.Overtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO overtimes (id, employee_id, date, starts_at, ends_at, hours, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.EmployeeID, formatDate(o.Date), formatTime(o.StartsAt), formatTime(o.EndsAt),
		o.Hours.String(), o.Reason, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create overtime: %w", err)
	}
	return nil
}

func (s *Store) Overtime(ctx context.Context, id string) (requests.Overtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		o                                    requests.Overtime
		date, startsAt, endsAt, created, upd string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, date, starts_at, ends_at, hours, reason, created_at, updated_at
		FROM overtimes WHERE id = ?
	`, id).Scan(&o.ID, &o.EmployeeID, &date, &startsAt, &endsAt, &o.Hours, &o.Reason, &created, &upd)
	if isNoRows(err) {
		return requests.Overtime{}, requests.ErrRequestNotFound
	}
	if err != nil {
		return requests.Overtime{}, fmt.Errorf("failed to load overtime: %w", err)
	}
	if o.Date, err = parseDate(date); err != nil {
		return requests.Overtime{}, err
	}
	if o.StartsAt, err = parseTime(startsAt); err != nil {
		return requests.Overtime{}, err
	}
	if o.EndsAt, err = parseTime(endsAt); err != nil {
		return requests.Overtime{}, err
	}
	if o.CreatedAt, err = parseTime(created); err != nil {
		return requests.Overtime{}, err
	}
	if o.UpdatedAt, err = parseTime(upd); err != nil {
		return requests.Overtime{}, err
	}
	return o, nil
}

func (s *Store) DeleteOvertime(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "overtimes", id)
}

// =============================================================================
// EMPLOYEE HISTORY (requests.HistoryStore)
// =============================================================================

func (s *Store) CreateHistory(ctx context.Context, h requests.EmployeeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employee_histories
		(id, employee_id, kind, effective_date, from_unit, to_unit, from_position, to_position, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.ID, h.EmployeeID, string(h.Kind), formatDate(h.EffectiveDate),
		h.FromUnit, h.ToUnit, h.FromPosition, h.ToPosition, h.Note,
		formatTime(h.CreatedAt), formatTime(h.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create employee history: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, id string) (requests.EmployeeHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		h                             requests.EmployeeHistory
		kind, effective, created, upd string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, kind, effective_date, from_unit, to_unit, from_position, to_position, note, created_at, updated_at
		FROM employee_histories WHERE id = ?
	`, id).Scan(&h.ID, &h.EmployeeID, &kind, &effective, &h.FromUnit, &h.ToUnit,
		&h.FromPosition, &h.ToPosition, &h.Note, &created, &upd)
	if isNoRows(err) {
		return requests.EmployeeHistory{}, requests.ErrRequestNotFound
	}
	if err != nil {
		return requests.EmployeeHistory{}, fmt.Errorf("failed to load employee history: %w", err)
	}
	h.Kind = requests.HistoryKind(kind)
	if h.EffectiveDate, err = parseDate(effective); err != nil {
		return requests.EmployeeHistory{}, err
	}
	if h.CreatedAt, err = parseTime(created); err != nil {
		return requests.EmployeeHistory{}, err
	}
	if h.UpdatedAt, err = parseTime(upd); err != nil {
		return requests.EmployeeHistory{}, err
	}
	return h, nil
}

func (s *Store) DeleteHistory(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "employee_histories", id)
}

// deleteByID removes one row if present; table is always a constant from
// this file.
func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

var _ requests.Store = (*Store)(nil)
