package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/approval-engine/attendance"
)

// =============================================================================
// ATTENDANCE (attendance.Store)
// =============================================================================

const attendanceColumns = `id, employee_id, date, check_in, check_out`

// CreateRecord inserts a record. The (employee, date) unique index backs
// up the advisory lock: a duplicate maps to ErrAlreadyCheckedIn.
func (s *Store) CreateRecord(ctx context.Context, r attendance.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+attendanceColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.EmployeeID, formatDate(r.Date), formatTime(r.CheckIn), nullTime(r.CheckOut))
	if err != nil {
		if isUniqueConstraintError(err) {
			return attendance.ErrAlreadyCheckedIn
		}
		return fmt.Errorf("failed to create attendance record: %w", err)
	}
	return nil
}

func (s *Store) CloseRecord(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE attendance_records SET check_out = ? WHERE id = ?", formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to close attendance record: %w", err)
	}
	return mustAffect(res, attendance.ErrRecordNotFound)
}

func (s *Store) RecordFor(ctx context.Context, employeeID string, date time.Time) (attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance_records WHERE employee_id = ? AND date = ?
	`, employeeID, formatDate(date))
	if err != nil {
		return attendance.Record{}, fmt.Errorf("failed to query attendance: %w", err)
	}
	list, err := scanRecords(rows)
	if err != nil {
		return attendance.Record{}, err
	}
	if len(list) == 0 {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	return list[0], nil
}

func (s *Store) RecordsBetween(ctx context.Context, employeeID string, from, to time.Time) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendance_records
		WHERE employee_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, employeeID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]attendance.Record, error) {
	defer rows.Close()

	var out []attendance.Record
	for rows.Next() {
		var (
			r             attendance.Record
			date, checkIn string
			checkOut      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.EmployeeID, &date, &checkIn, &checkOut); err != nil {
			return nil, fmt.Errorf("failed to scan attendance record: %w", err)
		}
		var err error
		if r.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if r.CheckIn, err = parseTime(checkIn); err != nil {
			return nil, err
		}
		if r.CheckOut, err = parseNullTime(checkOut); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ attendance.Store = (*Store)(nil)
