package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/approval-engine/directory"
)

// =============================================================================
// EMPLOYEES (directory.Employees)
// =============================================================================

const employeeColumns = `id, code, name, user_id, supervisor_code, join_date, resign_date`

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, e directory.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			user_id = excluded.user_id,
			supervisor_code = excluded.supervisor_code,
			join_date = excluded.join_date,
			resign_date = excluded.resign_date
	`, e.ID, e.Code, e.Name, e.UserID, e.SupervisorCode, nullDate(e.JoinDate), nullDate(e.ResignDate))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) Employee(ctx context.Context, id string) (directory.Employee, error) {
	return s.queryEmployee(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
}

func (s *Store) EmployeeByCode(ctx context.Context, code string) (directory.Employee, error) {
	return s.queryEmployee(ctx, "SELECT "+employeeColumns+" FROM employees WHERE code = ?", code)
}

func (s *Store) ListEmployees(ctx context.Context) ([]directory.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	return scanEmployees(rows)
}

func (s *Store) queryEmployee(ctx context.Context, query string, arg string) (directory.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return directory.Employee{}, fmt.Errorf("failed to query employee: %w", err)
	}
	list, err := scanEmployees(rows)
	if err != nil {
		return directory.Employee{}, err
	}
	if len(list) == 0 {
		return directory.Employee{}, directory.ErrEmployeeNotFound
	}
	return list[0], nil
}

func scanEmployees(rows *sql.Rows) ([]directory.Employee, error) {
	defer rows.Close()

	var out []directory.Employee
	for rows.Next() {
		var e directory.Employee
		var join, resign sql.NullString
		if err := rows.Scan(&e.ID, &e.Code, &e.Name, &e.UserID, &e.SupervisorCode, &join, &resign); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		var err error
		if e.JoinDate, err = parseNullDate(join); err != nil {
			return nil, err
		}
		if e.ResignDate, err = parseNullDate(resign); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// ROLES (directory.Roles)
// =============================================================================

// GrantRole adds userID to roleID. Granting twice is a no-op.
func (s *Store) GrantRole(ctx context.Context, roleID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_roles (role_id, user_id) VALUES (?, ?)", roleID, userID)
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

// RevokeRole removes userID from roleID.
func (s *Store) RevokeRole(ctx context.Context, roleID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE role_id = ? AND user_id = ?", roleID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

func (s *Store) UsersWithRole(ctx context.Context, roleID string) ([]string, error) {
	return s.queryStrings(ctx, "SELECT user_id FROM user_roles WHERE role_id = ? ORDER BY user_id", roleID)
}

func (s *Store) RolesOfUser(ctx context.Context, userID string) ([]string, error) {
	return s.queryStrings(ctx, "SELECT role_id FROM user_roles WHERE user_id = ? ORDER BY role_id", userID)
}

func (s *Store) UserHasRole(ctx context.Context, userID, roleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_roles WHERE role_id = ? AND user_id = ?", roleID, userID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var (
	_ directory.Employees = (*Store)(nil)
	_ directory.Roles     = (*Store)(nil)
)
