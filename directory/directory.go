/*
Package directory describes the people the approval and entitlement engines
reason about: employees, the user accounts linked to them, and role
membership.

PURPOSE:
  The engines never own employee or role data. They read it through the
  small lookup interfaces below, which the relational store and the
  in-memory Directory both implement.

KEY CONCEPTS:
  - Employee: HR record with a unique Code, an optional SupervisorCode
    (the "approval line") and employment dates.
  - User: login account; an employee may be linked to one.
  - Role: named permission group; approvers may be addressed by role.
*/
package directory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmployeeNotFound is returned when an employee lookup misses.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("user not found")
)

// Employee is the slice of the employee record the core consumes.
type Employee struct {
	ID             string
	Code           string
	Name           string
	UserID         string // linked login account, empty when none
	SupervisorCode string // Code of the direct supervisor, empty at top of chain
	JoinDate       *time.Time
	ResignDate     *time.Time
}

// HasSupervisor reports whether an approval line is configured.
func (e Employee) HasSupervisor() bool { return e.SupervisorCode != "" }

// ActiveIn reports whether the employee was employed at any point of the year.
func (e Employee) ActiveIn(year int) bool {
	if e.JoinDate != nil && e.JoinDate.Year() > year {
		return false
	}
	if e.ResignDate != nil && e.ResignDate.Year() < year {
		return false
	}
	return true
}

// Employees resolves employee records.
type Employees interface {
	Employee(ctx context.Context, id string) (Employee, error)
	EmployeeByCode(ctx context.Context, code string) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// Roles resolves role membership.
type Roles interface {
	UsersWithRole(ctx context.Context, roleID string) ([]string, error)
	UserHasRole(ctx context.Context, userID, roleID string) (bool, error)
	RolesOfUser(ctx context.Context, userID string) ([]string, error)
}
