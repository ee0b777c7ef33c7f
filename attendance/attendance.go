/*
Package attendance records daily check-in and check-out.

PURPOSE:
  One record per employee per logical day. A double-tapped check-in from
  two devices must not create two records, so both operations run under
  the advisory lock keyed by (employee, date) and fail fast with a
  retryable conflict when the lock is busy.

STATE PER DAY:
  none ──check-in──▶ open ──check-out──▶ closed
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/approval-engine/directory"
	"github.com/warp/approval-engine/lock"
)

// DefaultLockWait is short: the caller is a person tapping a button.
const DefaultLockWait = 2 * time.Second

var (
	ErrRecordNotFound    = errors.New("attendance record not found")
	ErrAlreadyCheckedIn  = errors.New("already checked in today")
	ErrAlreadyCheckedOut = errors.New("already checked out today")
	ErrNotCheckedIn      = errors.New("not checked in today")
)

// IsClientError returns true for state conflicts the user caused.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAlreadyCheckedIn) ||
		errors.Is(err, ErrAlreadyCheckedOut) ||
		errors.Is(err, ErrNotCheckedIn)
}

// Record is one employee-day.
type Record struct {
	ID         string
	EmployeeID string
	Date       time.Time // logical day, midnight UTC
	CheckIn    time.Time
	CheckOut   *time.Time
}

// Open reports whether the employee has not checked out yet.
func (r Record) Open() bool { return r.CheckOut == nil }

// Worked is the time between check-in and check-out, zero while open.
func (r Record) Worked() time.Duration {
	if r.CheckOut == nil {
		return 0
	}
	return r.CheckOut.Sub(r.CheckIn)
}

// Store persists attendance records.
type Store interface {
	// RecordFor returns the record for (employee, date), or ErrRecordNotFound.
	RecordFor(ctx context.Context, employeeID string, date time.Time) (Record, error)
	CreateRecord(ctx context.Context, r Record) error
	CloseRecord(ctx context.Context, id string, at time.Time) error
	// RecordsBetween lists an employee's records with from <= date <= to.
	RecordsBetween(ctx context.Context, employeeID string, from, to time.Time) ([]Record, error)
}

type Service struct {
	Store     Store
	Locker    lock.Locker
	Employees directory.Employees
	Log       zerolog.Logger

	LockWait time.Duration
	// Location decides where a day starts. Defaults to UTC.
	Location *time.Location

	Now   func() time.Time
	NewID func() string
}

func NewService(store Store, locker lock.Locker, employees directory.Employees) *Service {
	return &Service{
		Store:     store,
		Locker:    locker,
		Employees: employees,
		Log:       zerolog.Nop(),
		LockWait:  DefaultLockWait,
		Location:  time.UTC,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

// CheckIn opens today's record for employeeID.
func (s *Service) CheckIn(ctx context.Context, employeeID string) (Record, error) {
	if _, err := s.Employees.Employee(ctx, employeeID); err != nil {
		return Record{}, err
	}
	now := s.Now()
	day := s.logicalDate(now)

	unlock, err := s.acquire(ctx, employeeID, day)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	existing, err := s.Store.RecordFor(ctx, employeeID, day)
	switch {
	case err == nil && existing.Open():
		return Record{}, ErrAlreadyCheckedIn
	case err == nil:
		return Record{}, ErrAlreadyCheckedOut
	case !errors.Is(err, ErrRecordNotFound):
		return Record{}, err
	}

	rec := Record{
		ID:         s.NewID(),
		EmployeeID: employeeID,
		Date:       day,
		CheckIn:    now,
	}
	if err := s.Store.CreateRecord(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("create attendance record: %w", err)
	}
	s.Log.Info().Str("employee_id", employeeID).Str("date", day.Format(time.DateOnly)).Msg("Checked in")
	return rec, nil
}

// CheckOut closes today's record for employeeID.
func (s *Service) CheckOut(ctx context.Context, employeeID string) (Record, error) {
	now := s.Now()
	day := s.logicalDate(now)

	unlock, err := s.acquire(ctx, employeeID, day)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	rec, err := s.Store.RecordFor(ctx, employeeID, day)
	if errors.Is(err, ErrRecordNotFound) {
		return Record{}, ErrNotCheckedIn
	}
	if err != nil {
		return Record{}, err
	}
	if !rec.Open() {
		return Record{}, ErrAlreadyCheckedOut
	}

	if err := s.Store.CloseRecord(ctx, rec.ID, now); err != nil {
		return Record{}, fmt.Errorf("close attendance record: %w", err)
	}
	rec.CheckOut = &now
	s.Log.Info().
		Str("employee_id", employeeID).
		Str("date", day.Format(time.DateOnly)).
		Dur("worked", rec.Worked()).
		Msg("Checked out")
	return rec, nil
}

// Today returns the current record for employeeID.
func (s *Service) Today(ctx context.Context, employeeID string) (Record, error) {
	return s.Store.RecordFor(ctx, employeeID, s.logicalDate(s.Now()))
}

// Between lists records in [from, to].
func (s *Service) Between(ctx context.Context, employeeID string, from, to time.Time) ([]Record, error) {
	return s.Store.RecordsBetween(ctx, employeeID, dateOf(from), dateOf(to))
}

func (s *Service) logicalDate(t time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return dateOf(t.In(loc))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) acquire(ctx context.Context, employeeID string, day time.Time) (lock.Unlock, error) {
	wait := s.LockWait
	if wait <= 0 {
		wait = DefaultLockWait
	}
	unlock, err := s.Locker.Acquire(ctx, lock.Key("attendance", employeeID, day.Format(time.DateOnly)), wait)
	if err != nil {
		return nil, fmt.Errorf("attendance %s: %w", employeeID, err)
	}
	return unlock, nil
}
