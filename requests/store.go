package requests

import "context"

// LeaveStore persists leave requests.
type LeaveStore interface {
	CreateLeaveRequest(ctx context.Context, r LeaveRequest) error
	LeaveRequest(ctx context.Context, id string) (LeaveRequest, error)
	UpdateLeaveRequest(ctx context.Context, r LeaveRequest) error
	DeleteLeaveRequest(ctx context.Context, id string) error

	// LeaveRequestsFor lists an employee's requests in a category, by start date.
	LeaveRequestsFor(ctx context.Context, employeeID, categoryID string) ([]LeaveRequest, error)
}

// OvertimeStore persists overtime requests.
type OvertimeStore interface {
	CreateOvertime(ctx context.Context, o Overtime) error
	Overtime(ctx context.Context, id string) (Overtime, error)
	DeleteOvertime(ctx context.Context, id string) error
}

// HistoryStore persists employee history entries.
type HistoryStore interface {
	CreateHistory(ctx context.Context, h EmployeeHistory) error
	History(ctx context.Context, id string) (EmployeeHistory, error)
	DeleteHistory(ctx context.Context, id string) error
}

// Store is every request repository. Lookups miss with ErrRequestNotFound.
type Store interface {
	LeaveStore
	OvertimeStore
	HistoryStore
}
