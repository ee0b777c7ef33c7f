/*
Package requests holds the request types that go through an approval chain
and the submission policy wrapped around them.

PURPOSE:
  LeaveRequest, Overtime and EmployeeHistory are the approvables. Each
  implements approval.Approvable through a tagged Ref; none stores its own
  approval status. The Service validates input, checks leave balances,
  creates the row and its flow, refuses edits after the chain is decided,
  and keeps entitlements current when leave is approved or deleted.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveRequest:    dates, category, half-day flag, day cost
  - Overtime:        date, clock range, hours
  - EmployeeHistory: transfer / mutation / rotation between units
*/
package requests

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/entitlement"
)

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID         string
	EmployeeID string
	CategoryID string
	Start      time.Time
	End        time.Time
	HalfDay    bool
	Reason     string
	ProofURL   string

	// Days is the balance cost at submission, per the category's rules.
	Days decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r LeaveRequest) ApprovableRef() approval.Ref {
	return approval.Ref{Kind: approval.KindLeaveRequest, ID: r.ID}
}

func (r LeaveRequest) RequesterID() string { return r.EmployeeID }

// Span is the request as a consumable leave range.
func (r LeaveRequest) Span() entitlement.LeaveSpan {
	return entitlement.LeaveSpan{RequestID: r.ID, Start: r.Start, End: r.End, HalfDay: r.HalfDay}
}

// Years lists the calendar years the request touches.
func (r LeaveRequest) Years() []int {
	var ys []int
	for y := r.Start.Year(); y <= r.End.Year(); y++ {
		ys = append(ys, y)
	}
	return ys
}

// =============================================================================
// OVERTIME
// =============================================================================

type Overtime struct {
	ID         string
	EmployeeID string
	Date       time.Time
	StartsAt   time.Time
	EndsAt     time.Time
	Hours      decimal.Decimal
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (o Overtime) ApprovableRef() approval.Ref {
	return approval.Ref{Kind: approval.KindOvertime, ID: o.ID}
}

func (o Overtime) RequesterID() string { return o.EmployeeID }

// =============================================================================
// EMPLOYEE HISTORY
// =============================================================================

// HistoryKind is the kind of organisational move.
type HistoryKind string

const (
	HistoryTransfer HistoryKind = "transfer"
	HistoryMutation HistoryKind = "mutation"
	HistoryRotation HistoryKind = "rotation"
)

func (k HistoryKind) Valid() bool {
	return k == HistoryTransfer || k == HistoryMutation || k == HistoryRotation
}

type EmployeeHistory struct {
	ID            string
	EmployeeID    string
	Kind          HistoryKind
	EffectiveDate time.Time
	FromUnit      string
	ToUnit        string
	FromPosition  string
	ToPosition    string
	Note          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (h EmployeeHistory) ApprovableRef() approval.Ref {
	return approval.Ref{Kind: approval.KindEmployeeHistory, ID: h.ID}
}

func (h EmployeeHistory) RequesterID() string { return h.EmployeeID }

var (
	_ approval.Approvable = LeaveRequest{}
	_ approval.Approvable = Overtime{}
	_ approval.Approvable = EmployeeHistory{}
)
