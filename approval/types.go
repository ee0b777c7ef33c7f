/*
Package approval implements the layered approval workflow shared by every
request type that needs sign-off (leave requests, overtime, transfers).

PURPOSE:
  An Approvable owns an ordered chain of Approval rows, one per level.
  Which approver sits at each level is configured per ApprovableType as
  an ApproverLayer. The Engine materialises level 1 when the flow is
  created and each following level only when the previous one is
  approved.

KEY CONCEPTS IN THIS FILE (types.go):
  - Kind / Ref:      tagged reference to any approvable (no reflection)
  - ApprovableType:  registry row mapping a Kind to its layer configuration
  - ApproverSpec:    what a layer asks for (role, fixed user, approval line)
  - Approver:        what a row actually stores (role or user, concrete)
  - Approval:        one row per (approvable, level)
  - Flow:            the requester context captured once at creation

STATUS IS DERIVED:
  An approvable's status is never stored. It is recomputed from its Flow
  and Approval rows on every read (see DeriveStatus).

SEE ALSO:
  - resolver.go: ApproverSpec -> Approver
  - engine.go:   flow creation and decisions
  - status.go:   derived status
*/
package approval

import (
	"time"
)

// =============================================================================
// APPROVABLE REFERENCES
// =============================================================================

// Kind identifies a supported approvable entity type.
type Kind string

const (
	KindLeaveRequest    Kind = "leave_request"
	KindOvertime        Kind = "overtime"
	KindEmployeeHistory Kind = "employee_history"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindLeaveRequest, KindOvertime, KindEmployeeHistory}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Ref is a tagged reference to one approvable.
type Ref struct {
	Kind Kind
	ID   string
}

func (r Ref) String() string { return string(r.Kind) + ":" + r.ID }

// =============================================================================
// CONFIGURATION
// =============================================================================

// ApprovableType is the registry entry for one approvable kind.
type ApprovableType struct {
	ID     string
	Name   string
	Kind   Kind
	Active bool
}

// ApproverKind tags both layer specifications and resolved approvers.
type ApproverKind string

const (
	ApproverRole         ApproverKind = "role"
	ApproverUser         ApproverKind = "user"
	ApproverApprovalLine ApproverKind = "approval_line"
)

// ApproverSpec is the configured approver for a layer: Role(role_id),
// FixedUser(user_id) or ApprovalLine.
type ApproverSpec struct {
	Kind   ApproverKind
	RoleID string
	UserID string
}

func RoleSpec(roleID string) ApproverSpec { return ApproverSpec{Kind: ApproverRole, RoleID: roleID} }
func UserSpec(userID string) ApproverSpec { return ApproverSpec{Kind: ApproverUser, UserID: userID} }
func ApprovalLineSpec() ApproverSpec      { return ApproverSpec{Kind: ApproverApprovalLine} }

// ApproverLayer configures the approver for one level of one type.
// Unique per (TypeID, Level).
type ApproverLayer struct {
	ID       string
	TypeID   string
	Level    int
	Approver ApproverSpec
}

// =============================================================================
// CHAIN
// =============================================================================

// Approver is the concrete approver stored on an Approval row. Kind is
// either ApproverRole (any current holder may decide) or ApproverUser.
type Approver struct {
	Kind ApproverKind
	ID   string
}

func (a Approver) String() string { return string(a.Kind) + ":" + a.ID }

// Status is the state of one Approval row and the derived state of an approvable.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusApproved || s == StatusRejected }

// Approval is one level of an approvable's chain.
type Approval struct {
	ID        string
	Ref       Ref
	Level     int
	Approver  Approver
	Status    Status
	DecidedAt *time.Time
	DecidedBy string
	Note      string
	CreatedAt time.Time
}

// Pending reports whether the row still awaits a decision.
func (a Approval) Pending() bool { return a.Status == StatusPending }

// Flow records that a chain was started for an approvable, and the
// requester context every level is resolved against.
type Flow struct {
	Ref         Ref
	TypeID      string
	RequesterID string
	CreatedAt   time.Time
}

// Decision is the verdict submitted for a pending level.
type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

func (d Decision) Valid() bool { return d == Approve || d == Reject }

// DecisionRecord is what the store persists for a decided row.
type DecisionRecord struct {
	ApprovalID string
	Status     Status
	DecidedBy  string
	DecidedAt  time.Time
	Note       string
}
