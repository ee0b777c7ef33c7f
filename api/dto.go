/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar days travel as "2006-01-02"; instants as RFC 3339. Day
  quantities are decimals encoded as JSON strings ("0.5").

VALIDATION:
  Validation is done in handlers and services, not in DTOs. DTOs are pure
  data carriers.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/attendance"
	"github.com/warp/approval-engine/entitlement"
	"github.com/warp/approval-engine/requests"
)

const dateLayout = "2006-01-02"

// =============================================================================
// APPROVALS
// =============================================================================

// ApprovalDTO is one level of a chain.
type ApprovalDTO struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	ApprovableID string     `json:"approvable_id"`
	Level        int        `json:"level"`
	ApproverKind string     `json:"approver_kind"`
	ApproverID   string     `json:"approver_id"`
	Status       string     `json:"status"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	Note         string     `json:"note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ChainDTO is an approvable's derived status and its rows.
type ChainDTO struct {
	Kind      string        `json:"kind"`
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Approvals []ApprovalDTO `json:"approvals"`
}

// FlowDTO describes a freshly started chain.
type FlowDTO struct {
	Status string       `json:"status"`
	First  *ApprovalDTO `json:"first,omitempty"`
}

// DecisionRequest is the body of approve/reject.
type DecisionRequest struct {
	Note string `json:"note"`
}

// DecisionDTO is the chain state after a decision.
type DecisionDTO struct {
	Decided  ApprovalDTO  `json:"decided"`
	Next     *ApprovalDTO `json:"next,omitempty"`
	Status   string       `json:"status"`
	Finished bool         `json:"finished"`
}

func toApprovalDTO(a approval.Approval) ApprovalDTO {
	return ApprovalDTO{
		ID:           a.ID,
		Kind:         string(a.Ref.Kind),
		ApprovableID: a.Ref.ID,
		Level:        a.Level,
		ApproverKind: string(a.Approver.Kind),
		ApproverID:   a.Approver.ID,
		Status:       string(a.Status),
		DecidedAt:    a.DecidedAt,
		DecidedBy:    a.DecidedBy,
		Note:         a.Note,
		CreatedAt:    a.CreatedAt,
	}
}

func toApprovalDTOs(rows []approval.Approval) []ApprovalDTO {
	out := make([]ApprovalDTO, len(rows))
	for i, a := range rows {
		out[i] = toApprovalDTO(a)
	}
	return out
}

func optionalApprovalDTO(a *approval.Approval) *ApprovalDTO {
	if a == nil {
		return nil
	}
	dto := toApprovalDTO(*a)
	return &dto
}

func toFlowDTO(f *approval.FlowResult) FlowDTO {
	return FlowDTO{Status: string(f.Status), First: optionalApprovalDTO(f.First)}
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// SubmitLeaveRequest is the body of leave submission and edit.
type SubmitLeaveRequest struct {
	EmployeeID string `json:"employee_id"`
	CategoryID string `json:"category_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	HalfDay    bool   `json:"half_day"`
	Reason     string `json:"reason"`
	ProofURL   string `json:"proof_url"`
}

type LeaveRequestDTO struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	CategoryID string          `json:"category_id"`
	StartDate  string          `json:"start_date"`
	EndDate    string          `json:"end_date"`
	HalfDay    bool            `json:"half_day"`
	Reason     string          `json:"reason,omitempty"`
	ProofURL   string          `json:"proof_url,omitempty"`
	Days       decimal.Decimal `json:"days"`
	Status     string          `json:"status,omitempty"`
	Flow       *FlowDTO        `json:"flow,omitempty"`
}

func toLeaveRequestDTO(r requests.LeaveRequest) LeaveRequestDTO {
	return LeaveRequestDTO{
		ID:         r.ID,
		EmployeeID: r.EmployeeID,
		CategoryID: r.CategoryID,
		StartDate:  r.Start.Format(dateLayout),
		EndDate:    r.End.Format(dateLayout),
		HalfDay:    r.HalfDay,
		Reason:     r.Reason,
		ProofURL:   r.ProofURL,
		Days:       r.Days,
	}
}

// =============================================================================
// OVERTIME AND EMPLOYEE HISTORY
// =============================================================================

type SubmitOvertimeRequest struct {
	EmployeeID string    `json:"employee_id"`
	Date       string    `json:"date"`
	StartsAt   time.Time `json:"starts_at"`
	EndsAt     time.Time `json:"ends_at"`
	Reason     string    `json:"reason"`
}

type OvertimeDTO struct {
	ID         string          `json:"id"`
	EmployeeID string          `json:"employee_id"`
	Date       string          `json:"date"`
	StartsAt   time.Time       `json:"starts_at"`
	EndsAt     time.Time       `json:"ends_at"`
	Hours      decimal.Decimal `json:"hours"`
	Reason     string          `json:"reason,omitempty"`
	Flow       *FlowDTO        `json:"flow,omitempty"`
}

func toOvertimeDTO(o requests.Overtime) OvertimeDTO {
	return OvertimeDTO{
		ID:         o.ID,
		EmployeeID: o.EmployeeID,
		Date:       o.Date.Format(dateLayout),
		StartsAt:   o.StartsAt,
		EndsAt:     o.EndsAt,
		Hours:      o.Hours,
		Reason:     o.Reason,
	}
}

type SubmitHistoryRequest struct {
	EmployeeID    string `json:"employee_id"`
	Kind          string `json:"kind"`
	EffectiveDate string `json:"effective_date"`
	FromUnit      string `json:"from_unit"`
	ToUnit        string `json:"to_unit"`
	FromPosition  string `json:"from_position"`
	ToPosition    string `json:"to_position"`
	Note          string `json:"note"`
}

type HistoryDTO struct {
	ID            string   `json:"id"`
	EmployeeID    string   `json:"employee_id"`
	Kind          string   `json:"kind"`
	EffectiveDate string   `json:"effective_date"`
	FromUnit      string   `json:"from_unit,omitempty"`
	ToUnit        string   `json:"to_unit"`
	FromPosition  string   `json:"from_position,omitempty"`
	ToPosition    string   `json:"to_position,omitempty"`
	Note          string   `json:"note,omitempty"`
	Flow          *FlowDTO `json:"flow,omitempty"`
}

func toHistoryDTO(h requests.EmployeeHistory) HistoryDTO {
	return HistoryDTO{
		ID:            h.ID,
		EmployeeID:    h.EmployeeID,
		Kind:          string(h.Kind),
		EffectiveDate: h.EffectiveDate.Format(dateLayout),
		FromUnit:      h.FromUnit,
		ToUnit:        h.ToUnit,
		FromPosition:  h.FromPosition,
		ToPosition:    h.ToPosition,
		Note:          h.Note,
	}
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

type EntitlementDTO struct {
	EmployeeID string           `json:"employee_id"`
	CategoryID string           `json:"category_id"`
	Period     string           `json:"period"`
	Unlimited  bool             `json:"unlimited"`
	Opening    *decimal.Decimal `json:"opening,omitempty"`
	Accrual    *decimal.Decimal `json:"accrual,omitempty"`
	Consumed   *decimal.Decimal `json:"consumed,omitempty"`
	CarryIn    *decimal.Decimal `json:"carry_in,omitempty"`
	CarryOut   *decimal.Decimal `json:"carry_out,omitempty"`
	Closing    *decimal.Decimal `json:"closing,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	ComputedAt time.Time        `json:"computed_at"`
}

// toEntitlementDTO omits the quantities of an unlimited placeholder.
func toEntitlementDTO(e entitlement.LeaveEntitlement) EntitlementDTO {
	dto := EntitlementDTO{
		EmployeeID: e.EmployeeID,
		CategoryID: e.CategoryID,
		Period:     e.Period,
		Unlimited:  e.Unlimited,
		ComputedAt: e.ComputedAt,
	}
	if e.Unlimited {
		return dto
	}
	dto.Opening = &e.Opening
	dto.Accrual = &e.Accrual
	dto.Consumed = &e.Consumed
	dto.CarryIn = &e.CarryIn
	dto.CarryOut = &e.CarryOut
	dto.Closing = &e.Closing
	dto.ExpiresAt = e.ExpiresAt
	return dto
}

// RecalcDTO reports a bulk recalculation.
type RecalcDTO struct {
	Year       int    `json:"year"`
	Recomputed int    `json:"recomputed"`
	Error      string `json:"error,omitempty"`
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type AttendanceDTO struct {
	ID         string     `json:"id"`
	EmployeeID string     `json:"employee_id"`
	Date       string     `json:"date"`
	CheckIn    time.Time  `json:"check_in"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	Worked     string     `json:"worked,omitempty"`
}

func toAttendanceDTO(r attendance.Record) AttendanceDTO {
	dto := AttendanceDTO{
		ID:         r.ID,
		EmployeeID: r.EmployeeID,
		Date:       r.Date.Format(dateLayout),
		CheckIn:    r.CheckIn,
		CheckOut:   r.CheckOut,
	}
	if !r.Open() {
		dto.Worked = r.Worked().String()
	}
	return dto
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
