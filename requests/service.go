/*
service.go - Request submission policy

PURPOSE:
  The thin business policy around the approval and entitlement engines:

  SUBMIT:  validate ─▶ price days ─▶ check balance ─▶ create row ─▶ create flow
                                                       ▲                │
                                                       └── removed ◀────┘ on failure

  EDIT:    only while the derived status is pending (ErrNotEditable otherwise)
  DELETE:  discard the chain, delete the row, refresh balances if it was approved
  DECIDE:  delegate to the approval engine; approved leave refreshes balances

BALANCE CHECK:
  Checked per calendar year the request touches, for categories that
  deduct a balance. Other pending requests in the same category hold
  their days, so two pending requests cannot overdraw the same balance.
  The entitlement engine only reports closing balances; refusing the
  request is this layer's decision.
*/
package requests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/directory"
	"github.com/warp/approval-engine/entitlement"
)

type Service struct {
	Store        Store
	Approvals    *approval.Engine
	Entitlements *entitlement.Engine
	Categories   entitlement.CategoryStore
	Employees    directory.Employees
	Log          zerolog.Logger

	Now   func() time.Time
	NewID func() string
}

func NewService(store Store, approvals *approval.Engine, entitlements *entitlement.Engine) *Service {
	return &Service{
		Store:        store,
		Approvals:    approvals,
		Entitlements: entitlements,
		Categories:   entitlements.Categories,
		Employees:    entitlements.Employees,
		Log:          zerolog.Nop(),
		Now:          time.Now,
		NewID:        uuid.NewString,
	}
}

// =============================================================================
// LEAVE
// =============================================================================

// LeaveInput is a leave submission or edit.
type LeaveInput struct {
	EmployeeID string
	CategoryID string
	Start      time.Time
	End        time.Time
	HalfDay    bool
	Reason     string
	ProofURL   string
}

// SubmitLeave validates, checks the balance, stores the request and starts
// its approval chain.
func (s *Service) SubmitLeave(ctx context.Context, in LeaveInput) (*LeaveRequest, *approval.FlowResult, error) {
	days, err := s.priceLeave(ctx, in, "")
	if err != nil {
		return nil, nil, err
	}

	now := s.Now()
	req := LeaveRequest{
		ID:         s.NewID(),
		EmployeeID: in.EmployeeID,
		CategoryID: in.CategoryID,
		Start:      entitlement.DateOf(in.Start),
		End:        entitlement.DateOf(in.End),
		HalfDay:    in.HalfDay,
		Reason:     strings.TrimSpace(in.Reason),
		ProofURL:   in.ProofURL,
		Days:       days,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Store.CreateLeaveRequest(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("create leave request: %w", err)
	}

	flow, err := s.startFlow(ctx, req, func() error { return s.Store.DeleteLeaveRequest(ctx, req.ID) })
	if err != nil {
		return nil, nil, err
	}
	if flow.Status == approval.StatusApproved {
		s.refreshBalances(ctx, req)
	}

	s.Log.Info().
		Str("request_id", req.ID).
		Str("employee_id", req.EmployeeID).
		Str("category_id", req.CategoryID).
		Str("days", req.Days.String()).
		Str("status", string(flow.Status)).
		Msg("Leave request submitted")
	return &req, flow, nil
}

// UpdateLeave edits a request whose chain is still pending. The owner
// cannot change.
func (s *Service) UpdateLeave(ctx context.Context, id string, in LeaveInput) (*LeaveRequest, error) {
	req, err := s.Store.LeaveRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requirePending(ctx, req.ApprovableRef()); err != nil {
		return nil, err
	}

	in.EmployeeID = req.EmployeeID
	days, err := s.priceLeave(ctx, in, req.ID)
	if err != nil {
		return nil, err
	}

	req.CategoryID = in.CategoryID
	req.Start = entitlement.DateOf(in.Start)
	req.End = entitlement.DateOf(in.End)
	req.HalfDay = in.HalfDay
	req.Reason = strings.TrimSpace(in.Reason)
	req.ProofURL = in.ProofURL
	req.Days = days
	req.UpdatedAt = s.Now()

	if err := s.Store.UpdateLeaveRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("update leave request: %w", err)
	}
	return &req, nil
}

// DeleteLeave removes a request and its chain.
func (s *Service) DeleteLeave(ctx context.Context, id string) error {
	req, err := s.Store.LeaveRequest(ctx, id)
	if err != nil {
		return err
	}
	status, err := s.Approvals.Status(ctx, req.ApprovableRef())
	if err != nil {
		return err
	}
	if err := s.Approvals.Discard(ctx, req.ApprovableRef()); err != nil {
		return err
	}
	if err := s.Store.DeleteLeaveRequest(ctx, id); err != nil {
		return err
	}
	if status == approval.StatusApproved {
		s.refreshBalances(ctx, req)
	}
	return nil
}

// priceLeave validates in and returns its total day cost. excludeID is the
// request being edited, whose own days must not count as held.
func (s *Service) priceLeave(ctx context.Context, in LeaveInput, excludeID string) (decimal.Decimal, error) {
	if in.Start.IsZero() || in.End.IsZero() || entitlement.DateOf(in.End).Before(entitlement.DateOf(in.Start)) {
		return decimal.Zero, ErrInvalidDates
	}
	if _, err := s.Employees.Employee(ctx, in.EmployeeID); err != nil {
		return decimal.Zero, err
	}
	cat, err := s.Categories.Category(ctx, in.CategoryID)
	if err != nil {
		return decimal.Zero, err
	}
	if in.HalfDay && (!cat.HalfDayAllowed || !entitlement.DateOf(in.Start).Equal(entitlement.DateOf(in.End))) {
		return decimal.Zero, ErrHalfDayNotAllowed
	}
	if cat.ProofRequired && strings.TrimSpace(in.ProofURL) == "" {
		return decimal.Zero, ErrProofRequired
	}

	span := entitlement.LeaveSpan{Start: in.Start, End: in.End, HalfDay: in.HalfDay}
	perYear, err := s.Entitlements.RequestedDays(ctx, cat, span)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, d := range perYear {
		total = total.Add(d)
	}
	if !total.IsPositive() {
		return decimal.Zero, ErrNoCountableDays
	}

	if cat.DeductBalance {
		if err := s.checkBalance(ctx, in.EmployeeID, cat, perYear, excludeID); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}

func (s *Service) checkBalance(ctx context.Context, employeeID string, cat entitlement.LeaveCategory, perYear map[int]decimal.Decimal, excludeID string) error {
	years := make([]int, 0, len(perYear))
	for y := range perYear {
		years = append(years, y)
	}
	sort.Ints(years)

	held, err := s.heldDays(ctx, employeeID, cat, excludeID)
	if err != nil {
		return err
	}

	for _, y := range years {
		requested := perYear[y]
		if requested.IsZero() {
			continue
		}
		ent, err := s.Entitlements.Current(ctx, employeeID, cat.ID, y)
		if err != nil {
			return fmt.Errorf("entitlement %d: %w", y, err)
		}
		if ent.Covers(requested.Add(held[y])) {
			continue
		}
		return &InsufficientBalanceError{
			CategoryID: cat.ID,
			Year:       y,
			Requested:  requested,
			Available:  decimal.Max(ent.Closing.Sub(held[y]), decimal.Zero),
		}
	}
	return nil
}

// heldDays sums, per year, the days of the employee's other pending requests.
func (s *Service) heldDays(ctx context.Context, employeeID string, cat entitlement.LeaveCategory, excludeID string) (map[int]decimal.Decimal, error) {
	rows, err := s.Store.LeaveRequestsFor(ctx, employeeID, cat.ID)
	if err != nil {
		return nil, err
	}
	held := make(map[int]decimal.Decimal)
	for _, r := range rows {
		if r.ID == excludeID {
			continue
		}
		st, err := s.Approvals.Status(ctx, r.ApprovableRef())
		if err != nil {
			return nil, err
		}
		if st != approval.StatusPending {
			continue
		}
		perYear, err := s.Entitlements.RequestedDays(ctx, cat, r.Span())
		if err != nil {
			return nil, err
		}
		for y, d := range perYear {
			held[y] = held[y].Add(d)
		}
	}
	return held, nil
}

// refreshBalances recomputes every year the request touches, and the year
// after so its opening picks up the new carry-out. Failures are logged;
// the next read recomputes anyway.
func (s *Service) refreshBalances(ctx context.Context, req LeaveRequest) {
	years := req.Years()
	if next := req.End.Year() + 1; next <= s.Now().Year() {
		years = append(years, next)
	}
	for _, y := range years {
		if _, err := s.Entitlements.RecalcYearByID(ctx, req.EmployeeID, req.CategoryID, y); err != nil {
			s.Log.Warn().Err(err).
				Str("request_id", req.ID).
				Int("year", y).
				Msg("Failed to refresh entitlement (non-fatal)")
		}
	}
}

// =============================================================================
// OVERTIME
// =============================================================================

type OvertimeInput struct {
	EmployeeID string
	Date       time.Time
	StartsAt   time.Time
	EndsAt     time.Time
	Reason     string
}

// SubmitOvertime stores an overtime request and starts its chain.
func (s *Service) SubmitOvertime(ctx context.Context, in OvertimeInput) (*Overtime, *approval.FlowResult, error) {
	if in.Date.IsZero() {
		return nil, nil, ErrInvalidDates
	}
	if !in.EndsAt.After(in.StartsAt) {
		return nil, nil, ErrInvalidHours
	}
	if _, err := s.Employees.Employee(ctx, in.EmployeeID); err != nil {
		return nil, nil, err
	}

	now := s.Now()
	ot := Overtime{
		ID:         s.NewID(),
		EmployeeID: in.EmployeeID,
		Date:       entitlement.DateOf(in.Date),
		StartsAt:   in.StartsAt,
		EndsAt:     in.EndsAt,
		Hours:      decimal.NewFromFloat(in.EndsAt.Sub(in.StartsAt).Hours()).Round(2),
		Reason:     strings.TrimSpace(in.Reason),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Store.CreateOvertime(ctx, ot); err != nil {
		return nil, nil, fmt.Errorf("create overtime: %w", err)
	}

	flow, err := s.startFlow(ctx, ot, func() error { return s.Store.DeleteOvertime(ctx, ot.ID) })
	if err != nil {
		return nil, nil, err
	}
	return &ot, flow, nil
}

// DeleteOvertime removes an overtime request and its chain.
func (s *Service) DeleteOvertime(ctx context.Context, id string) error {
	ot, err := s.Store.Overtime(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Approvals.Discard(ctx, ot.ApprovableRef()); err != nil {
		return err
	}
	return s.Store.DeleteOvertime(ctx, id)
}

// =============================================================================
// EMPLOYEE HISTORY
// =============================================================================

type HistoryInput struct {
	EmployeeID    string
	Kind          HistoryKind
	EffectiveDate time.Time
	FromUnit      string
	ToUnit        string
	FromPosition  string
	ToPosition    string
	Note          string
}

// SubmitHistory stores a transfer, mutation or rotation and starts its chain.
func (s *Service) SubmitHistory(ctx context.Context, in HistoryInput) (*EmployeeHistory, *approval.FlowResult, error) {
	if !in.Kind.Valid() {
		return nil, nil, fmt.Errorf("%q: %w", in.Kind, ErrInvalidHistoryKind)
	}
	if in.EffectiveDate.IsZero() {
		return nil, nil, ErrInvalidDates
	}
	if strings.TrimSpace(in.ToUnit) == "" {
		return nil, nil, ErrMissingUnit
	}
	if _, err := s.Employees.Employee(ctx, in.EmployeeID); err != nil {
		return nil, nil, err
	}

	now := s.Now()
	h := EmployeeHistory{
		ID:            s.NewID(),
		EmployeeID:    in.EmployeeID,
		Kind:          in.Kind,
		EffectiveDate: entitlement.DateOf(in.EffectiveDate),
		FromUnit:      in.FromUnit,
		ToUnit:        in.ToUnit,
		FromPosition:  in.FromPosition,
		ToPosition:    in.ToPosition,
		Note:          in.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateHistory(ctx, h); err != nil {
		return nil, nil, fmt.Errorf("create employee history: %w", err)
	}

	flow, err := s.startFlow(ctx, h, func() error { return s.Store.DeleteHistory(ctx, h.ID) })
	if err != nil {
		return nil, nil, err
	}
	return &h, flow, nil
}

// DeleteHistory removes a history entry and its chain.
func (s *Service) DeleteHistory(ctx context.Context, id string) error {
	h, err := s.Store.History(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Approvals.Discard(ctx, h.ApprovableRef()); err != nil {
		return err
	}
	return s.Store.DeleteHistory(ctx, id)
}

// =============================================================================
// DECISIONS
// =============================================================================

// Decide forwards a decision to the approval engine. When a leave request's
// chain ends approved, its balances are refreshed.
func (s *Service) Decide(ctx context.Context, approvalID string, decision approval.Decision, userID, note string) (*approval.DecideResult, error) {
	res, err := s.Approvals.Decide(ctx, approvalID, decision, userID, note)
	if err != nil {
		return nil, err
	}
	if res.Status != approval.StatusApproved || res.Decided.Ref.Kind != approval.KindLeaveRequest {
		return res, nil
	}

	req, ok := res.Subject.(LeaveRequest)
	if !ok {
		req, err = s.Store.LeaveRequest(ctx, res.Decided.Ref.ID)
		if err != nil {
			s.Log.Warn().Err(err).Str("request_id", res.Decided.Ref.ID).Msg("Approved leave request not found for balance refresh")
			return res, nil
		}
	}
	s.refreshBalances(ctx, req)
	return res, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// startFlow creates item's chain, running undo when that fails so no
// request is left without a flow.
func (s *Service) startFlow(ctx context.Context, item approval.Approvable, undo func() error) (*approval.FlowResult, error) {
	flow, err := s.Approvals.CreateApprovalFlow(ctx, item, item.RequesterID())
	if err == nil {
		return flow, nil
	}
	if uerr := undo(); uerr != nil {
		s.Log.Error().Err(uerr).
			Str("approvable", item.ApprovableRef().String()).
			Msg("Failed to remove request after flow creation failed")
		return nil, errors.Join(err, uerr)
	}
	return nil, fmt.Errorf("create approval flow: %w", err)
}

func (s *Service) requirePending(ctx context.Context, ref approval.Ref) error {
	st, err := s.Approvals.Status(ctx, ref)
	if err != nil {
		return err
	}
	if st != approval.StatusPending {
		return fmt.Errorf("%s is %s: %w", ref, st, ErrNotEditable)
	}
	return nil
}
