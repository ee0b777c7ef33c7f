/*
handlers.go - HTTP API handlers for the approval and leave engine

PURPOSE:
  Exposes the request service, the approval engine, the entitlement
  engine and attendance via REST. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Requests:
    POST   /api/leave-requests              Submit leave (starts its chain)
    GET    /api/leave-requests/{id}         Leave request with derived status
    PUT    /api/leave-requests/{id}         Edit while pending
    DELETE /api/leave-requests/{id}         Delete with its chain
    POST   /api/overtimes                   Submit overtime
    DELETE /api/overtimes/{id}
    POST   /api/employee-histories          Submit transfer/mutation/rotation
    DELETE /api/employee-histories/{id}

  Approvals:
    GET    /api/approvables/{kind}/{id}     Derived status and chain rows
    GET    /api/approvals/pending           Inbox of the acting user
    POST   /api/approvals/{id}/approve
    POST   /api/approvals/{id}/reject

  Entitlements:
    GET    /api/employees/{id}/entitlements/{categoryID}?year=
    POST   /api/admin/recalc?year=

  Attendance:
    POST   /api/employees/{id}/attendance/check-in
    POST   /api/employees/{id}/attendance/check-out
    GET    /api/employees/{id}/attendance?from=&to=

ACTING USER:
  Authentication happens upstream. The authenticated user id arrives in
  the X-User-ID header; decisions and the inbox require it.

ERROR HANDLING:
  See errors.go. Lock contention is 409 with Retry-After.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/attendance"
	"github.com/warp/approval-engine/entitlement"
	"github.com/warp/approval-engine/requests"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Requests     *requests.Service
	Approvals    *approval.Engine
	Entitlements *entitlement.Engine
	Attendance   *attendance.Service

	Store   Pinger       // optional, checked by /health
	Seeder  Seeder       // optional, enables demo scenarios
	Metrics http.Handler // optional, served at /metrics
	Log     zerolog.Logger

	Now func() time.Time

	currentScenario string
}

// NewHandler creates a new handler over the given services.
func NewHandler(reqs *requests.Service, att *attendance.Service) *Handler {
	return &Handler{
		Requests:     reqs,
		Approvals:    reqs.Approvals,
		Entitlements: reqs.Entitlements,
		Attendance:   att,
		Log:          zerolog.Nop(),
		Now:          time.Now,
	}
}

// Health reports liveness and store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

// SubmitLeave creates a leave request and starts its approval chain.
// POST /api/leave-requests
func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	var body SubmitLeaveRequest
	if !decode(w, r, &body) {
		return
	}
	in, err := leaveInput(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dates", err)
		return
	}

	req, flow, err := h.Requests.SubmitLeave(r.Context(), in)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	dto := toLeaveRequestDTO(*req)
	f := toFlowDTO(flow)
	dto.Status, dto.Flow = f.Status, &f
	writeJSON(w, http.StatusCreated, dto)
}

// GetLeave returns a leave request with its derived status.
// GET /api/leave-requests/{id}
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.Requests.Store.LeaveRequest(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	st, err := h.Approvals.Status(ctx, req.ApprovableRef())
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	dto := toLeaveRequestDTO(req)
	dto.Status = string(st)
	writeJSON(w, http.StatusOK, dto)
}

// UpdateLeave edits a leave request whose chain is still pending.
// PUT /api/leave-requests/{id}
func (h *Handler) UpdateLeave(w http.ResponseWriter, r *http.Request) {
	var body SubmitLeaveRequest
	if !decode(w, r, &body) {
		return
	}
	in, err := leaveInput(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid dates", err)
		return
	}

	req, err := h.Requests.UpdateLeave(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	dto := toLeaveRequestDTO(*req)
	dto.Status = string(approval.StatusPending)
	writeJSON(w, http.StatusOK, dto)
}

// DeleteLeave removes a leave request and its chain.
// DELETE /api/leave-requests/{id}
func (h *Handler) DeleteLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.Requests.DeleteLeave(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func leaveInput(body SubmitLeaveRequest) (requests.LeaveInput, error) {
	start, err := parseDate(body.StartDate)
	if err != nil {
		return requests.LeaveInput{}, fmt.Errorf("start_date: %w", err)
	}
	end := start
	if body.EndDate != "" {
		if end, err = parseDate(body.EndDate); err != nil {
			return requests.LeaveInput{}, fmt.Errorf("end_date: %w", err)
		}
	}
	return requests.LeaveInput{
		EmployeeID: body.EmployeeID,
		CategoryID: body.CategoryID,
		Start:      start,
		End:        end,
		HalfDay:    body.HalfDay,
		Reason:     body.Reason,
		ProofURL:   body.ProofURL,
	}, nil
}

// =============================================================================
// OVERTIME AND EMPLOYEE HISTORY
// =============================================================================

// SubmitOvertime creates an overtime request and starts its chain.
// POST /api/overtimes
func (h *Handler) SubmitOvertime(w http.ResponseWriter, r *http.Request) {
	var body SubmitOvertimeRequest
	if !decode(w, r, &body) {
		return
	}
	date, err := parseDate(body.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	ot, flow, err := h.Requests.SubmitOvertime(r.Context(), requests.OvertimeInput{
		EmployeeID: body.EmployeeID,
		Date:       date,
		StartsAt:   body.StartsAt,
		EndsAt:     body.EndsAt,
		Reason:     body.Reason,
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	dto := toOvertimeDTO(*ot)
	f := toFlowDTO(flow)
	dto.Flow = &f
	writeJSON(w, http.StatusCreated, dto)
}

// DeleteOvertime removes an overtime request and its chain.
// DELETE /api/overtimes/{id}
func (h *Handler) DeleteOvertime(w http.ResponseWriter, r *http.Request) {
	if err := h.Requests.DeleteOvertime(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitHistory creates a transfer, mutation or rotation and starts its chain.
// POST /api/employee-histories
func (h *Handler) SubmitHistory(w http.ResponseWriter, r *http.Request) {
	var body SubmitHistoryRequest
	if !decode(w, r, &body) {
		return
	}
	effective, err := parseDate(body.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date", err)
		return
	}

	hist, flow, err := h.Requests.SubmitHistory(r.Context(), requests.HistoryInput{
		EmployeeID:    body.EmployeeID,
		Kind:          requests.HistoryKind(body.Kind),
		EffectiveDate: effective,
		FromUnit:      body.FromUnit,
		ToUnit:        body.ToUnit,
		FromPosition:  body.FromPosition,
		ToPosition:    body.ToPosition,
		Note:          body.Note,
	})
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	dto := toHistoryDTO(*hist)
	f := toFlowDTO(flow)
	dto.Flow = &f
	writeJSON(w, http.StatusCreated, dto)
}

// DeleteHistory removes a history entry and its chain.
// DELETE /api/employee-histories/{id}
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.Requests.DeleteHistory(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// APPROVALS
// =============================================================================

// GetChain returns an approvable's derived status and its rows.
// GET /api/approvables/{kind}/{id}
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	ref := approval.Ref{Kind: approval.Kind(chi.URLParam(r, "kind")), ID: chi.URLParam(r, "id")}
	if !ref.Kind.Valid() {
		writeError(w, http.StatusNotFound, "Unknown approvable kind", nil)
		return
	}

	ctx := r.Context()
	st, err := h.Approvals.Status(ctx, ref)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	rows, err := h.Approvals.Approvals(ctx, ref)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ChainDTO{
		Kind:      string(ref.Kind),
		ID:        ref.ID,
		Status:    string(st),
		Approvals: toApprovalDTOs(rows),
	})
}

// PendingApprovals lists the rows the acting user may decide.
// GET /api/approvals/pending
func (h *Handler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	rows, err := h.Approvals.PendingFor(r.Context(), userID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApprovalDTOs(rows))
}

// Approve approves a pending level.
// POST /api/approvals/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.Approve)
}

// Reject rejects a pending level, ending the chain.
// POST /api/approvals/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision approval.Decision) {
	userID, ok := actingUser(w, r)
	if !ok {
		return
	}
	var body DecisionRequest
	if r.ContentLength != 0 && !decode(w, r, &body) {
		return
	}

	res, err := h.Requests.Decide(r.Context(), chi.URLParam(r, "id"), decision, userID, body.Note)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DecisionDTO{
		Decided:  toApprovalDTO(res.Decided),
		Next:     optionalApprovalDTO(res.Next),
		Status:   string(res.Status),
		Finished: res.Finished,
	})
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

// GetEntitlement returns the (possibly cached) balance for a year.
// GET /api/employees/{id}/entitlements/{categoryID}?year=2025
func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	ent, err := h.Entitlements.Current(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "categoryID"), year)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTO(ent))
}

// Recalc recomputes every tracked entitlement of a year.
// POST /api/admin/recalc?year=2025
func (h *Handler) Recalc(w http.ResponseWriter, r *http.Request) {
	year, err := h.yearParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	n, err := h.Entitlements.RecalcAll(r.Context(), year)
	dto := RecalcDTO{Year: year, Recomputed: n}
	if err != nil {
		h.Log.Error().Err(err).Int("year", year).Msg("Entitlement recalculation finished with errors")
		dto.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, dto)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) yearParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("year")
	if v == "" {
		return h.Now().Year(), nil
	}
	return strconv.Atoi(v)
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// CheckIn opens today's attendance record.
// POST /api/employees/{id}/attendance/check-in
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Attendance.CheckIn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttendanceDTO(rec))
}

// CheckOut closes today's attendance record.
// POST /api/employees/{id}/attendance/check-out
func (h *Handler) CheckOut(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Attendance.CheckOut(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTO(rec))
}

// ListAttendance returns records in [from, to], defaulting to the last 30 days.
// GET /api/employees/{id}/attendance?from=2025-03-01&to=2025-03-31
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	to := entitlement.DateOf(h.Now())
	from := to.AddDate(0, 0, -30)
	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from", err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to", err)
			return
		}
	}

	recs, err := h.Attendance.Between(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	out := make([]AttendanceDTO, len(recs))
	for i, rec := range recs {
		out[i] = toAttendanceDTO(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body, writing 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func actingUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+UserHeader+" header", nil)
		return "", false
	}
	return userID, true
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("date is required")
	}
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
