package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/attendance"
	"github.com/warp/approval-engine/requests"
)

// retryAfterSeconds is advertised when a subject's lock is busy.
const retryAfterSeconds = "1"

// statusFor maps domain errors to HTTP status codes:
//
//	409 + Retry-After  lock contention (retryable)
//	403                not authorized to decide
//	404                missing approvable, approval, request, employee, category
//	409                already decided, flow exists, not editable, attendance state
//	422                insufficient balance
//	400                other client errors
//	500                everything else
func statusFor(err error) int {
	switch {
	case approval.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, approval.ErrNotAuthorized):
		return http.StatusForbidden
	case requests.IsNotFound(err), errors.Is(err, attendance.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrAlreadyDecided),
		errors.Is(err, approval.ErrFlowExists),
		errors.Is(err, requests.ErrNotEditable),
		attendance.IsClientError(err):
		return http.StatusConflict
	case errors.Is(err, requests.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case approval.IsClientError(err), requests.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError writes err with its mapped status. Server errors are
// logged and their details withheld.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusInternalServerError:
		h.Log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request failed")
		writeError(w, status, "Internal error", nil)
		return
	case approval.IsRetryable(err):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, status, "Subject is busy, retry shortly", err)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}
