package approval

import (
	"errors"
	"fmt"

	"github.com/warp/approval-engine/lock"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownApprovableType: no active ApprovableType for the kind/id. Caller bug.
	ErrUnknownApprovableType = errors.New("unknown approvable type")

	// ErrNoLayerConfigured: no layer for (type, level). Normal end of chain.
	ErrNoLayerConfigured = errors.New("no approver layer configured")

	// ErrNoApproverFound: approval line could not be resolved to a user.
	ErrNoApproverFound = errors.New("no approver found")

	// ErrNotAuthorized: the acting user may not decide this row.
	ErrNotAuthorized = errors.New("not authorized to decide this approval")

	// ErrAlreadyDecided: the row is no longer pending.
	ErrAlreadyDecided = errors.New("approval already decided")

	ErrApprovalNotFound = errors.New("approval not found")
	ErrFlowNotFound     = errors.New("approval flow not found")
	ErrFlowExists       = errors.New("approval flow already exists")
	ErrInvalidDecision  = errors.New("invalid decision")
	ErrNoteRequired     = errors.New("a note is required to reject")
	ErrSubjectNotFound  = errors.New("approvable not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// NotAuthorizedError names who tried to decide what.
type NotAuthorizedError struct {
	ApprovalID string
	UserID     string
	Approver   Approver
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("user %s cannot decide approval %s (approver %s)", e.UserID, e.ApprovalID, e.Approver)
}

func (e *NotAuthorizedError) Unwrap() error { return ErrNotAuthorized }

// AlreadyDecidedError carries the state the row was found in.
type AlreadyDecidedError struct {
	ApprovalID string
	Status     Status
	DecidedBy  string
}

func (e *AlreadyDecidedError) Error() string {
	if e.DecidedBy == "" {
		return fmt.Sprintf("approval %s already decided", e.ApprovalID)
	}
	return fmt.Sprintf("approval %s already %s by %s", e.ApprovalID, e.Status, e.DecidedBy)
}

func (e *AlreadyDecidedError) Unwrap() error { return ErrAlreadyDecided }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true for concurrency conflicts the user may retry.
func IsRetryable(err error) bool {
	return lock.IsTimeout(err)
}

// IsClientError returns true when the caller's input or permissions are at fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrUnknownApprovableType) ||
		errors.Is(err, ErrFlowExists) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrNoteRequired)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound) ||
		errors.Is(err, ErrFlowNotFound) ||
		errors.Is(err, ErrSubjectNotFound)
}

// endsChain reports whether a resolution error means "no further level".
func endsChain(err error) bool {
	return errors.Is(err, ErrNoLayerConfigured) || errors.Is(err, ErrNoApproverFound)
}
