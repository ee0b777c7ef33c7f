package requests

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/approval-engine/approval"
	"github.com/warp/approval-engine/directory"
	"github.com/warp/approval-engine/entitlement"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrRequestNotFound = errors.New("request not found")

	// ErrNotEditable: the chain has reached a terminal status.
	ErrNotEditable = errors.New("request is no longer pending")

	ErrInsufficientBalance = errors.New("insufficient leave balance")
	ErrInvalidDates        = errors.New("invalid date range")
	ErrHalfDayNotAllowed   = errors.New("half day not allowed for this request")
	ErrProofRequired       = errors.New("proof is required for this leave category")
	ErrNoCountableDays     = errors.New("request covers no countable days")
	ErrInvalidHours        = errors.New("overtime hours must be positive")
	ErrInvalidHistoryKind  = errors.New("invalid employee history kind")
	ErrMissingUnit         = errors.New("target unit is required")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InsufficientBalanceError reports the year that cannot cover the request.
type InsufficientBalanceError struct {
	CategoryID string
	Year       int
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s in %d: requested %s, available %s",
		e.CategoryID, e.Year, e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true when the caller's input is at fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotEditable) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidDates) ||
		errors.Is(err, ErrHalfDayNotAllowed) ||
		errors.Is(err, ErrProofRequired) ||
		errors.Is(err, ErrNoCountableDays) ||
		errors.Is(err, ErrInvalidHours) ||
		errors.Is(err, ErrInvalidHistoryKind) ||
		errors.Is(err, ErrMissingUnit) ||
		errors.Is(err, entitlement.ErrInvalidSpan) ||
		approval.IsClientError(err)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, directory.ErrEmployeeNotFound) ||
		entitlement.IsNotFound(err) ||
		approval.IsNotFound(err)
}
