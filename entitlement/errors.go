package entitlement

import "errors"

var (
	ErrCategoryNotFound    = errors.New("leave category not found")
	ErrEntitlementNotFound = errors.New("leave entitlement not found")

	// ErrInvalidYear: the year is outside the supported range.
	ErrInvalidYear = errors.New("invalid entitlement year")

	// ErrInvalidSpan: the span ends before it starts.
	ErrInvalidSpan = errors.New("leave span ends before it starts")
)

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCategoryNotFound) || errors.Is(err, ErrEntitlementNotFound)
}
