/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every core failure is a typed value carrying enough context (entity id,
  requested vs available amounts) for a caller to render a message.

ERROR CATEGORIES:
  1. NotFoundError            - missing user/location/request/balance/leave type
  2. ValidationError          - bad date range, zero working days, caps
  3. InsufficientBalanceError - ledger shortfall on reserve
  4. InvalidStateError        - transition attempted on a non-pending request
  5. AuthorizationError       - actor may not act on the target user
  6. Store conflicts          - ErrConcurrentModification, ErrDuplicate

USAGE:
  Structured errors unwrap to sentinels, so both styles work:

    var insufficient *generic.InsufficientBalanceError
    if errors.As(err, &insufficient) { ... insufficient.Available ... }

    if errors.Is(err, generic.ErrNotFound) { ... }

SEE ALSO:
  - timeoff/ledger.go: Raises InsufficientBalanceError
  - timeoff/request.go: Raises InvalidStateError / AuthorizationError
  - api/errors.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input violates a business rule.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a reservation exceeds available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidState is returned when a request is not in a state that allows the action.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthorized is returned when the actor may not act on the target.
	ErrUnauthorized = errors.New("not authorized")

	// ErrConcurrentModification is returned when a version check or the
	// database detects a conflicting concurrent write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string // "user", "location", "leave_request", "leave_balance", ...
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports which input was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID      string
	LeaveTypeID string
	Year        int
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s days, requested %s days",
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many days are missing.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// InvalidStateError reports an illegal transition.
type InvalidStateError struct {
	RequestID string
	Status    string
	Action    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s leave request %s with status: %s", e.Action, e.RequestID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// AuthorizationError reports an actor acting outside its rights.
type AuthorizationError struct {
	ActorID  string
	TargetID string
	Action   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s for user %s", e.ActorID, e.Action, e.TargetID)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's input or rights.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
