/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context; the HTTP
  layer maps them to status codes with the helpers at the bottom.

ERROR CATEGORIES:
  1. Validation errors     - bad input, never retried (400)
  2. State-conflict errors - terminal/idempotent states (400)
  3. Not-found errors      - missing records (404)
  4. Credit errors         - structured shortfall payload (400)
  5. Store errors          - everything else (500)

USAGE:
  if errors.Is(err, generic.ErrDuplicateOffDay) {
      // an active closure already exists on that date
  }

  var ice *generic.InsufficientCreditsError
  if errors.As(err, &ice) {
      // redirect to purchase flow with ice.Required / ice.Available
  }

SEE ALSO:
  - api/response.go: writeServiceError maps these to HTTP
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
	// ErrValidation is the root of every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidDate is returned for malformed or missing dates.
	ErrInvalidDate = fmt.Errorf("%w: invalid date", ErrValidation)

	// ErrIncompleteRange is returned when neither a single date nor both
	// range boundaries were supplied.
	ErrIncompleteRange = fmt.Errorf("%w: provide either a date or both start and end dates", ErrValidation)

	// ErrInvalidRange is returned when a range ends before it starts.
	ErrInvalidRange = fmt.Errorf("%w: end date cannot be before start date", ErrValidation)

	// ErrPastDate is returned when a date is strictly before today.
	ErrPastDate = fmt.Errorf("%w: date cannot be in the past", ErrValidation)

	// ErrStateConflict is the root of terminal-state and uniqueness conflicts.
	ErrStateConflict = errors.New("state conflict")

	// ErrDuplicateOffDay is returned when an active off-day already exists
	// for the same mess and date.
	ErrDuplicateOffDay = fmt.Errorf("%w: an active off day already exists for this date", ErrStateConflict)

	// ErrAlreadyCancelled is returned when cancelling or editing a cancelled record.
	ErrAlreadyCancelled = fmt.Errorf("%w: already cancelled", ErrStateConflict)

	// ErrPaymentRequestProcessed is returned when a payment request was
	// already approved or rejected.
	ErrPaymentRequestProcessed = fmt.Errorf("%w: payment request already processed", ErrStateConflict)

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInsufficientCredits is returned when a deduction exceeds the balance.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrSubscriptionInactive is returned by the subscription gate.
	ErrSubscriptionInactive = errors.New("platform subscription inactive")

	// ErrNotFound is the root of every missing-record error.
	ErrNotFound = errors.New("not found")

	ErrMessNotFound       = fmt.Errorf("mess %w", ErrNotFound)
	ErrMembershipNotFound = fmt.Errorf("membership %w", ErrNotFound)
	ErrPlanNotFound       = fmt.Errorf("meal plan %w", ErrNotFound)
	ErrOffDayNotFound     = fmt.Errorf("off day %w", ErrNotFound)
	ErrLeaveNotFound      = fmt.Errorf("leave %w", ErrNotFound)
	ErrCreditsNotFound    = fmt.Errorf("credit record %w", ErrNotFound)
	ErrBillingNotFound    = fmt.Errorf("billing record %w", ErrNotFound)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError provides details about a credit shortage so the
// caller can redirect to a purchase flow.
type InsufficientCreditsError struct {
	AccountID AccountID
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %s, available %s",
		e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// Shortfall is how many credits are missing.
func (e *InsufficientCreditsError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// FieldError names the offending input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a FieldError.
func Invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input or
// a terminal state the client should not retry.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
