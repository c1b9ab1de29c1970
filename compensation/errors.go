/*
errors.go - Centralized error types for the compensation engine

PURPOSE:
  All engine errors in one place. Callers branch with errors.Is/errors.As;
  the API layer maps them onto HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - a run is not ready to submit
  2. Precondition errors - an operation is not allowed in the current state
  3. Persistence errors - the store failed; wrapped with driver context
*/
package compensation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoAssignments is returned when a run is created with no assignments.
	ErrNoAssignments = errors.New("no assignments selected")

	// ErrNoPaymentDate is returned when submitting a run without a payment date.
	ErrNoPaymentDate = errors.New("no payment date set")

	// ErrNothingToPay is returned when no driver has a positive proposed amount.
	ErrNothingToPay = errors.New("no positive payment amount proposed")

	// ErrRunBusy is returned on re-entrant submission while a run is in flight.
	ErrRunBusy = errors.New("reconciliation run already in flight")

	// ErrDriverFullyPaid is returned when editing billing details for a driver
	// whose recorded payments already cover the total due.
	ErrDriverFullyPaid = errors.New("driver is fully paid; billing details are read-only")

	// ErrUnresolvedDriver is returned when a payment deletion cannot resolve
	// the owning driver. The deletion does not proceed.
	ErrUnresolvedDriver = errors.New("payment has no resolvable owning driver")

	// ErrUnknownAssignment is returned when an edit targets an assignment
	// outside the run's selection.
	ErrUnknownAssignment = errors.New("assignment not part of this run")

	// ErrUnknownDriver is returned when an amount targets a driver outside
	// the run's selection.
	ErrUnknownDriver = errors.New("driver not part of this run")

	// ErrInvalidChargeValue is returned when an edit violates a charge value
	// invariant (negative, or above 100 for percentage-of-load).
	ErrInvalidChargeValue = errors.New("invalid charge value")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ChargeValueError reports which invariant a charge value edit violated.
type ChargeValueError struct {
	AssignmentID AssignmentID
	ChargeType   ChargeType
	Value        string
	Reason       string
}

func (e *ChargeValueError) Error() string {
	return fmt.Sprintf("charge value %s for assignment %s: %s", e.Value, e.AssignmentID, e.Reason)
}

func (e *ChargeValueError) Unwrap() error { return ErrInvalidChargeValue }

// DriverSubmitError wraps a persistence failure for one driver's slice of a
// run. Other drivers' slices are unaffected.
type DriverSubmitError struct {
	DriverID DriverID
	Stage    string // "create_payment", "update_assignment", "compensate"
	Err      error
}

func (e *DriverSubmitError) Error() string {
	return fmt.Sprintf("driver %s: %s failed: %v", e.DriverID, e.Stage, e.Err)
}

func (e *DriverSubmitError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a pre-dispatch validation failure
// (the submit trigger should simply be disabled, not alarmed about).
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoPaymentDate) ||
		errors.Is(err, ErrNothingToPay) ||
		errors.Is(err, ErrNoAssignments)
}
