/*
errors.go - Centralized error taxonomy for the EVM engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Every public operation in this module resolves failures into one of
  these typed errors; nothing generic escapes the component boundary.

ERROR CATEGORIES:
  1. Validation        - malformed input (milestone weights, bad percent)
  2. InvalidTransition - state machine misuse (approve a draft, lock twice)
  3. BusinessRule      - monetary guard failures (over-invoice, dup baseline)
  4. NotFound          - unknown aggregate id
  5. Conflict          - optimistic lock failure (retryable with fresh state)

CODES, NOT STRINGS:
  Callers branch on Error.Kind and Error.Code, never on message text.
  Messages are for humans and logs only.

USAGE:
  if e, ok := evm.AsError(err); ok && e.Code == evm.CodeOverInvoice {
      // surface to the user as fixable input
  }

SEE ALSO:
  - budget/lifecycle.go, commitment/lifecycle.go: produce these errors
  - api/handlers.go: maps kinds to HTTP statuses
*/
package evm

import (
	"errors"
	"fmt"
)

// =============================================================================
// KINDS AND CODES
// =============================================================================

type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindBusinessRule      ErrorKind = "business_rule"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
)

// Machine-readable codes carried on Error. These are the contract with
// callers; message text is not.
const (
	CodeMilestoneWeightSum           = "MilestoneWeightSum"
	CodePercentOutOfRange            = "PercentOutOfRange"
	CodeHierarchyCycle               = "HierarchyCycle"
	CodeInvalidSCurve                = "InvalidSCurve"
	CodeNoBaselineBudget             = "NoBaselineBudget"
	CodeEmptyBudget                  = "EmptyBudget"
	CodeMissingReason                = "MissingReason"
	CodeEmptyJustification           = "EmptyJustification"
	CodeInvalidPeriod                = "InvalidPeriod"
	CodeDuplicateBaseline            = "DuplicateBaseline"
	CodeRevisionBelowInvoiced        = "RevisionBelowInvoiced"
	CodeOverInvoice                  = "OverInvoice"
	CodeCannotDeleteActiveOrInvoiced = "CannotDeleteActiveOrInvoiced"
	CodeLockedBudget                 = "LockedBudget"
	CodeInvalidAmount                = "InvalidAmount"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced aggregate doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict is returned when an optimistic version check
	// fails. Retryable: reload the aggregate and reapply.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// Error is the typed failure returned by every public operation.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConcurrencyConflict
	}
	return nil
}

func ValidationError(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func BusinessRuleViolation(code, format string, args ...any) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(kind string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", kind, id)}
}

func ConflictError(kind string, id any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf("%s %v modified concurrently", kind, id)}
}

// InvalidTransitionError identifies both the current and the requested
// state. State machine misuse is never silently ignored.
type InvalidTransitionError struct {
	Aggregate string
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Aggregate, e.Current, e.Requested)
}

func NewInvalidTransition(aggregate, current, requested string) *InvalidTransitionError {
	return &InvalidTransitionError{Aggregate: aggregate, Current: current, Requested: requested}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// AsError extracts a typed *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsInvalidTransition reports whether err is a state machine misuse.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrConcurrencyConflict) {
		return true
	}
	if e, ok := AsError(err); ok {
		return e.Kind == KindConflict
	}
	return false
}

// IsClientError returns true if the error is fixable by the caller
// (validation or business-rule failures, including bad transitions).
func IsClientError(err error) bool {
	if IsInvalidTransition(err) {
		return true
	}
	if e, ok := AsError(err); ok {
		return e.Kind == KindValidation || e.Kind == KindBusinessRule
	}
	return false
}

// IsNotFound returns true if the error indicates a missing aggregate.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
