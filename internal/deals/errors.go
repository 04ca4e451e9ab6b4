package deals

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine. Callers branch on them with errors.Is.
var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("deals: validation failed")
	// ErrPermissionDenied indicates the actor's role lacks the requested capability.
	ErrPermissionDenied = errors.New("deals: permission denied")
	// ErrAlreadyTerminal indicates a mutation against a cancelled or completed deal.
	ErrAlreadyTerminal = errors.New("deals: deal already in terminal state")
	// ErrStaleOrConflicting indicates the store rejected a write due to a concurrent change.
	ErrStaleOrConflicting = errors.New("deals: deal was modified concurrently")
	// ErrNotFound indicates a missing deal, installment or party.
	ErrNotFound = errors.New("deals: not found")
	// ErrTransport indicates an opaque store or network failure.
	ErrTransport = errors.New("deals: store unavailable")
)

var (
	// ErrAlreadyFinalStage is informational: the deal already sits at final handover.
	ErrAlreadyFinalStage = fmt.Errorf("%w: deal already at final handover", ErrAlreadyTerminal)
	// ErrConfirmationRequired is returned when a financial or terminal mutation was not confirmed.
	ErrConfirmationRequired = fmt.Errorf("%w: explicit confirmation required", ErrValidation)
	// ErrInvalidPlan is returned when a payment plan cannot be built.
	ErrInvalidPlan = fmt.Errorf("%w: invalid payment plan", ErrValidation)
	// ErrInvalidSchedule is returned when an installment breaks the due-date ordering.
	ErrInvalidSchedule = fmt.Errorf("%w: invalid installment schedule", ErrValidation)
	// ErrInvalidSplit is returned when commission percentages do not sum to 100.
	ErrInvalidSplit = fmt.Errorf("%w: invalid commission split", ErrValidation)
	// ErrInvalidTransition is returned for status changes outside the lifecycle graph.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)
)

// PermissionDeniedError carries the capability that was refused and why.
type PermissionDeniedError struct {
	Capability  Capability
	Role        Role
	Explanation string
	// Terminal is set when the terminal-state overlay caused the denial.
	Terminal bool
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("deals: permission denied for %q: %s", e.Capability.String(), e.Explanation)
}

// Unwrap exposes ErrPermissionDenied and, for overlay denials, ErrAlreadyTerminal.
func (e *PermissionDeniedError) Unwrap() []error {
	if e.Terminal {
		return []error{ErrPermissionDenied, ErrAlreadyTerminal}
	}
	return []error{ErrPermissionDenied}
}

// TransportError wraps an opaque failure from the external store.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("deals: %s: store unavailable", e.Op)
	}
	return fmt.Sprintf("deals: %s: %v", e.Op, e.Err)
}

// Unwrap exposes ErrTransport alongside the underlying cause.
func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

// Retryable reports whether the caller may retry the operation unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrStaleOrConflicting)
}

// IsInformational reports whether err is a notice rather than a failure.
func IsInformational(err error) bool {
	return errors.Is(err, ErrAlreadyFinalStage)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func wrapf(base error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{base}, args...)...)
}
