/*
errors.go - Error taxonomy for the points engine

ERROR CATEGORIES:
  ValidationError:        malformed input (negative add, unknown action)
  NotFoundError:          missing employee balance, record or exception
  InvalidTransitionError: illegal exception status change
  ConflictError:          concurrent balance mutation lost the race
  ConfigurationError:     missing tenant context or malformed policy

Every structured error unwraps to a sentinel so callers can use errors.Is
without caring about the concrete type.

SEE ALSO:
  - ledger.go: ConflictError retry loop
  - api/handlers.go: HTTP status mapping
*/
package attendance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("conflict")
	ErrConfiguration     = errors.New("configuration error")

	// ErrConcurrentModification is returned by stores when an optimistic
	// version check fails. The ledger retries it and surfaces ConflictError
	// once the retry budget is spent.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateRecord is returned by stores when a second record is
	// inserted for the same (organization, employee, date).
	ErrDuplicateRecord = errors.New("duplicate attendance record")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string // "employee", "record", "exception"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type InvalidTransitionError struct {
	ExceptionID ExceptionID
	From        ExceptionStatus
	To          ExceptionStatus
	Reason      string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("exception %s: cannot move from %s to %s", e.ExceptionID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type ConflictError struct {
	EmployeeID EmployeeID
	Attempts   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("balance for %s changed concurrently (%d attempts)", e.EmployeeID, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type ConfigurationError struct {
	Setting string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Message)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConfiguration)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func requireOrganization(org OrganizationID) error {
	if org == "" {
		return &ConfigurationError{Setting: "organization_id", Message: "missing tenant context"}
	}
	return nil
}

func requireEmployee(emp EmployeeID) error {
	if emp == "" {
		return &ValidationError{Field: "employee_id", Message: "required"}
	}
	return nil
}
