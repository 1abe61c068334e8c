// Package services provides the template and orchestration services behind the API.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/taskflow/pkg/assignment"
	"github.com/dukex/taskflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrInvalidVariables = errors.New("invalid instance variables")
	ErrSpecInvalid      = errors.New("invalid workflow spec")

	// Business Logic Conflicts (409 Conflict).
	ErrTaskAlreadyClosed       = errors.New("task already closed")
	ErrInstanceNotRunning      = errors.New("workflow instance is not running")
	ErrTemplateInactive        = errors.New("template is not active")
	ErrInvalidStatusTransition = errors.New("invalid instance status transition")
)

// SpecValidationError carries every violation found in a template spec.
type SpecValidationError struct {
	TemplateID string
	Violations []string
}

func (e *SpecValidationError) Error() string {
	return fmt.Sprintf("template %s has %d spec violation(s): %s", e.TemplateID, len(e.Violations), strings.Join(e.Violations, "; "))
}

func (e *SpecValidationError) Unwrap() error {
	return ErrSpecInvalid
}

// VariablesError carries the schema violations of instance variables.
type VariablesError struct {
	Violations []string
}

func (e *VariablesError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidVariables, strings.Join(e.Violations, "; "))
}

func (e *VariablesError) Unwrap() error {
	return ErrInvalidVariables
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidOutcome) ||
		errors.Is(err, ErrInvalidVariables) ||
		errors.Is(err, ErrSpecInvalid) ||
		errors.Is(err, assignment.ErrTaskHasNoRole)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrTaskAlreadyClosed) ||
		errors.Is(err, ErrInstanceNotRunning) ||
		errors.Is(err, ErrTemplateInactive) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, persistence.ErrTemplateVersionExists) ||
		errors.Is(err, persistence.ErrTaskConflict) ||
		errors.Is(err, persistence.ErrNoActiveMember)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsTemplateNotFound(err) ||
		persistence.IsInstanceNotFound(err) ||
		persistence.IsTaskNotFound(err)
}

// IsForbiddenError checks if an error should return HTTP 403.
func IsForbiddenError(err error) bool {
	return persistence.IsPermissionDenied(err)
}
