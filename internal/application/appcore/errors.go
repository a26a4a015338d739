package appcore

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidID        = errors.New("invalid ID")
	ErrEmptyField       = errors.New("required field is empty")

	// Not found errors
	ErrNotFound = errors.New("resource not found")

	// Conflict errors
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("resource already exists")

	// Infrastructure errors
	ErrEventStoreError = errors.New("event store error")
	ErrEventBusError   = errors.New("event bus error")

	// ErrRetriesExhausted wraps the last error of an operation that ran out of attempts
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrValidationFailed.
func (e ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NewValidationError creates a ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError represents a "not found" error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is makes every NotFoundError match ErrNotFound.
func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a NotFoundError
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// ConflictError represents a conflict error
type ConflictError struct {
	Resource string
	Reason   string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

// Is makes every ConflictError match ErrConflict.
func (e ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NewConflictError creates a ConflictError
func NewConflictError(resource, reason string) error {
	return &ConflictError{
		Resource: resource,
		Reason:   reason,
	}
}
