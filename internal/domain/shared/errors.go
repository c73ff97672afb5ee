// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrRejected         = errors.New("rejected")
	ErrConflict         = errors.New("conflict")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
	ErrMisconfigured      = errors.New("misconfigured")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "activity", "trust", "competition"
	Op      string // Operation that failed, e.g., "Submit", "Join"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Activity errors
var (
	ErrMalformedActivity   = NewDomainError("activity", "Validate", ErrInvalidInput, "malformed activity event")
	ErrDuplicateSubmission = NewDomainError("activity", "Submit", ErrAlreadyProcessed, "activity already submitted")
	ErrSessionNotFound     = NewDomainError("activity", "FindSession", ErrNotFound, "session not found")
)

// Trust errors
var (
	ErrValidationRejected = NewDomainError("trust", "Assess", ErrRejected, "session rejected by validator")
	ErrPolicyMissing      = NewDomainError("trust", "LoadPolicy", ErrMisconfigured, "fraud policy missing or invalid")
)

// Restriction errors
var (
	ErrRestrictionActive   = NewDomainError("restriction", "Check", ErrForbidden, "user is restricted")
	ErrRestrictionNotFound = NewDomainError("restriction", "Find", ErrNotFound, "restriction not found")
)

// Report errors
var (
	ErrReportNotFound           = NewDomainError("report", "Find", ErrNotFound, "daily report not found")
	ErrConcurrentUpdateConflict = NewDomainError("report", "Apply", ErrConcurrentModification, "concurrent update conflict")
)

// Competition errors
var (
	ErrCompetitionNotFound    = NewDomainError("competition", "Find", ErrNotFound, "competition not found")
	ErrCompetitionFull        = NewDomainError("competition", "Join", ErrConflict, "competition is full")
	ErrCompetitionClosed      = NewDomainError("competition", "Join", ErrInvalidState, "competition is not open")
	ErrAlreadyJoined          = NewDomainError("competition", "Join", ErrAlreadyExists, "already joined")
	ErrEntryRequirementNotMet = NewDomainError("competition", "Join", ErrForbidden, "entry requirement not met")
	ErrParticipantNotFound    = NewDomainError("competition", "FindParticipant", ErrNotFound, "participant not found")
	ErrInvalidTransition      = NewDomainError("competition", "Transition", ErrStateTransition, "invalid competition status transition")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
