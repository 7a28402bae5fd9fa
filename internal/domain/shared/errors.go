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
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// Hydration errors
	ErrDataIntegrity = errors.New("data integrity violation")
	ErrUnknownKind   = errors.New("unknown discriminator")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "story", "roster"
	Op      string // Operation that failed, e.g., "Hydrate", "Next"
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

// Progress domain errors
var (
	ErrIncomparableMarkers = NewDomainError("progress", "Compare", ErrInvalidInput, "markers belong to different families")
	ErrMarkerOutOfRange    = NewDomainError("progress", "Step", ErrValueOutOfRange, "marker has no neighbour in that direction")
	ErrUnknownMarker       = NewDomainError("progress", "Parse", ErrInvalidFormat, "unknown marker")
	ErrStageNotFound       = NewDomainError("progress", "FindStage", ErrNotFound, "stage not found")
)

// Story domain errors
var (
	ErrMissingDiscriminator = NewDomainError("story", "Hydrate", ErrDataIntegrity, "document has no type field")
	ErrUnregisteredKind     = NewDomainError("story", "Hydrate", ErrUnknownKind, "type is not registered")
	ErrNoStoryRegistered    = NewDomainError("story", "NewAppState", ErrInvalidState, "no story kind registered")
)

// External service errors
var (
	ErrRemoteUnavailable     = NewDomainError("cosmicds", "Request", ErrServiceUnavailable, "state API is unavailable")
	ErrRemoteRateLimited     = NewDomainError("cosmicds", "Request", ErrRateLimited, "state API rate limit exceeded")
	ErrRemoteTimeout         = NewDomainError("cosmicds", "Request", ErrTimeout, "state API request timeout")
	ErrRemoteInvalidResponse = NewDomainError("cosmicds", "Parse", ErrInvalidFormat, "invalid response from state API")
	ErrRemoteNoRecord        = NewDomainError("cosmicds", "Fetch", ErrNotFound, "state API has no record")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDataIntegrity reports whether a document was structurally unusable.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

// IsUnknownKind reports whether hydration met an unregistered discriminator.
func IsUnknownKind(err error) bool {
	return errors.Is(err, ErrUnknownKind)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
