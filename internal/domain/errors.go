package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for store and engine lookups.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTier       = errors.New("invalid confidence tier")
	ErrInvalidSuggestion = errors.New("invalid suggestion type")
	ErrStaleResponse     = errors.New("analysis response superseded by a newer request")
)

// UpstreamErrorKind distinguishes analysis backend failures so callers can
// offer the right retry affordance.
type UpstreamErrorKind string

const (
	// UpstreamValidation is a 422: the input must be fixed before retrying.
	UpstreamValidation UpstreamErrorKind = "validation"
	// UpstreamTransient is a 5xx or timeout: retrying may succeed.
	UpstreamTransient UpstreamErrorKind = "transient"
	// UpstreamNetwork means no response at all: check the connection.
	UpstreamNetwork UpstreamErrorKind = "network"
)

// FieldError is one entry of a 422 validation-error body from the backend.
type FieldError struct {
	Loc     []string `json:"loc"`
	Message string   `json:"msg"`
	Type    string   `json:"type"`
}

// UpstreamError represents a failure of the analysis backend call.
type UpstreamError struct {
	Kind       UpstreamErrorKind `json:"kind"`
	StatusCode int               `json:"status_code,omitempty"`
	Message    string            `json:"message"`
	Detail     string            `json:"detail,omitempty"`
	Fields     []FieldError      `json:"fields,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analysis backend %s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("analysis backend %s error: %s", e.Kind, e.Message)
}

// Retryable reports whether retrying the same request could succeed.
func (e *UpstreamError) Retryable() bool {
	return e.Kind == UpstreamTransient || e.Kind == UpstreamNetwork
}

// NewUpstreamError creates an UpstreamError with the current timestamp.
func NewUpstreamError(kind UpstreamErrorKind, statusCode int, message string) *UpstreamError {
	return &UpstreamError{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
}

// ValidationError represents invalid input to a local operation.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}
