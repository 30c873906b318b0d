package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. InvalidQuery/InvalidFilter/InvalidRecord are caller errors
// and are never retried. EmbeddingUnavailable/VectorStoreUnavailable/
// SearchTimeout are external-dependency errors surfaced to the caller after
// bounded retry.
var (
	ErrInvalidQuery           = errors.New("invalid query")
	ErrInvalidFilter          = errors.New("invalid filter")
	ErrInvalidRecord          = errors.New("invalid record")
	ErrMissingAttribute       = errors.New("missing required attribute")
	ErrEmbeddingUnavailable   = errors.New("embedding provider unavailable")
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")
	ErrSearchTimeout          = errors.New("search timed out")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
