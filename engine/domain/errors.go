package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline error taxonomy.
//
// Dimension mismatches are configuration errors: fatal, detected at call time,
// never silently padded or truncated. Encoder/reranker failures are
// external-service errors that callers may retry; they are kept distinct from
// an empty result set, which is a valid terminal state.
var (
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrEncoderUnavailable  = errors.New("encoder unavailable")
	ErrRerankerUnavailable = errors.New("reranker unavailable")
	ErrIndexUnavailable    = errors.New("vector index unavailable")

	ErrInvalidWeights = errors.New("fusion weights must sum to 1")
	ErrInvalidQuery   = errors.New("invalid query")
	ErrQueryTooShort  = errors.New("query too short")
	ErrInvalidRecord  = errors.New("invalid venue record")
)

// ValidationError wraps a sentinel with field context.
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
