package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrMissingField        = errors.New("missing required field")
	ErrEmptyQuery          = errors.New("empty query")
	ErrQueryTooLong        = errors.New("query too long")
	ErrEmbeddingTaskFailed = errors.New("embedding task failed")
	ErrDimensionMismatch   = errors.New("vector dimension mismatch")
	ErrAlreadyIngested     = errors.New("product already ingested")
)

// ValidationError wraps a sentinel with the offending field.
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

// ProviderError reports a network, auth or model failure of an external
// embedding or chat provider.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TaskError describes a video embedding task that ended without usable
// segments. It matches ErrEmbeddingTaskFailed with errors.Is.
type TaskError struct {
	TaskID string
	Status string
	Reason string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("embedding task %s (%s): %s", e.TaskID, e.Status, e.Reason)
}

func (e *TaskError) Unwrap() error { return ErrEmbeddingTaskFailed }

// IndexWriteError reports a failed insert or delete against the vector index.
type IndexWriteError struct {
	Op  string
	Err error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write: %s: %v", e.Op, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// IndexSearchError reports a failed vector search.
type IndexSearchError struct {
	Filter EmbeddingType
	Err    error
}

func (e *IndexSearchError) Error() string {
	return fmt.Sprintf("index search (%s): %v", e.Filter, e.Err)
}

func (e *IndexSearchError) Unwrap() error { return e.Err }

// GenerationError reports a failed chat completion.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (%s): %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
