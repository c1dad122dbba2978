// Package errors provides structured error types for the Chronolake system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation  ErrorCategory = "VALIDATION"
	ErrCategorySource      ErrorCategory = "SOURCE"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryMetadata    ErrorCategory = "METADATA"
	ErrCategoryMaterialize ErrorCategory = "MATERIALIZE"
	ErrCategoryRead        ErrorCategory = "READ"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidRange  = "INVALID_RANGE"
	CodeUnknownView   = "UNKNOWN_VIEW"
	CodeInvalidSchema = "INVALID_SCHEMA"

	// Source codes
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"

	// Storage codes
	CodeWriteFailure   = "WRITE_FAILURE"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Metadata codes
	CodeMetadataConflict  = "METADATA_CONFLICT"
	CodePartitionNotFound = "PARTITION_NOT_FOUND"

	// Materialize codes
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeLeaseTimeout   = "LEASE_TIMEOUT"

	// Read codes
	CodePartitionVanished = "PARTITION_VANISHED"
	CodeIncompleteQuery   = "INCOMPLETE_QUERY"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// LakeError is the structured error type used throughout the system.
type LakeError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *LakeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *LakeError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *LakeError) Is(target error) bool {
	var t *LakeError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new LakeError.
func New(category ErrorCategory, code, message string) *LakeError {
	return &LakeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new LakeError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *LakeError {
	return &LakeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *LakeError) WithDetails(details map[string]interface{}) *LakeError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var le *LakeError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a LakeError.
func GetCategory(err error) ErrorCategory {
	var le *LakeError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a LakeError.
func GetCode(err error) string {
	var le *LakeError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable.
// Source and write failures are transient; a vanished partition file means
// a retirement raced the read and a retry will re-plan from metadata.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySource && code == CodeSourceUnavailable:
		return true
	case category == ErrCategoryStorage && code == CodeWriteFailure:
		return true
	case category == ErrCategoryRead && code == CodePartitionVanished:
		return true
	case category == ErrCategoryMaterialize && code == CodeLeaseTimeout:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *LakeError {
	return New(ErrCategoryValidation, code, message)
}

func NewSourceError(message string, cause error) *LakeError {
	return Wrap(ErrCategorySource, CodeSourceUnavailable, message, cause)
}

func NewStorageError(code, message string, cause error) *LakeError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewMetadataError(code, message string, cause error) *LakeError {
	return Wrap(ErrCategoryMetadata, code, message, cause)
}

func NewReadError(code, message string, cause error) *LakeError {
	return Wrap(ErrCategoryRead, code, message, cause)
}

func NewInternalError(message string, cause error) *LakeError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
