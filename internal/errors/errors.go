package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for doclens. It carries a stable code
// for logging and HTTP mapping plus the underlying cause for error chains.
type Error struct {
	// Code is the unique error code (e.g., "ERR_402_QUERY_EMPTY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Upstream, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works across wrap layers.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for
// chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a structured error with the given code and message. Category
// and severity are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a structured error from an existing error, keeping its message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a request-validation error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidRequest, message, cause)
}

// StorageError creates an index/database error.
func StorageError(message string, cause error) *Error {
	return New(ErrCodeStoreUnavailable, message, cause)
}

// UpstreamError creates an embedding-provider error.
func UpstreamError(message string, cause error) *Error {
	return New(ErrCodeEmbedderUnavailable, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// GetCode extracts the code from a structured error anywhere in the chain,
// or "" for other errors.
func GetCode(err error) string {
	var se *Error
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a structured error anywhere in the
// chain.
func GetCategory(err error) Category {
	var se *Error
	if stderrors.As(err, &se) {
		return se.Category
	}
	return ""
}

// IsFatal reports whether an error in the chain has fatal severity.
func IsFatal(err error) bool {
	var se *Error
	if stderrors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}
