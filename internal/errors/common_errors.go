package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeConfig      ErrorType = "CONFIG"
	ErrTypeValidation  ErrorType = "VALIDATION"
	ErrTypeStorage     ErrorType = "STORAGE"
	ErrTypeNotFound    ErrorType = "NOT_FOUND"
	ErrTypeConflict    ErrorType = "CONFLICT"
	ErrTypeComputation ErrorType = "COMPUTATION"
	ErrTypeCancelled   ErrorType = "CANCELLED"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError of the same type, so sentinel comparisons work by category
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Category sentinels for errors.Is checks.
var (
	ErrConfiguration  = &AppError{Type: ErrTypeConfig}
	ErrDataValidation = &AppError{Type: ErrTypeValidation}
	ErrStorage        = &AppError{Type: ErrTypeStorage}
	ErrNotFound       = &AppError{Type: ErrTypeNotFound}
	ErrConflict       = &AppError{Type: ErrTypeConflict}
	ErrComputation    = &AppError{Type: ErrTypeComputation}
	ErrCancelled      = &AppError{Type: ErrTypeCancelled}
)

// NewConfigError creates a configuration error. It aborts a whole batch run.
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewDataValidationError creates an error scoped to one subject or dimension
func NewDataValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewStorageError creates a storage-related error
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return NewAppError(ErrTypeConflict, message, nil)
}

// NewComputationError creates a computation error
func NewComputationError(message string, cause error) *AppError {
	return NewAppError(ErrTypeComputation, message, cause)
}

// NewCancelledError creates a cancellation error
func NewCancelledError(message string) *AppError {
	return NewAppError(ErrTypeCancelled, message, nil)
}

// TypeOf returns the AppError type in the chain, or "" when there is none
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsFatal reports whether the error must abort a whole batch run
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrTypeConfig, ErrTypeStorage:
		return true
	}
	return false
}
