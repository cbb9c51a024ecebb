// Package errors provides structured error handling for portscout operations.
// Every surfaced error carries a stable ErrorCode that callers can match on
// plus a human readable message.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeRateLimited   ErrorCode = "RATE_LIMITED"

	// Scan errors.
	CodeUnresolvableTarget ErrorCode = "UNRESOLVABLE_TARGET"
	CodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
	CodeScanExecution      ErrorCode = "SCAN_EXECUTION"
	CodeResourceExhausted  ErrorCode = "RESOURCE_EXHAUSTED"

	// Storage errors.
	CodeStorageConnection ErrorCode = "STORAGE_CONNECTION"
	CodeStorageQuery      ErrorCode = "STORAGE_QUERY"
	CodeStorageTimeout    ErrorCode = "STORAGE_TIMEOUT"

	// File system errors.
	CodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
)

// ScanError represents an error that occurred during scanning operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
	Context   map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOperation records the operation that failed.
func (e *ScanError) WithOperation(op string) *ScanError {
	e.Operation = op
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// StorageError represents failures of the history persistence layer.
type StorageError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *StorageError) WithQuery(query string) *StorageError {
	e.Query = query
	return e
}

// NewStorageError creates a new storage error.
func NewStorageError(code ErrorCode, message string) *StorageError {
	return &StorageError{Code: code, Message: message}
}

// WrapStorageError wraps an existing error as a storage error.
func WrapStorageError(code ErrorCode, message, operation string, err error) *StorageError {
	return &StorageError{
		Code:      code,
		Message:   message,
		Operation: operation,
		Cause:     err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from the first coded error in the chain.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var storageErr *StorageError
	if stderrors.As(err, &storageErr) {
		return storageErr.Code
	}
	var configErr *ConfigError
	if stderrors.As(err, &configErr) {
		return configErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// IsNotFound reports whether err refers to a missing resource.
func IsNotFound(err error) bool {
	return IsCode(err, CodeNotFound)
}

// IsUnresolvable reports whether err is a target resolution failure.
func IsUnresolvable(err error) bool {
	return IsCode(err, CodeUnresolvableTarget)
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeStorageTimeout, CodeRateLimited, CodeResourceExhausted:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case CodeUnresolvableTarget, CodeInvalidRequest, CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeResourceExhausted:
		return http.StatusServiceUnavailable
	case CodeCanceled, CodeTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Common error creation functions

// ErrUnresolvableTarget creates an error for targets that do not resolve.
func ErrUnresolvableTarget(target string, cause error) *ScanError {
	return WrapScanErrorWithTarget(CodeUnresolvableTarget,
		fmt.Sprintf("Cannot resolve hostname '%s'", target), target, cause)
}

// ErrInvalidRequest creates an error for malformed scan parameters.
func ErrInvalidRequest(message string) *ScanError {
	return NewScanError(CodeInvalidRequest, message)
}

// ErrScanExecution creates an error for orchestration faults.
func ErrScanExecution(target string, cause error) *ScanError {
	return WrapScanErrorWithTarget(CodeScanExecution, "Scan failed", target, cause)
}

// ErrScanNotFound creates an error for unknown scan ids.
func ErrScanNotFound(scanID string) *ScanError {
	return NewScanError(CodeNotFound, "Scan not found").WithContext("scan_id", scanID)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
