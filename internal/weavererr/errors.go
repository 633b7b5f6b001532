// Package weavererr defines Weaver's structured error taxonomy: a typed
// AppError carried across component boundaries, and lighter OperationError
// helpers for internal plumbing that never crosses the MCP surface.
package weavererr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError for HTTP status mapping and safe-message
// selection.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypePermission  ErrorType = "permission"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeRateLimit   ErrorType = "rate_limited"
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	ErrorTypeTransport   ErrorType = "transport"
	ErrorTypeParse       ErrorType = "parse"
	ErrorTypeDatabase    ErrorType = "database"
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeCancelled   ErrorType = "cancelled"
	ErrorTypeInternal    ErrorType = "internal"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:  http.StatusBadRequest,
	ErrorTypeNotFound:    http.StatusNotFound,
	ErrorTypeConflict:    http.StatusConflict,
	ErrorTypePermission:  http.StatusForbidden,
	ErrorTypeAuth:        http.StatusUnauthorized,
	ErrorTypeTimeout:     http.StatusRequestTimeout,
	ErrorTypeRateLimit:   http.StatusTooManyRequests,
	ErrorTypeCircuitOpen: http.StatusServiceUnavailable,
	ErrorTypeTransport:   http.StatusInternalServerError,
	ErrorTypeParse:       http.StatusUnprocessableEntity,
	ErrorTypeDatabase:    http.StatusInternalServerError,
	ErrorTypeNetwork:     http.StatusInternalServerError,
	ErrorTypeCancelled:   499,
	ErrorTypeInternal:    http.StatusInternalServerError,
}

// AppError is the typed error carried through Weaver's component
// boundaries: rule engine, MCP tool handlers, and CLI commands all surface
// this shape so callers can branch on Type without string-matching.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	Cause      error
	StatusCode int
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		Cause:      cause,
		StatusCode: statusCodeFor(t),
	}
}

func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails mutates e in place and returns it, matching the pack's
// builder idiom of chaining off a freshly-constructed error.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Predefined constructors for the taxonomy's most common call sites.

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewDatabaseError(op string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", op)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

func NewTimeoutError(op string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", op))
}

func NewRateLimitError(op string) *AppError {
	return New(ErrorTypeRateLimit, fmt.Sprintf("rate limit exceeded: %s", op))
}

func NewCircuitOpenError(component string) *AppError {
	return New(ErrorTypeCircuitOpen, fmt.Sprintf("%s circuit breaker is open", component))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// GetType returns err's ErrorType, defaulting to ErrorTypeInternal for
// plain errors.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code associated with err.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the canned, leak-free strings surfaced to external
// callers (MCP clients) for error types whose raw Message may carry
// internal detail.
var ErrorMessages = struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
	PermissionDenied        string
	ServiceUnavailable      string
}{
	ResourceNotFound:       "The requested resource could not be found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded, please slow down",
	ConcurrentModification: "The resource was modified concurrently",
	PermissionDenied:       "Permission denied",
	ServiceUnavailable:     "The service is temporarily unavailable",
}

// SafeErrorMessage returns a message safe to return to an external caller:
// validation messages pass through verbatim (they describe the caller's own
// bad input), everything else maps to a canned string that can't leak
// internals.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	case ErrorTypePermission:
		return ErrorMessages.PermissionDenied
	case ErrorTypeCircuitOpen:
		return ErrorMessages.ServiceUnavailable
	default:
		return "An internal error occurred"
	}
}

// LogFields renders err into a structured field map suitable for
// zap.Any("err_fields", ...) style logging call sites.
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins a set of errors (skipping nils) into one, for call sites that
// accumulate failures across a batch (e.g. workflow step fan-out).
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		msgs := make([]string, len(nonNil))
		for i, e := range nonNil {
			msgs[i] = e.Error()
		}
		return errors.New(strings.Join(msgs, " -> "))
	}
}
