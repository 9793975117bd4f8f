package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an automation failure.
type ErrorKind int

const (
	KindNone             ErrorKind = iota // No error
	KindConnectionFailed                  // Bridge unreachable or transport broken
	KindNotConnected                      // Operation issued without an active session
	KindLaunchFailed                      // Bridge refused or failed to open a session
	KindInvalidSelector                   // Selector empty or unsupported on the platform
	KindElementNotFound                   // Nothing matched, or handle did not resolve
	KindActionFailed                      // Bridge reported an error for the command
	KindTimeout                           // Deadline expired
	KindBufferTooSmall                    // Response larger than the configured limit
	KindOutOfMemory                       // Payload would exceed the decode budget
	KindInvalidVersion                    // Baseline version out of range
	KindNotFound                          // Baseline or history entry missing
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConnectionFailed:
		return "connection_failed"
	case KindNotConnected:
		return "not_connected"
	case KindLaunchFailed:
		return "launch_failed"
	case KindInvalidSelector:
		return "invalid_selector"
	case KindElementNotFound:
		return "element_not_found"
	case KindActionFailed:
		return "action_failed"
	case KindTimeout:
		return "timeout"
	case KindBufferTooSmall:
		return "buffer_too_small"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindInvalidVersion:
		return "invalid_version"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ExecutionError represents a structured error with kind and details
type ExecutionError struct {
	Kind    ErrorKind
	Code    string                 // Machine-readable code: element_not_found, timeout, etc.
	Message string                 // Human-readable message
	Details map[string]interface{} // Additional context
	Cause   error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError of the same kind, so
// errors.Is(err, ErrTimeout) holds for copies made with WithCause/WithMessage.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: msg,
		Details: e.Details,
		Cause:   e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Kind:    e.Kind,
		Code:    e.Code,
		Message: e.Message,
		Details: merged,
		Cause:   e.Cause,
	}
}

// Predefined errors, one per kind.
var (
	ErrConnectionFailed = &ExecutionError{
		Kind:    KindConnectionFailed,
		Code:    "connection_failed",
		Message: "could not connect to automation bridge",
	}
	ErrNotConnected = &ExecutionError{
		Kind:    KindNotConnected,
		Code:    "not_connected",
		Message: "no active session",
	}
	ErrLaunchFailed = &ExecutionError{
		Kind:    KindLaunchFailed,
		Code:    "launch_failed",
		Message: "failed to launch session",
	}
	ErrInvalidSelector = &ExecutionError{
		Kind:    KindInvalidSelector,
		Code:    "invalid_selector",
		Message: "invalid selector",
	}
	ErrElementNotFound = &ExecutionError{
		Kind:    KindElementNotFound,
		Code:    "element_not_found",
		Message: "element not found",
	}
	ErrActionFailed = &ExecutionError{
		Kind:    KindActionFailed,
		Code:    "action_failed",
		Message: "action failed",
	}
	ErrTimeout = &ExecutionError{
		Kind:    KindTimeout,
		Code:    "timeout",
		Message: "operation timed out",
	}
	ErrBufferTooSmall = &ExecutionError{
		Kind:    KindBufferTooSmall,
		Code:    "buffer_too_small",
		Message: "response exceeds buffer limit",
	}
	ErrOutOfMemory = &ExecutionError{
		Kind:    KindOutOfMemory,
		Code:    "out_of_memory",
		Message: "payload exceeds memory budget",
	}
	ErrInvalidVersion = &ExecutionError{
		Kind:    KindInvalidVersion,
		Code:    "invalid_version",
		Message: "invalid baseline version",
	}
	ErrNotFound = &ExecutionError{
		Kind:    KindNotFound,
		Code:    "not_found",
		Message: "not found",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(kind ErrorKind, code, message string) *ExecutionError {
	return &ExecutionError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// KindOf returns the kind of the outermost ExecutionError in err's chain,
// or KindNone when there is none.
func KindOf(err error) ErrorKind {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindNone
}
