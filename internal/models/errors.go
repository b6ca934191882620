package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind categorizes pipeline failures.
type ErrorKind string

// Error kinds.
const (
	KindValidation          ErrorKind = "validation"
	KindToolUnavailable     ErrorKind = "tool_unavailable"
	KindContainerResolution ErrorKind = "container_resolution"
	KindAuthentication      ErrorKind = "authentication"
	KindConnectivity        ErrorKind = "connectivity"
	KindPermission          ErrorKind = "permission"
	KindNotFound            ErrorKind = "not_found"
	KindCryptographic       ErrorKind = "cryptographic"
	KindCompression         ErrorKind = "compression"
	KindRetention           ErrorKind = "retention"
	KindCancelled           ErrorKind = "cancelled"
	KindProcess             ErrorKind = "process"
)

// OperationError is a typed failure produced by a pipeline stage.
type OperationError struct {
	Kind     ErrorKind
	Message  string
	ExitCode int
	Stdout   string
	Stderr   string
	Cause    error
}

func (e *OperationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error.
func NewValidationError(message string, cause error) *OperationError {
	return &OperationError{Kind: KindValidation, Message: message, Cause: cause}
}

// NewToolUnavailableError creates an error for a missing external tool.
func NewToolUnavailableError(message string, cause error) *OperationError {
	return &OperationError{Kind: KindToolUnavailable, Message: message, ExitCode: ExitToolUnavailable, Cause: cause}
}

// NewContainerResolutionError creates an error for container lookup failures.
func NewContainerResolutionError(message string, cause error) *OperationError {
	return &OperationError{Kind: KindContainerResolution, Message: message, Cause: cause}
}

// NewCryptographicError creates an encryption or decryption error.
func NewCryptographicError(message string, cause error) *OperationError {
	return &OperationError{Kind: KindCryptographic, Message: message, Cause: cause}
}

// NewCompressionError creates an archive error.
func NewCompressionError(message string, cause error) *OperationError {
	return &OperationError{Kind: KindCompression, Message: message, Cause: cause}
}

// NewRetentionError creates a retention error.
func NewRetentionError(message string, cause error) *OperationError {
	return &OperationError{Kind: KindRetention, Message: message, Cause: cause}
}

// AsOperationError returns err as an *OperationError, wrapping untyped errors.
func AsOperationError(err error) *OperationError {
	if err == nil {
		return nil
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &OperationError{Kind: KindCancelled, Message: "operation cancelled", Cause: err}
	}

	return &OperationError{Kind: KindProcess, Message: "operation failed", Cause: err}
}
