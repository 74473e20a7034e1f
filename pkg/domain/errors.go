package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrDisallowedOperation  = errors.New("disallowed operation")
	ErrComplianceViolation  = errors.New("compliance violation")
	ErrDetectionUnavailable = errors.New("detection unavailable")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrAmbiguousRestore     = errors.New("ambiguous restore")
	ErrNotFound             = errors.New("not found")
)

// Machine-readable error codes carried by DomainError.
const (
	CodeDisallowedOperation  = "DISALLOWED_OPERATION"
	CodeComplianceViolation  = "COMPLIANCE_VIOLATION"
	CodeDetectionUnavailable = "DETECTION_UNAVAILABLE"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err         error
	Code        string
	Message     string
	ContentType string
	Details     map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Disallowed reports content rejected by a block action.
func Disallowed(message, contentType string) *DomainError {
	return &DomainError{
		Err:         ErrDisallowedOperation,
		Code:        CodeDisallowedOperation,
		Message:     message,
		ContentType: contentType,
	}
}

// Violation reports a raised compliance violation.
func Violation(message, contentType string) *DomainError {
	return &DomainError{
		Err:         ErrComplianceViolation,
		Code:        CodeComplianceViolation,
		Message:     message,
		ContentType: contentType,
	}
}

// Unavailable reports a failed, timed out or cancelled capability call. The
// cause stays in the chain so errors.Is(err, context.DeadlineExceeded) holds.
func Unavailable(cause error) *DomainError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &DomainError{
		Err:     &unavailableError{cause: cause},
		Code:    CodeDetectionUnavailable,
		Message: msg,
	}
}

// IsUnavailable reports whether err already signals DetectionUnavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrDetectionUnavailable)
}

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string { return ErrDetectionUnavailable.Error() }

func (e *unavailableError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrDetectionUnavailable}
	}
	return []error{ErrDetectionUnavailable, e.cause}
}

// ErrorResponse is the stable JSON shape used when a failure crosses a process
// boundary (CLI output, audit sinks). It never carries the inspected content.
type ErrorResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ContentType string `json:"content_type,omitempty"`
}

// ToErrorResponse converts err into an ErrorResponse. Errors that are not
// DomainErrors are reported with code INTERNAL.
func ToErrorResponse(err error) ErrorResponse {
	var de *DomainError
	if errors.As(err, &de) {
		return ErrorResponse{Code: de.Code, Message: de.Message, ContentType: de.ContentType}
	}
	return ErrorResponse{Code: "INTERNAL", Message: err.Error()}
}
