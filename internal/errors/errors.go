// Package errors provides the code-based error taxonomy shared by the
// workflow services. Every error surfaced to a caller carries a stable code
// plus enough structured detail to render an actionable message.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the category of a failure.
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Workflow-specific codes.
	ErrCodeConfiguration     ErrorCode = "CONFIGURATION"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeStaleApproval     ErrorCode = "STALE_APPROVAL"
	ErrCodePhasePrecondition ErrorCode = "PHASE_PRECONDITION"
	ErrCodeOverlappingCycle  ErrorCode = "OVERLAPPING_CYCLE"
	ErrCodeDuplicateWorkflow ErrorCode = "DUPLICATE_ACTIVE_WORKFLOW"
)

// AppError is the error type returned by all services and repositories.
type AppError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches one structured detail field and returns the error.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying error with a code and message.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]any{"resource": resource, "id": id},
	}
}

// InvalidInput reports a rejected input field.
func InvalidInput(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("invalid %s: %s", field, message),
		Details: map[string]any{"field": field},
	}
}

// Configuration reports a missing or unusable approval chain configuration.
func Configuration(approvalType string) *AppError {
	return &AppError{
		Code:    ErrCodeConfiguration,
		Message: fmt.Sprintf("no active approval chain configured for type %q", approvalType),
		Details: map[string]any{"approval_type": approvalType},
	}
}

// InvalidTransition reports an attempted transition that is not legal from
// the current state. No mutation has occurred.
func InvalidTransition(instanceID, from, to string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("transition %s -> %s is not allowed", from, to),
		Details: map[string]any{"workflow_instance_id": instanceID, "from": from, "to": to},
	}
}

// StaleApproval reports a lost concurrent-decision race: the request has
// already advanced past the level the caller expected.
func StaleApproval(requestID string, expectedLevel int) *AppError {
	return &AppError{
		Code:    ErrCodeStaleApproval,
		Message: fmt.Sprintf("approval request %s already advanced past level %d", requestID, expectedLevel),
		Details: map[string]any{"request_id": requestID, "expected_level": expectedLevel},
	}
}

// PhasePrecondition reports a review-cycle phase advance attempted before its
// prerequisite is met.
func PhasePrecondition(cycleID, phase, condition string) *AppError {
	return &AppError{
		Code:    ErrCodePhasePrecondition,
		Message: fmt.Sprintf("cannot start phase %s: %s", phase, condition),
		Details: map[string]any{"cycle_id": cycleID, "phase": phase, "condition": condition},
	}
}

// OverlappingCycle reports a cycle creation whose date range intersects an
// existing active cycle.
func OverlappingCycle(conflictingID string) *AppError {
	return &AppError{
		Code:    ErrCodeOverlappingCycle,
		Message: "cycle dates overlap an existing active review cycle",
		Details: map[string]any{"conflicting_cycle_id": conflictingID},
	}
}

// DuplicateActiveWorkflow reports that a non-terminal workflow already exists
// for the entity. The existing instance id is part of the detail so the
// caller can surface it.
func DuplicateActiveWorkflow(entityID, workflowType, existingID string) *AppError {
	return &AppError{
		Code:    ErrCodeDuplicateWorkflow,
		Message: fmt.Sprintf("an active %s workflow already exists for entity %s", workflowType, entityID),
		Details: map[string]any{"entity_id": entityID, "workflow_type": workflowType, "existing_instance_id": existingID},
	}
}

// CodeOf returns the code carried by err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// As is a convenience re-export so callers don't need both error packages.
func As(err error, target any) bool {
	return errors.As(err, target)
}
