package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a lifecycle error with a code and message
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInvalidArgument     = "INVALID_ARGUMENT"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeProvisioningFailure = "PROVISIONING_FAILURE"
	ErrCodeCapacityExhausted   = "CAPACITY_EXHAUSTED"
)

// NewNotFoundError creates an error for an unknown agent or call id
func NewNotFoundError(resource, id string) error {
	return &DomainError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resource, id),
	}
}

// NewInvalidArgumentError creates an error for malformed input
func NewInvalidArgumentError(msg string) error {
	return &DomainError{
		Code:    ErrCodeInvalidArgument,
		Message: msg,
	}
}

// NewInvalidTransitionError creates an error for a lifecycle violation
func NewInvalidTransitionError(callID string, from, to fmt.Stringer) error {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("call %q cannot move from %s to %s", callID, from, to),
	}
}

// NewProvisioningError wraps the last provisioning failure
func NewProvisioningError(callID string, attempts int, err error) error {
	return &DomainError{
		Code:    ErrCodeProvisioningFailure,
		Message: fmt.Sprintf("provisioning call %q failed after %d attempts", callID, attempts),
		Err:     err,
	}
}

// NewCapacityExhaustedError signals that no agent is free and none may be created
func NewCapacityExhaustedError(msg string) error {
	return &DomainError{
		Code:    ErrCodeCapacityExhausted,
		Message: msg,
	}
}

// Code returns the domain code of err, or "" when err is not a DomainError
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return Code(err) == ErrCodeInvalidArgument
}

// IsInvalidTransition checks if the error is a lifecycle violation
func IsInvalidTransition(err error) bool {
	return Code(err) == ErrCodeInvalidTransition
}

// IsProvisioningFailure checks if the error is a provisioning failure
func IsProvisioningFailure(err error) bool {
	return Code(err) == ErrCodeProvisioningFailure
}

// IsCapacityExhausted checks if the error means no agent is available
func IsCapacityExhausted(err error) bool {
	return Code(err) == ErrCodeCapacityExhausted
}
