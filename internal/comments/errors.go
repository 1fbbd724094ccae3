package comments

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable indicates the remote store is unreachable or was never configured.
	ErrBackendUnavailable = errors.New("comments: backend unavailable")
	// ErrPermissionDenied indicates an attempt to modify another author's comment.
	ErrPermissionDenied = errors.New("comments: permission denied")
	// ErrValidation indicates rejected input such as an empty comment body.
	ErrValidation = errors.New("comments: validation failed")
	// ErrNotFound indicates the referenced comment no longer exists.
	ErrNotFound = errors.New("comments: not found")
)

// ServiceError carries a stable operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// NewServiceError builds a ServiceError coded as operation.reason.
func NewServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Unavailable wraps a transport failure so that errors.Is reports ErrBackendUnavailable.
func Unavailable(cause error) error {
	if cause == nil || errors.Is(cause, ErrBackendUnavailable) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, cause)
}
