package models

import (
	"context"
	"errors"
)

// ErrorCategory is the closed taxonomy every error surfaced by the core is
// classified into. Vendor-specific errors are wrapped at the transport edge
// and never leak upward unclassified.
type ErrorCategory string

const (
	ErrInvalidInput      ErrorCategory = "invalid_input"
	ErrUnauthenticated   ErrorCategory = "unauthenticated"
	ErrPermissionDenied  ErrorCategory = "permission_denied"
	ErrNotFound          ErrorCategory = "not_found"
	ErrRateLimit         ErrorCategory = "rate_limit"
	ErrTimeout           ErrorCategory = "timeout"
	ErrNetwork           ErrorCategory = "network_error"
	ErrDenied            ErrorCategory = "denied"
	ErrAborted           ErrorCategory = "aborted"
	ErrDepthExceeded     ErrorCategory = "depth_exceeded"
	ErrTooManyIterations ErrorCategory = "too_many_iterations"
	ErrUnknown           ErrorCategory = "unknown"
)

// Categorized is implemented by the core's typed errors.
type Categorized interface {
	Category() ErrorCategory
}

// CategoryOf classifies an error. Unwrapping is respected; anything without a
// category is unknown.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var c Categorized
	if errors.As(err, &c) {
		return c.Category()
	}
	if errors.Is(err, context.Canceled) {
		return ErrAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrUnknown
}
