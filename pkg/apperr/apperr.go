// Package apperr defines the error taxonomy shared by the identity, device,
// authentication and audit services. Callers match kinds with errors.Is and
// extract details with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrTransient            = errors.New("store unavailable")
	ErrLockedOut            = errors.New("account locked")
	ErrAuthenticationFailed = errors.New("invalid credentials")
	ErrUnauthorized         = errors.New("unauthorized")
)

// ValidationError reports a malformed input field. Never retried as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFound wraps ErrNotFound with a description of what was missing.
func NotFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}

// TransientError marks a failure of the persistence layer that is safe to
// retry with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for operation op.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// LockedOutError is returned while an identity is locked. Until carries the
// instant at which authentication is allowed again.
type LockedOutError struct {
	Until time.Time
}

func (e *LockedOutError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *LockedOutError) Is(target error) bool { return target == ErrLockedOut }

// RetryAfter returns the remaining lock time relative to now, rounded up to
// whole seconds and never below one second.
func (e *LockedOutError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return (d + time.Second - 1) / time.Second * time.Second
}
