package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies adapter and platform failures so the sync worker
// can decide between retry and terminal failure without inspecting
// platform-specific error strings.
type ErrorKind string

const (
	ErrKindAuthExpired      ErrorKind = "auth_expired"
	ErrKindRateLimited      ErrorKind = "rate_limited"
	ErrKindTransient        ErrorKind = "transient"
	ErrKindMalformedPayload ErrorKind = "malformed_payload"
	ErrKindConflict         ErrorKind = "conflict"
	ErrKindNotFound         ErrorKind = "not_found"
)

// SyncError is the error surface shared by all platform adapters.
// RetryAfter is only set for rate-limit errors.
type SyncError struct {
	Kind       ErrorKind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the worker may retry the operation that
// produced this error.
func (e *SyncError) Retryable() bool {
	return e.Kind == ErrKindRateLimited || e.Kind == ErrKindTransient
}

// NewAuthExpired marks a credential as invalid or revoked. Not retryable:
// the integration stays suspended until manual re-authentication.
func NewAuthExpired(op string, err error) *SyncError {
	return &SyncError{Kind: ErrKindAuthExpired, Op: op, Err: err}
}

// NewRateLimited carries the platform's retry-after hint.
func NewRateLimited(op string, retryAfter time.Duration) *SyncError {
	return &SyncError{Kind: ErrKindRateLimited, Op: op, RetryAfter: retryAfter}
}

func NewTransient(op string, err error) *SyncError {
	return &SyncError{Kind: ErrKindTransient, Op: op, Err: err}
}

func NewMalformedPayload(op string, err error) *SyncError {
	return &SyncError{Kind: ErrKindMalformedPayload, Op: op, Err: err}
}

func NewConflict(op string, err error) *SyncError {
	return &SyncError{Kind: ErrKindConflict, Op: op, Err: err}
}

func NewNotFound(op string, err error) *SyncError {
	return &SyncError{Kind: ErrKindNotFound, Op: op, Err: err}
}

// KindOf extracts the error kind, defaulting to transient for untyped
// errors (network failures surface as plain errors from the HTTP stack).
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindTransient
}

// IsRetryable reports whether the worker may retry after err.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// RetryAfterOf returns the platform-supplied retry-after hint, or zero
// when the error carries none.
func RetryAfterOf(err error) time.Duration {
	var se *SyncError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
