// Package errors classifies failures from the model provider and tools so the
// engine can decide between retrying, surfacing to the model, and failing the
// task.
package errors

import (
	"context"
	goerrors "errors"
	"fmt"
	"net"
	"strings"
)

// TransientError wraps a failure that is expected to clear on retry.
type TransientError struct {
	Err        error
	Message    string
	RetryAfter int // seconds, 0 when the provider gave no hint
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable with a human-readable message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// PermanentError wraps a failure that retrying cannot fix.
type PermanentError struct {
	Err     error
	Message string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as non-retryable with a human-readable message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// retryableFragments are matched case-insensitively against provider error
// text when no typed classification is available.
var retryableFragments = []string{
	"503",
	"overloaded",
	"temporarily",
	"unavailable",
	"rate limit",
	"quota",
	"timeout",
	"timed out",
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transient *TransientError
	if goerrors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if goerrors.As(err, &permanent) {
		return false
	}

	if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if goerrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// RetryAfterHint extracts a provider-supplied retry delay in seconds, or 0.
func RetryAfterHint(err error) int {
	var transient *TransientError
	if goerrors.As(err, &transient) {
		return transient.RetryAfter
	}
	return 0
}
