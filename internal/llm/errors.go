package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransientError is a temporary failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError is a permanent failure that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// classifyStatus maps an HTTP status from a provider into a transient or
// fatal error.
func classifyStatus(statusCode int, err error) error {
	wrapped := fmt.Errorf("LLM API error (status %d): %w", statusCode, err)

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout,
		statusCode >= 500:
		return NewTransientError(wrapped)
	default:
		return NewFatalError(wrapped)
	}
}

// classifyTransport classifies errors that carry no HTTP status: network
// failures and timeouts are transient, cancellation is returned as is.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}
