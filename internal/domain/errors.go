package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAuthentication covers bad push signatures and unknown handshake topics.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotFound means the item was withdrawn or made private upstream.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks failures worth retrying: timeouts, throttling, network.
	ErrTransient = errors.New("transient failure")
	ErrMalformedEntry    = errors.New("malformed feed entry")
	ErrRenewalFailed     = errors.New("subscription renewal failed")
	ErrQueueFull         = errors.New("ingest queue full")
	ErrInvalidTransition = errors.New("invalid subscription state transition")
	ErrUnknownChannel    = errors.New("unknown channel")
)

// TransientError wraps an upstream failure that should be retried.
type TransientError struct {
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// Transient builds a TransientError for op.
func Transient(op string, statusCode int, err error) error {
	if err == nil {
		err = errors.New("unexpected response")
	}
	return &TransientError{Op: op, StatusCode: statusCode, Err: err}
}

// RetryAfterHint extracts the upstream retry hint from err, if any.
func RetryAfterHint(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
