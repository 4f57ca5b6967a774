package socket

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a session after Close.
var ErrClosed = errors.New("socket session closed")

// PreconditionError reports an operation attempted in a state that forbids it.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("socket %s: %s", e.Op, e.Reason)
}

// AuthFailure reports that the server rejected the socket auth command.
type AuthFailure struct {
	Status string
}

func (e *AuthFailure) Error() string {
	if e.Status == "" {
		return "socket auth failed"
	}
	return "socket auth failed: " + e.Status
}

// ReconnectExhausted is delivered on the error channel when every reconnect
// attempt failed.
type ReconnectExhausted struct {
	Attempts int
	Err      error
}

func (e *ReconnectExhausted) Error() string {
	return fmt.Sprintf("reconnection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ReconnectExhausted) Unwrap() error {
	return e.Err
}
