package client

import (
	"fmt"
	"net/http"
)

// RemoteError is a non-2xx response the executor does not retry.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int
	Status     string
	Body       []byte
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "http request failed"
	}
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Method == "" {
		return status
	}
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, status)
}

// TransportError is returned once MaxTransportRetries consecutive attempts
// failed without a response.
type TransportError struct {
	Method   string
	Path     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: no response after %d attempts: %v", e.Method, e.Path, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
