package transport

import (
	"fmt"
)

// NetworkMessage is the message of every NetworkError.
const NetworkMessage = "Could not connect to server"

// NetworkError means the backend could not be reached: DNS failure,
// refused connection, timeout or caller cancellation. It is never retried
// by the transport.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return NetworkMessage }

func (e *NetworkError) Unwrap() error { return e.Err }

// DecodeError means the backend declared a JSON body and sent something
// else. Excerpt holds the first 100 characters of the raw body.
type DecodeError struct {
	Status  int
	Excerpt string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid JSON response: %s", e.Excerpt)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response. Message comes from the body's "error"
// or "message" field when present.
type HTTPError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string { return e.Message }

// Temporary reports whether the status is a server-side failure.
func (e *HTTPError) Temporary() bool {
	return e.Status >= 500
}
