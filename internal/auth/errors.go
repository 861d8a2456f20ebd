package auth

import "fmt"

// ValidationError is a local input problem. It never reaches the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ResponseShapeError means a login response matched none of the
// recognised shapes. Raw holds the response for diagnostics.
type ResponseShapeError struct {
	Message string
	Raw     []byte
}

func (e *ResponseShapeError) Error() string { return e.Message }
