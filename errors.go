// Package cortex provides a Go client for the Cortex orchestrator API.
package cortex

import (
	"errors"
	"fmt"
)

// Error represents an error from the Cortex API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cortex: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsBadRequest returns true if the error is a 400, which covers malformed
// requests as well as unknown voting modes.
func IsBadRequest(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 400
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}
