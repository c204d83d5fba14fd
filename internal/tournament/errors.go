package tournament

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable is returned when the backend cannot be reached
	// or answers without a result envelope.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidArgument is returned before any I/O when a required identifier is missing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAuthentication is returned when a bearer credential cannot be obtained.
	ErrAuthentication = errors.New("authentication failed")
)

// HTTPError represents a non-2xx HTTP response from the backend.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}
