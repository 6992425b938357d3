// ABOUTME: Error types for backend API responses
// ABOUTME: APIError carries the HTTP status so callers can tell auth rejections from outages

package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned for any non-2xx response
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
}

// StatusCode extracts the HTTP status from an APIError anywhere in the chain.
// Returns 0 when err is not an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsAuthRejection reports whether the backend explicitly refused the token.
func IsAuthRejection(err error) bool {
	switch StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
