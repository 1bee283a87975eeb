package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError represents an HTTP error
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// IsRetryable reports whether the error is transient and worth retrying.
// Client errors other than 429 indicate a configuration problem that a
// retry cannot fix.
func IsRetryable(err error) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		// Network-level failures are assumed transient.
		return true
	}
	return httpErr.StatusCode >= http.StatusInternalServerError ||
		httpErr.StatusCode == http.StatusTooManyRequests
}
