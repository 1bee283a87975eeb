package httpclient_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/httpclient"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		statusCode    int
		url           string
		message       string
		expectedError string
	}{
		{
			name:          "create HTTPError with all fields",
			statusCode:    404,
			url:           "http://example.com",
			message:       "Not Found",
			expectedError: "HTTP 404 for URL http://example.com: Not Found",
		},
		{
			name:          "format error message correctly for 500",
			statusCode:    500,
			url:           "http://api.example.com/v1/courses",
			message:       "Internal Server Error",
			expectedError: "HTTP 500 for URL http://api.example.com/v1/courses: Internal Server Error",
		},
		{
			name:          "handle empty message",
			statusCode:    404,
			url:           "http://example.com",
			message:       "",
			expectedError: "HTTP 404 for URL http://example.com: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := httpclient.NewHTTPError(tt.statusCode, tt.url, tt.message)
			require.Error(t, err)
			assert.Equal(t, tt.expectedError, err.Error())
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "server error is retryable",
			err:       httpclient.NewHTTPError(500, "http://example.com", "Internal Server Error"),
			retryable: true,
		},
		{
			name:      "bad gateway is retryable",
			err:       httpclient.NewHTTPError(502, "http://example.com", "Bad Gateway"),
			retryable: true,
		},
		{
			name:      "rate limit is retryable",
			err:       httpclient.NewHTTPError(429, "http://example.com", "Too Many Requests"),
			retryable: true,
		},
		{
			name:      "unauthorized is not retryable",
			err:       httpclient.NewHTTPError(401, "http://example.com", "Unauthorized"),
			retryable: false,
		},
		{
			name:      "not found is not retryable",
			err:       httpclient.NewHTTPError(404, "http://example.com", "Not Found"),
			retryable: false,
		},
		{
			name:      "network error is retryable",
			err:       errors.New("connection refused"),
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.retryable, httpclient.IsRetryable(tt.err))
		})
	}
}
