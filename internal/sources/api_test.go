package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

func apiConfig(endpoint string) *config.Config {
	return &config.Config{
		Source: config.SourceConfig{
			API: &config.APISourceConfig{Endpoint: endpoint},
		},
	}
}

// fastRetryHandler returns an API handler whose retries do not sleep.
func fastRetryHandler() *APISourceHandler {
	handler := NewAPISourceHandler()
	handler.retryOpts = []backoff.RetryOption{
		backoff.WithBackOff(&backoff.ZeroBackOff{}),
		backoff.WithMaxTries(3),
	}
	return handler
}

func TestAPISourceHandlerValidate(t *testing.T) {
	t.Parallel()

	handler := NewAPISourceHandler()

	tests := []struct {
		name        string
		source      *config.SourceConfig
		expectError string
	}{
		{
			name:   "valid",
			source: &config.SourceConfig{API: &config.APISourceConfig{Endpoint: "https://lms.example.edu"}},
		},
		{
			name:        "nil source",
			expectError: "source configuration cannot be nil",
		},
		{
			name:        "missing api config",
			source:      &config.SourceConfig{},
			expectError: "api configuration is required",
		},
		{
			name:        "empty endpoint",
			source:      &config.SourceConfig{API: &config.APISourceConfig{}},
			expectError: "api endpoint cannot be empty",
		},
		{
			name:        "bad timeout",
			source:      &config.SourceConfig{API: &config.APISourceConfig{Endpoint: "https://lms.example.edu", Timeout: "soon"}},
			expectError: "invalid api timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := handler.Validate(tt.source)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAPISourceHandlerFetchSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fetches and converts export", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/export", r.URL.Path)
			assert.Empty(t, r.URL.Query().Get("course"))
			_, _ = w.Write([]byte(validExportJSON))
		}))
		t.Cleanup(server.Close)

		handler := fastRetryHandler()
		result, err := handler.FetchSnapshot(ctx, apiConfig(server.URL), snapshot.AllScope())
		require.NoError(t, err)
		require.NotNil(t, result.Snapshot)
		assert.Equal(t, 2, result.Counts.Courses)
		assert.NotEmpty(t, result.Hash)
	})

	t.Run("passes course scope to the LMS", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "501", r.URL.Query().Get("course"))
			_, _ = w.Write([]byte(validExportJSON))
		}))
		t.Cleanup(server.Close)

		handler := fastRetryHandler()
		result, err := handler.FetchSnapshot(ctx, apiConfig(server.URL), snapshot.CourseScope("501"))
		require.NoError(t, err)
		// Narrowing still happens locally in case the LMS ignores the parameter.
		assert.Equal(t, 1, result.Counts.Courses)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(validExportJSON))
		}))
		t.Cleanup(server.Close)

		handler := fastRetryHandler()
		result, err := handler.FetchSnapshot(ctx, apiConfig(server.URL), snapshot.AllScope())
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, 2, result.Counts.Courses)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		t.Cleanup(server.Close)

		handler := fastRetryHandler()
		_, err := handler.FetchSnapshot(ctx, apiConfig(server.URL), snapshot.AllScope())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 401")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("gives up after max tries", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		t.Cleanup(server.Close)

		handler := fastRetryHandler()
		_, err := handler.FetchSnapshot(ctx, apiConfig(server.URL), snapshot.AllScope())
		require.Error(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("rejects incompatible export version", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"export_version": "2.0.0"}`))
		}))
		t.Cleanup(server.Close)

		handler := fastRetryHandler()
		_, err := handler.FetchSnapshot(ctx, apiConfig(server.URL), snapshot.AllScope())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported export_version")
	})
}

func TestAPISourceHandlerCurrentHash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	payload := []byte(validExportJSON)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	handler := fastRetryHandler()
	cfg := apiConfig(server.URL)

	hash, err := handler.CurrentHash(ctx, cfg, snapshot.AllScope())
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	result, err := handler.FetchSnapshot(ctx, cfg, snapshot.AllScope())
	require.NoError(t, err)
	assert.Equal(t, hash, result.Hash)
}

func TestAPISourceHandlerExportURL(t *testing.T) {
	t.Parallel()

	handler := NewAPISourceHandler()
	cfg := apiConfig("https://lms.example.edu/api/")

	assert.Equal(t, "https://lms.example.edu/api/v1/export",
		handler.exportURL(cfg, snapshot.AllScope()))
	assert.Equal(t, "https://lms.example.edu/api/v1/export?course=501",
		handler.exportURL(cfg, snapshot.CourseScope("501")))
}

func TestAPISourceHandlerHonorsConfiguredTimeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(validExportJSON))
	}))
	t.Cleanup(server.Close)

	cfg := apiConfig(server.URL)
	cfg.Source.API.Timeout = "50ms"

	handler := fastRetryHandler()
	_, err := handler.FetchSnapshot(context.Background(), cfg, snapshot.AllScope())
	require.Error(t, err)
}
