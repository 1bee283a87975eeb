package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/httpclient"
)

func TestClientGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("successful request sets headers", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, httpclient.UserAgent, r.Header.Get("User-Agent"))
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message": "success"}`))
		}))
		t.Cleanup(server.Close)

		client := httpclient.NewDefaultClient(30 * time.Second)
		data, err := client.Get(ctx, server.URL)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"message": "success"}`), data)
	})

	t.Run("non-200 status returns HTTPError", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(server.Close)

		client := httpclient.NewDefaultClient(30 * time.Second)
		_, err := client.Get(ctx, server.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 404")
	})

	t.Run("network error", func(t *testing.T) {
		t.Parallel()

		client := httpclient.NewDefaultClient(time.Second)
		_, err := client.Get(ctx, "http://127.0.0.1:1")
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(time.Second)
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(server.Close)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		client := httpclient.NewDefaultClient(30 * time.Second)
		_, err := client.Get(cancelled, server.URL)
		require.Error(t, err)
	})
}
