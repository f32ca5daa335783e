package keyservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateKeyHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keyHandle":"h-1"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	handle, err := c.GetOrCreateKey(context.Background(), "db-password")
	require.NoError(t, err)
	assert.Equal(t, "h-1", handle)
}

// TestWithRetryRecordsKeyServiceErrorMetric exercises a non-retryable
// 409 (AEAD tag mismatch shape) terminal failure. withRetry records
// this under the error's Kind via metrics.RecordKeyServiceError, the
// way dispatcher.go records request outcomes; metrics_test.go in
// internal/metrics covers the counter itself since that package owns
// the unexported vector.
func TestWithRetryRecordsKeyServiceErrorMetric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"tag mismatch"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	_, err := c.GetOrCreateKey(context.Background(), "db-password")
	require.Error(t, err)
	ke, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCryptoFailure, ke.Kind)
}

func TestGetOrCreateKeyUpstreamErrorIsKeyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	c.retry.MaxAttempts = 1
	_, err := c.GetOrCreateKey(context.Background(), "db-password")
	require.Error(t, err)
	ke, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, ErrKeyUnavailable, ke.Kind)
}
