package memoryclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall_SuccessRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, OpQuerySimilar, req.Op)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Ok: true, Result: json.RawMessage(`{"matches":[]}`)})
	}))
	defer server.Close()

	client := NewClient(server.URL, Settings{Timeout: time.Second, FailureThreshold: 5, OpenDuration: 30 * time.Second, MaxRetries: 2})
	resp, err := client.Call(context.Background(), "corr-1", OpQuerySimilar, map[string]string{"q": "x"})
	require.NoError(t, err)
	assert.True(t, resp.Ok)
}

func TestCall_RetriesOnAmbiguousFailure(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		if attempts < 2 {
			_ = json.NewEncoder(w).Encode(Response{Ok: false})
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Ok: true})
	}))
	defer server.Close()

	client := NewClient(server.URL, Settings{Timeout: time.Second, FailureThreshold: 5, OpenDuration: 30 * time.Second, MaxRetries: 3})
	resp, err := client.Call(context.Background(), "corr-2", OpUpsertVector, nil)
	require.NoError(t, err)
	assert.True(t, resp.Ok)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestCall_ExplicitErrorCodeDoesNotRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Ok: false, ErrorCode: "not_found", ErrorMessage: "no such vector"})
	}))
	defer server.Close()

	client := NewClient(server.URL, Settings{Timeout: time.Second, FailureThreshold: 5, OpenDuration: 30 * time.Second, MaxRetries: 3})
	resp, err := client.Call(context.Background(), "corr-3", OpQuerySimilar, nil)
	require.NoError(t, err)
	assert.False(t, resp.Ok)
	assert.Equal(t, "not_found", resp.ErrorCode)
	assert.Equal(t, 1, attempts)
}
