package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type headerSigner struct {
	key string
}

func (s *headerSigner) SignRequest(req *http.Request) error {
	req.Header.Set("X-API-KEY", s.key)
	return nil
}

func TestClientRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	body, err := client.Get(context.Background(), "/", nil)

	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, 3, attempts)
}

func TestClientOpensBreakerAfterRepeatedFailures(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	for i := 0; i < 6; i++ {
		_, _ = client.Get(context.Background(), "/", nil)
	}

	// Breaker trips at 5 failures out of 10, so the next call must fail
	// without reaching the server.
	before := attempts
	_, err := client.Get(context.Background(), "/", nil)

	require.Error(t, err)
	assert.Equal(t, before, attempts)
}

func TestClientReturnsAPIErrorForClientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1100}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	_, err := client.Get(context.Background(), "/", nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, string(apiErr.Body), "-1100")
}

func TestClientEncodesQueryAndSigns(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, &headerSigner{key: "k-123"})
	_, err := client.Get(context.Background(), "/orders", map[string]string{"symbol": "BTCUSDT"})

	require.NoError(t, err)
	assert.Equal(t, "/orders", got.URL.Path)
	assert.Equal(t, "BTCUSDT", got.URL.Query().Get("symbol"))
	assert.Equal(t, "k-123", got.Header.Get("X-API-KEY"))
}

func TestClientPostsJSONBody(t *testing.T) {
	var decoded map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, nil)
	_, err := client.Post(context.Background(), "/echo", map[string]string{"hello": "world"})

	require.NoError(t, err)
	assert.Equal(t, "world", decoded["hello"])
}
