package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingfinder/logging"
)

func init() {
	logging.SetOutput(io.Discard)
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestEmbedder(t *testing.T, url string) *HTTPEmbedder {
	t.Helper()
	e, err := NewHTTPEmbedder(HTTPEmbedderConfig{URL: url, CacheSize: 8, Retry: fastRetry()})
	require.NoError(t, err)
	return e
}

func TestEmbedImage(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req embedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.Image)
		assert.NoError(t, err)
		assert.Equal(t, []byte("jpeg bytes"), raw)

		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.25, 0.5, 0.25}})
	}))
	defer server.Close()

	e := newTestEmbedder(t, server.URL)

	vec, err := e.EmbedImage(context.Background(), []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 0.25}, vec)

	t.Run("cached by content", func(t *testing.T) {
		vec[0] = 99
		again, err := e.EmbedImage(context.Background(), []byte("jpeg bytes"))
		require.NoError(t, err)
		assert.Equal(t, []float32{0.25, 0.5, 0.25}, again, "callers cannot mutate the cached vector")
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, e.CacheLen())
	})
}

func TestEmbedImage_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{1}})
	}))
	defer server.Close()

	vec, err := newTestEmbedder(t, server.URL).EmbedImage(context.Background(), []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedImage_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unsupported image", http.StatusBadRequest)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{not json"))
		}},
		{"empty vector", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"embedding": []}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer server.Close()

			_, err := newTestEmbedder(t, server.URL).EmbedImage(context.Background(), []byte("img"))

			assert.ErrorIs(t, err, ErrProviderFailed)
			assert.Equal(t, int32(1), calls.Load(), "permanent failures are not retried")
		})
	}
}

func TestEmbedImage_EmptyInput(t *testing.T) {
	e := newTestEmbedder(t, "http://127.0.0.1:1")

	_, err := e.EmbedImage(context.Background(), nil)

	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestNewHTTPEmbedder_RequiresURL(t *testing.T) {
	_, err := NewHTTPEmbedder(HTTPEmbedderConfig{})
	assert.Error(t, err)
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := retryWithBackoff(ctx, fastRetry(), func() (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
