// Package embedding talks to the image embedding model server and the
// qdrant collection holding listing image vectors.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"listingfinder/logging"
)

// Common errors
var (
	ErrEmptyImage     = errors.New("image data cannot be empty")
	ErrProviderFailed = errors.New("embedding provider failed")
	ErrEmptyVector    = errors.New("embedding provider returned an empty vector")
)

// HTTPEmbedderConfig configures an HTTPEmbedder
type HTTPEmbedderConfig struct {
	URL        string
	RatePerSec float64
	CacheSize  int
	Timeout    time.Duration
	Retry      RetryConfig
}

// HTTPEmbedder posts images to a model server and returns their embedding.
// Requests are rate limited and results cached by content hash.
type HTTPEmbedder struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *lru.Cache[string, []float32]
	retry      RetryConfig
}

type embedRequest struct {
	Image string `json:"image"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewHTTPEmbedder creates an embedder for the model server at cfg.URL
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) (*HTTPEmbedder, error) {
	if cfg.URL == "" {
		return nil, errors.New("embedding url is required")
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}

	return &HTTPEmbedder{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		cache:      cache,
		retry:      retry,
	}, nil
}

// EmbedImage returns the embedding vector for data
func (e *HTTPEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	key := contentHash(data)
	if vec, ok := e.cache.Get(key); ok {
		logging.DebugLog("Embedding cache hit for %s", key[:12])
		return append([]float32(nil), vec...), nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}

	vec, err := retryWithBackoff(ctx, e.retry, func() ([]float32, error) {
		return e.callAPI(ctx, data)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	e.cache.Add(key, vec)
	return append([]float32(nil), vec...), nil
}

// CacheLen reports how many query embeddings are cached
func (e *HTTPEmbedder) CacheLen() int {
	return e.cache.Len()
}

func (e *HTTPEmbedder) callAPI(ctx context.Context, data []byte) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Image: base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return nil, permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("model server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(err)
		}
		return nil, err
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(out.Embedding) == 0 {
		return nil, permanent(ErrEmptyVector)
	}

	return out.Embedding, nil
}

func contentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
