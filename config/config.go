// Package config holds the runtime configuration shared by the CLI, the
// HTTP server and the indexing pipeline.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Defaults
const (
	DefaultListenAddr               = ":8080"
	DefaultEmbeddingMaxDistance     = 0.35
	DefaultEmbeddingTopK            = 48
	DefaultEmbeddingRatePerSec      = 10.0
	DefaultEmbeddingCacheSize       = 1024
	DefaultQdrantHost               = "localhost"
	DefaultQdrantPort               = 6334
	DefaultQdrantCollection         = "listing_images"
	DefaultOCRTimeout               = 5000 * time.Millisecond
	DefaultAHashMaxDistance         = 12
	DefaultResultLimit              = 24
	DefaultMaxUploadBytes           = 10 * 1024 * 1024
	DefaultCandidateRecentLimit     = 600
	DefaultCandidateWideLimit       = 2000
	DefaultCandidateSparseThreshold = 50
)

// DefaultOCRLanguages are the Tesseract language packs used for recognition
var DefaultOCRLanguages = []string{"nld", "eng"}

// Config is the full set of recognised options
type Config struct {
	DatabasePath string
	ListenAddr   string
	Debug        bool
	LogFile      string

	EmbeddingsEnabled    bool
	EmbeddingMaxDistance float64
	EmbeddingTopK        int
	EmbeddingURL         string
	EmbeddingRatePerSec  float64
	EmbeddingCacheSize   int
	QdrantHost           string
	QdrantPort           int
	QdrantCollection     string
	QdrantAPIKey         string

	OCREnabled    bool
	OCRTimeout    time.Duration
	OCRLanguages  []string
	StopwordsFile string

	AHashMaxDistance int
	ResultLimit      int
	MaxUploadBytes   int64

	CandidateRecentLimit     int
	CandidateWideLimit       int
	CandidateSparseThreshold int

	ParallelStages bool
	IndexWorkers   int
}

// Default returns a Config with every option at its documented default
func Default() Config {
	return Config{
		ListenAddr:               DefaultListenAddr,
		EmbeddingMaxDistance:     DefaultEmbeddingMaxDistance,
		EmbeddingTopK:            DefaultEmbeddingTopK,
		EmbeddingRatePerSec:      DefaultEmbeddingRatePerSec,
		EmbeddingCacheSize:       DefaultEmbeddingCacheSize,
		QdrantHost:               DefaultQdrantHost,
		QdrantPort:               DefaultQdrantPort,
		QdrantCollection:         DefaultQdrantCollection,
		OCREnabled:               true,
		OCRTimeout:               DefaultOCRTimeout,
		OCRLanguages:             append([]string(nil), DefaultOCRLanguages...),
		AHashMaxDistance:         DefaultAHashMaxDistance,
		ResultLimit:              DefaultResultLimit,
		MaxUploadBytes:           DefaultMaxUploadBytes,
		CandidateRecentLimit:     DefaultCandidateRecentLimit,
		CandidateWideLimit:       DefaultCandidateWideLimit,
		CandidateSparseThreshold: DefaultCandidateSparseThreshold,
	}
}

// Validate checks option ranges
func (c Config) Validate() error {
	var errs []error

	if c.AHashMaxDistance < 0 || c.AHashMaxDistance > 64 {
		errs = append(errs, fmt.Errorf("ahash_max_distance must be within 0..64, got %d", c.AHashMaxDistance))
	}
	if c.ResultLimit <= 0 {
		errs = append(errs, fmt.Errorf("result_limit must be positive, got %d", c.ResultLimit))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.OCRTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ocr_timeout_ms must be positive, got %v", c.OCRTimeout))
	}
	if c.CandidateRecentLimit <= 0 || c.CandidateWideLimit <= 0 {
		errs = append(errs, errors.New("candidate limits must be positive"))
	}
	if c.EmbeddingsEnabled {
		if c.EmbeddingMaxDistance < 0 {
			errs = append(errs, fmt.Errorf("embedding_max_distance must not be negative, got %v", c.EmbeddingMaxDistance))
		}
		if c.EmbeddingTopK <= 0 {
			errs = append(errs, fmt.Errorf("embedding_top_k must be positive, got %d", c.EmbeddingTopK))
		}
		if c.EmbeddingURL == "" {
			errs = append(errs, errors.New("embedding_url is required when embeddings are enabled"))
		}
	}
	if c.OCREnabled && len(c.OCRLanguages) == 0 {
		errs = append(errs, errors.New("ocr_languages must name at least one language"))
	}

	return errors.Join(errs...)
}
