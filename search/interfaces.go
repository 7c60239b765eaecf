package search

import (
	"context"

	"listingfinder/types"
)

// HashStore is the read side of the listing image hash index
type HashStore interface {
	// FetchRecent returns up to limit records, most recently updated first
	FetchRecent(ctx context.Context, limit int) ([]types.ImageHashRecord, error)

	// FetchAny returns up to limit records without ordering guarantees
	FetchAny(ctx context.Context, limit int) ([]types.ImageHashRecord, error)
}

// Embedder turns image bytes into an embedding vector
type Embedder interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
}

// EmbeddingIndex performs nearest-neighbor lookups over listing image embeddings
type EmbeddingIndex interface {
	Match(ctx context.Context, vector []float32, topK int) ([]types.EmbeddingMatch, error)
}

// OCREngine recognises text in an image. It may be slow and may fail.
type OCREngine interface {
	Recognize(ctx context.Context, data []byte, languages []string) (string, error)
}
