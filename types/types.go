package types

import "time"

// ImageHashRecord is one indexed listing image and its average hash
type ImageHashRecord struct {
	ListingID int64     `json:"listing_id"`
	ImageURL  string    `json:"image_url"`
	Hash      uint64    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchQuery holds an uploaded image
type SearchQuery struct {
	Data     []byte
	MimeType string
	Size     int64
}

// SimilarityCandidate is the best hash distance seen for a listing
type SimilarityCandidate struct {
	ListingID int64 `json:"listing_id"`
	Distance  int   `json:"distance"`
}

// EmbeddingMatch is a nearest-neighbor hit returned by the vector index
type EmbeddingMatch struct {
	ListingID int64   `json:"listing_id"`
	Distance  float64 `json:"distance"`
}

// OcrResult holds recognized text and the search terms derived from it
type OcrResult struct {
	RecognizedText string   `json:"recognized_text"`
	SearchTerms    []string `json:"search_terms"`
}

// Stage names the pipeline stage that produced a search result
type Stage string

const (
	StageNone      Stage = "none"
	StageEmbedding Stage = "embedding"
	StageHash      Stage = "hash"
	StageOCR       Stage = "ocr"
)

// SearchResponse is the result of an image search. A search that finds
// nothing still produces a response with empty slices.
type SearchResponse struct {
	Success        bool     `json:"success"`
	IDs            []int64  `json:"ids"`
	Compared       int      `json:"compared"`
	RecognizedText string   `json:"recognized_text"`
	SearchTerms    []string `json:"search_terms"`
	Query          string   `json:"query"`
	Stage          Stage    `json:"stage"`
}

// IndexStats summarises the hash store
type IndexStats struct {
	TotalImages int `json:"indexed_images"`
	Listings    int `json:"listings"`
}
