package scanner

import (
	"context"
	"sync"
	"time"
)

// HashUpserter is the write side of the hash store
type HashUpserter interface {
	Upsert(ctx context.Context, listingID int64, imageURL string, hash uint64) error
}

// IndexJob names one listing image to hash and store
type IndexJob struct {
	ListingID int64
	ImageURL  string
}

// IndexOptions defines the options for indexing
type IndexOptions struct {
	Workers       int           // Pool size, defaults to signalhandler.GetOptimalProcs
	MaxImageBytes int64         // Images larger than this are rejected
	FetchTimeout  time.Duration // Per-image download timeout for http(s) URLs
	ShowProgress  bool          // Print a progress line while a batch runs
	DebugMode     bool
}

// ProcessImageResult holds the result of indexing one image
type ProcessImageResult struct {
	ListingID int64
	ImageURL  string
	Success   bool
	Bytes     int64
	Error     error
}

// BatchSummary describes a finished batch
type BatchSummary struct {
	Total   int
	Indexed int
	Failed  int
	Bytes   int64
	Elapsed time.Duration
}

// ProgressTracker tracks progress of a batch
type ProgressTracker struct {
	processed  int
	errors     int
	bytes      int64
	totalFiles int
	ticker     *time.Ticker
	done       chan struct{}
	finished   chan struct{}
	mu         sync.Mutex
	show       bool
}
