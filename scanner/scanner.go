// Package scanner indexes listing images: it loads each image, computes its
// average hash and upserts it into the hash store on a bounded worker pool.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"listingfinder/imageprocessor"
	"listingfinder/logging"
	"listingfinder/signalhandler"
)

// ErrIndexerClosed is returned when submitting to a released indexer
var ErrIndexerClosed = errors.New("indexer is closed")

// Indexer hashes and stores listing images
type Indexer struct {
	store   HashUpserter
	loader  ImageLoader
	pool    *ants.Pool
	options IndexOptions
	pending sync.WaitGroup
}

// NewIndexer creates an indexer with its own worker pool
func NewIndexer(store HashUpserter, loader ImageLoader, options IndexOptions) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("indexer: hash store is required")
	}
	if loader == nil {
		loader = NewSourceLoader(options.FetchTimeout, options.MaxImageBytes)
	}
	if options.Workers <= 0 {
		options.Workers = signalhandler.GetOptimalProcs()
	}

	pool, err := ants.NewPool(options.Workers,
		ants.WithMaxBlockingTasks(options.Workers*64),
		ants.WithPanicHandler(func(r interface{}) {
			logging.LogError("Panic in indexing worker: %v\n%s", r, debug.Stack())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Indexer{
		store:   store,
		loader:  loader,
		pool:    pool,
		options: options,
	}, nil
}

// IndexBatch indexes every job and waits for all of them. A failing image
// never stops the rest of the batch; per-image results are returned in job
// order. Jobs not yet started when ctx is cancelled fail with ctx.Err().
func (ix *Indexer) IndexBatch(ctx context.Context, jobs []IndexJob) ([]ProcessImageResult, BatchSummary) {
	startTime := time.Now()
	results := make([]ProcessImageResult, len(jobs))
	resultsChan := make(chan ProcessImageResult, 100)

	if ix.options.DebugMode {
		logging.DebugLog("Starting index batch of %d images with %d workers", len(jobs), ix.options.Workers)
	}
	tracker := NewProgressTracker(len(jobs), ix.options.ShowProgress, resultsChan)

	var wg sync.WaitGroup
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			results[i] = ProcessImageResult{ListingID: job.ListingID, ImageURL: job.ImageURL, Error: err}
			resultsChan <- results[i]
			continue
		}

		wg.Add(1)
		err := ix.pool.Submit(func() {
			defer wg.Done()
			results[i] = ix.processAndStoreImage(ctx, job)
			resultsChan <- results[i]
		})
		if err != nil {
			wg.Done()
			results[i] = ProcessImageResult{
				ListingID: job.ListingID,
				ImageURL:  job.ImageURL,
				Error:     fmt.Errorf("cannot schedule image: %w", err),
			}
			resultsChan <- results[i]
		}
	}

	wg.Wait()
	close(resultsChan)
	tracker.Stop()

	summary := tracker.Summary()
	summary.Elapsed = time.Since(startTime)
	return results, summary
}

// Submit queues one job without waiting for it. The outcome is logged.
func (ix *Indexer) Submit(ctx context.Context, job IndexJob) error {
	if ix.pool.IsClosed() {
		return ErrIndexerClosed
	}

	ix.pending.Add(1)
	err := ix.pool.Submit(func() {
		defer ix.pending.Done()
		result := ix.processAndStoreImage(ctx, job)
		errMsg := ""
		if result.Error != nil {
			errMsg = result.Error.Error()
		}
		logging.LogImageProcessed(result.ListingID, result.ImageURL, result.Success, errMsg)
	})
	if err != nil {
		ix.pending.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrIndexerClosed
		}
		return fmt.Errorf("cannot schedule image: %w", err)
	}
	return nil
}

// Wait blocks until every job queued through Submit has finished
func (ix *Indexer) Wait() {
	ix.pending.Wait()
}

// Running reports the number of busy workers
func (ix *Indexer) Running() int {
	return ix.pool.Running()
}

// Close waits up to timeout for queued work and releases the pool
func (ix *Indexer) Close(timeout time.Duration) error {
	return ix.pool.ReleaseTimeout(timeout)
}

// processAndStoreImage loads, hashes and stores a single image. Panics from
// the C image libraries are turned into a failed result.
func (ix *Indexer) processAndStoreImage(ctx context.Context, job IndexJob) (result ProcessImageResult) {
	result = ProcessImageResult{
		ListingID: job.ListingID,
		ImageURL:  job.ImageURL,
	}

	defer func() {
		if r := recover(); r != nil {
			stackTrace := debug.Stack()
			logging.LogError("Panic while indexing %s: %v\nStack trace: %s", job.ImageURL, r, string(stackTrace))
			result.Success = false
			result.Error = fmt.Errorf("panic while indexing image: %v", r)
		}
	}()

	if job.ListingID <= 0 || job.ImageURL == "" {
		result.Error = fmt.Errorf("invalid job: listing id %d, image %q", job.ListingID, job.ImageURL)
		return result
	}

	data, err := ix.loader.Load(ctx, job.ImageURL)
	if err != nil {
		result.Error = err
		return result
	}
	result.Bytes = int64(len(data))

	hash, err := imageprocessor.ComputeAverageHash(data)
	if err != nil {
		result.Error = fmt.Errorf("cannot compute average hash for %s: %w", job.ImageURL, err)
		return result
	}

	if err := ix.store.Upsert(ctx, job.ListingID, job.ImageURL, hash); err != nil {
		result.Error = fmt.Errorf("cannot store hash for %s: %w", job.ImageURL, err)
		return result
	}

	if ix.options.DebugMode {
		logging.DebugLog("Indexed listing %d image %s hash %s", job.ListingID, job.ImageURL, imageprocessor.FormatHash(hash))
	}

	result.Success = true
	return result
}
