package scanner

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"listingfinder/logging"
)

// progressOutput receives the progress line; tests swap it out
var progressOutput io.Writer = os.Stdout

// NewProgressTracker starts consuming results for a batch of total images
func NewProgressTracker(total int, show bool, resultsChan <-chan ProcessImageResult) *ProgressTracker {
	tracker := &ProgressTracker{
		ticker:     time.NewTicker(500 * time.Millisecond),
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
		totalFiles: total,
		show:       show,
	}

	go tracker.displayProgress()
	go tracker.processResults(resultsChan)

	return tracker
}

// displayProgress shows the progress periodically
func (p *ProgressTracker) displayProgress() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			if !p.show {
				continue
			}
			p.mu.Lock()
			if p.errors > 0 {
				fmt.Fprintf(progressOutput, "\rProgress: %d/%d (Errors: %d, %s fetched)",
					p.processed, p.totalFiles, p.errors, humanize.IBytes(uint64(p.bytes)))
			} else {
				fmt.Fprintf(progressOutput, "\rProgress: %d/%d (%s fetched)",
					p.processed, p.totalFiles, humanize.IBytes(uint64(p.bytes)))
			}
			p.mu.Unlock()
		}
	}
}

// processResults updates the tracker state until resultsChan is closed
func (p *ProgressTracker) processResults(resultsChan <-chan ProcessImageResult) {
	defer close(p.finished)

	for result := range resultsChan {
		p.mu.Lock()
		p.processed++
		p.bytes += result.Bytes

		if !result.Success {
			p.errors++
			errMsg := ""
			if result.Error != nil {
				errMsg = result.Error.Error()
			}
			logging.LogImageProcessed(result.ListingID, result.ImageURL, false, errMsg)
		} else {
			logging.LogImageProcessed(result.ListingID, result.ImageURL, true, "")
		}
		p.mu.Unlock()
	}
}

// Stop waits for every result to be counted and ends the progress display
func (p *ProgressTracker) Stop() {
	<-p.finished
	p.ticker.Stop()
	close(p.done)
}

// Summary returns the counters collected so far
func (p *ProgressTracker) Summary() BatchSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	return BatchSummary{
		Total:   p.totalFiles,
		Indexed: p.processed - p.errors,
		Failed:  p.errors,
		Bytes:   p.bytes,
	}
}

// PrintCompletionStats displays statistics after a batch
func PrintCompletionStats(w io.Writer, summary BatchSummary) {
	fmt.Fprintln(w, "\nIndexing complete.")
	fmt.Fprintf(w, "Indexed %d/%d images (%s) in %v.\n",
		summary.Indexed, summary.Total, humanize.IBytes(uint64(summary.Bytes)), summary.Elapsed.Round(time.Millisecond))

	if summary.Failed > 0 {
		fmt.Fprintf(w, "Encountered %d errors during indexing.\n", summary.Failed)
		fmt.Fprintln(w, "Check the log file for details.")
	}
}
