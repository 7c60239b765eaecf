package signalhandler

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"listingfinder/logging"
)

// SetupHandler returns a context cancelled on the first SIGINT or SIGTERM so
// servers and indexing batches can drain. A second signal exits immediately,
// which matters when a C library (OpenCV, Tesseract) is stuck in a call.
func SetupHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logging.LogInfo("Received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}

		sig := <-sigChan
		logging.LogWarning("Received %v again, exiting", sig)
		os.Exit(1)
	}()

	return ctx, cancel
}

// GetOptimalProcs returns the optimal number of worker goroutines for the system
func GetOptimalProcs() int {
	numCPU := runtime.NumCPU()

	// Hashing goes through CGo, too many goroutines can cause issues
	maxProcs := (numCPU * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}

	return maxProcs
}
