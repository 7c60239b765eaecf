package search

import (
	"context"

	"github.com/sirupsen/logrus"

	"listingfinder/logging"
	"listingfinder/types"
)

// CandidateRetriever chooses which stored hash records a query is compared against
type CandidateRetriever struct {
	store           HashStore
	recentLimit     int
	wideLimit       int
	sparseThreshold int
}

// NewCandidateRetriever creates a retriever that reads recentLimit records and
// widens to wideLimit when fewer than sparseThreshold recent records exist
func NewCandidateRetriever(store HashStore, recentLimit, wideLimit, sparseThreshold int) *CandidateRetriever {
	return &CandidateRetriever{
		store:           store,
		recentLimit:     recentLimit,
		wideLimit:       wideLimit,
		sparseThreshold: sparseThreshold,
	}
}

// Retrieve returns the candidate pool. The wide fetch replaces the recent
// one rather than extending it. A store failure is returned as an
// UpstreamError and callers treat it as an empty pool.
func (r *CandidateRetriever) Retrieve(ctx context.Context) ([]types.ImageHashRecord, error) {
	records, err := r.store.FetchRecent(ctx, r.recentLimit)
	if err != nil {
		return nil, upstream("hash_store", err)
	}

	if len(records) >= r.sparseThreshold {
		return records, nil
	}

	logging.WithFields(logrus.Fields{
		"recent":    len(records),
		"threshold": r.sparseThreshold,
		"wide":      r.wideLimit,
	}).Debug("Recent candidate pool is sparse, widening")

	wide, err := r.store.FetchAny(ctx, r.wideLimit)
	if err != nil {
		return nil, upstream("hash_store", err)
	}
	return wide, nil
}
