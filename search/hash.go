package search

import (
	"context"

	"listingfinder/imageprocessor"
)

// HashStage ranks stored listing hashes against the average hash of the query
type HashStage struct {
	retriever   *CandidateRetriever
	maxDistance int
	limit       int
}

// NewHashStage creates a hash stage
func NewHashStage(retriever *CandidateRetriever, maxDistance, limit int) *HashStage {
	return &HashStage{retriever: retriever, maxDistance: maxDistance, limit: limit}
}

// Search hashes data and ranks the candidate pool. An undecodable image
// returns an imageprocessor.DecodeError and a store failure an UpstreamError.
func (s *HashStage) Search(ctx context.Context, data []byte) (RankResult, error) {
	hash, err := imageprocessor.ComputeAverageHash(data)
	if err != nil {
		return RankResult{}, err
	}

	records, err := s.retriever.Retrieve(ctx)
	if err != nil {
		return RankResult{}, err
	}

	return Rank(hash, records, s.maxDistance, s.limit), nil
}
