package search

import (
	"context"
	"errors"
	"math"
	"sort"

	"listingfinder/types"
)

// EmbeddingStage searches the vector index for listings whose images are
// semantically close to the query
type EmbeddingStage struct {
	embedder    Embedder
	index       EmbeddingIndex
	maxDistance float64
	topK        int
	limit       int
}

// NewEmbeddingStage creates an embedding stage
func NewEmbeddingStage(embedder Embedder, index EmbeddingIndex, maxDistance float64, topK, limit int) *EmbeddingStage {
	return &EmbeddingStage{
		embedder:    embedder,
		index:       index,
		maxDistance: maxDistance,
		topK:        topK,
		limit:       limit,
	}
}

// EmbeddingResult holds filtered matches and the number of listings that
// passed the distance filter before truncation
type EmbeddingResult struct {
	Matches  []types.EmbeddingMatch
	Compared int
}

// IDs returns the listing IDs of the matches in order
func (r EmbeddingResult) IDs() []int64 {
	ids := make([]int64, len(r.Matches))
	for i, m := range r.Matches {
		ids[i] = m.ListingID
	}
	return ids
}

// Search embeds data and returns the filtered, ordered matches. Collaborator
// failures come back as UpstreamError.
func (s *EmbeddingStage) Search(ctx context.Context, data []byte) (EmbeddingResult, error) {
	vector, err := s.embedder.EmbedImage(ctx, data)
	if err != nil {
		return EmbeddingResult{}, upstream("embedding", err)
	}
	if len(vector) == 0 {
		return EmbeddingResult{}, upstream("embedding", errors.New("embedder returned an empty vector"))
	}

	matches, err := s.index.Match(ctx, vector, s.topK)
	if err != nil {
		return EmbeddingResult{}, upstream("embedding_index", err)
	}

	return FilterEmbeddingMatches(matches, s.maxDistance, s.limit), nil
}

// FilterEmbeddingMatches keeps the closest match per listing within
// maxDistance, ordered by ascending distance then listing ID. Matches with
// a non-positive listing ID or a non-finite distance are dropped.
func FilterEmbeddingMatches(matches []types.EmbeddingMatch, maxDistance float64, limit int) EmbeddingResult {
	best := make(map[int64]float64, len(matches))
	for _, m := range matches {
		if m.ListingID <= 0 || math.IsNaN(m.Distance) || math.IsInf(m.Distance, 0) {
			continue
		}
		if m.Distance > maxDistance {
			continue
		}
		if cur, ok := best[m.ListingID]; !ok || m.Distance < cur {
			best[m.ListingID] = m.Distance
		}
	}

	out := make([]types.EmbeddingMatch, 0, len(best))
	for id, d := range best {
		out = append(out, types.EmbeddingMatch{ListingID: id, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ListingID < out[j].ListingID
	})

	compared := len(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return EmbeddingResult{Matches: out, Compared: compared}
}
