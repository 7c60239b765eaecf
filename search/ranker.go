package search

import (
	"sort"

	"listingfinder/imageprocessor"
	"listingfinder/types"
)

// RankResult is the outcome of ranking hash records against a query hash
type RankResult struct {
	Candidates []types.SimilarityCandidate
	// Compared is the number of listings within the distance threshold,
	// counted before truncation to the result limit
	Compared int
}

// IDs returns the listing IDs of the ranked candidates in order
func (r RankResult) IDs() []int64 {
	ids := make([]int64, len(r.Candidates))
	for i, c := range r.Candidates {
		ids[i] = c.ListingID
	}
	return ids
}

// Rank keeps the closest image per listing, drops listings further than
// maxDistance bits from the query and orders the rest by ascending distance.
// Ties resolve by ascending listing ID. A non-positive limit disables
// truncation.
func Rank(query uint64, records []types.ImageHashRecord, maxDistance, limit int) RankResult {
	best := make(map[int64]int, len(records))
	for _, rec := range records {
		d := imageprocessor.HammingDistance(query, rec.Hash)
		if cur, ok := best[rec.ListingID]; !ok || d < cur {
			best[rec.ListingID] = d
		}
	}

	candidates := make([]types.SimilarityCandidate, 0, len(best))
	for id, d := range best {
		if d <= maxDistance {
			candidates = append(candidates, types.SimilarityCandidate{ListingID: id, Distance: d})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ListingID < candidates[j].ListingID
	})

	compared := len(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	return RankResult{Candidates: candidates, Compared: compared}
}
