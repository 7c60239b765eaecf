package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"listingfinder/types"
)

func TestRank_ThresholdIsInclusive(t *testing.T) {
	records := []types.ImageHashRecord{
		record(1, hashAtDistance(0, 12)),
		record(2, hashAtDistance(0, 13)),
	}

	res := Rank(0, records, 12, 24)

	assert.Equal(t, []int64{1}, res.IDs())
	assert.Equal(t, 1, res.Compared)
	assert.Equal(t, 12, res.Candidates[0].Distance)
}

func TestRank_KeepsMinimumPerListing(t *testing.T) {
	records := []types.ImageHashRecord{
		record(7, hashAtDistance(0, 20)),
		record(7, hashAtDistance(0, 5)),
		record(7, hashAtDistance(0, 30)),
	}

	res := Rank(0, records, 64, 24)

	assert.Equal(t, []types.SimilarityCandidate{{ListingID: 7, Distance: 5}}, res.Candidates)
	assert.Equal(t, 1, res.Compared)
}

func TestRank_OrdersByDistanceThenListingID(t *testing.T) {
	records := []types.ImageHashRecord{
		record(30, hashAtDistance(0, 4)),
		record(10, hashAtDistance(0, 4)),
		record(20, hashAtDistance(0, 1)),
		record(5, hashAtDistance(0, 9)),
	}

	res := Rank(0, records, 12, 24)

	assert.Equal(t, []int64{20, 10, 30, 5}, res.IDs())
}

func TestRank_TruncatesButReportsAllSurvivors(t *testing.T) {
	var records []types.ImageHashRecord
	for i := int64(1); i <= 30; i++ {
		records = append(records, record(i, hashAtDistance(0, int(i%10))))
	}

	res := Rank(0, records, 12, 24)

	assert.Len(t, res.Candidates, 24)
	assert.Equal(t, 30, res.Compared)
}

func TestRank_EmptyResults(t *testing.T) {
	res := Rank(0, nil, 12, 24)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 0, res.Compared)

	res = Rank(0, []types.ImageHashRecord{record(1, ^uint64(0))}, 12, 24)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, 0, res.Compared)
	assert.NotNil(t, res.IDs())
}

func TestRank_IdenticalAndUnrelated(t *testing.T) {
	records := []types.ImageHashRecord{
		record(1, splitHash),
		record(2, hashAtDistance(splitHash, 30)),
	}

	res := Rank(splitHash, records, 12, 24)

	assert.Equal(t, []int64{1}, res.IDs())
	assert.Equal(t, 1, res.Compared)
}
