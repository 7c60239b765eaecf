package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"listingfinder/logging"
	"listingfinder/types"
)

// ListingIDField is the payload key holding a point's listing ID
const ListingIDField = "listing_id"

// Index errors
var (
	ErrCollectionNotFound = errors.New("vector collection not found")
	ErrIndexUnavailable   = errors.New("vector index unavailable")
)

// QdrantConfig holds connection settings for the vector index
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantIndex matches query vectors against listing image vectors stored
// in a qdrant collection using cosine similarity
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex connects to qdrant
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Collection == "" {
		return nil, errors.New("qdrant collection is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantIndex{client: client, collection: cfg.Collection}, nil
}

// Match returns up to topK nearest listing images. Distance is 1 - cosine score.
func (q *QdrantIndex) Match(ctx context.Context, vector []float32, topK int) ([]types.EmbeddingMatch, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classifyQdrantError(err)
	}

	return pointsToMatches(points), nil
}

// Close releases the underlying gRPC connection
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// pointsToMatches converts scored points, skipping points without a usable listing ID
func pointsToMatches(points []*qdrant.ScoredPoint) []types.EmbeddingMatch {
	matches := make([]types.EmbeddingMatch, 0, len(points))
	for _, p := range points {
		listingID, ok := listingIDFromPoint(p)
		if !ok {
			logging.LogWarning("Skipping vector point %v without a valid %s", p.GetId(), ListingIDField)
			continue
		}
		matches = append(matches, types.EmbeddingMatch{
			ListingID: listingID,
			Distance:  1 - float64(p.GetScore()),
		})
	}
	return matches
}

func listingIDFromPoint(p *qdrant.ScoredPoint) (int64, bool) {
	v, ok := p.GetPayload()[ListingIDField]
	if !ok || v == nil {
		return 0, false
	}

	var id int64
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_IntegerValue:
		id = kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		id = int64(kind.DoubleValue)
		if float64(id) != kind.DoubleValue {
			return 0, false
		}
	default:
		return 0, false
	}

	return id, id > 0
}

func classifyQdrantError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", ErrCollectionNotFound, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	default:
		return fmt.Errorf("qdrant query failed: %w", err)
	}
}
