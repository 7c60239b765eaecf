package search

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"listingfinder/logging"
	"listingfinder/types"
)

func init() {
	logging.SetOutput(io.Discard)
}

type fakeStore struct {
	recent    []types.ImageHashRecord
	any       []types.ImageHashRecord
	recentErr error
	anyErr    error

	recentCalls atomic.Int32
	anyCalls    atomic.Int32
}

func (f *fakeStore) FetchRecent(ctx context.Context, limit int) ([]types.ImageHashRecord, error) {
	f.recentCalls.Add(1)
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return head(f.recent, limit), nil
}

func (f *fakeStore) FetchAny(ctx context.Context, limit int) ([]types.ImageHashRecord, error) {
	f.anyCalls.Add(1)
	if f.anyErr != nil {
		return nil, f.anyErr
	}
	return head(f.any, limit), nil
}

func (f *fakeStore) calls() int {
	return int(f.recentCalls.Load() + f.anyCalls.Load())
}

func head(records []types.ImageHashRecord, limit int) []types.ImageHashRecord {
	if len(records) > limit {
		return records[:limit]
	}
	return records
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  atomic.Int32
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	f.calls.Add(1)
	return f.vector, f.err
}

type fakeIndex struct {
	matches []types.EmbeddingMatch
	err     error
	topK    int
}

func (f *fakeIndex) Match(ctx context.Context, vector []float32, topK int) ([]types.EmbeddingMatch, error) {
	f.topK = topK
	return f.matches, f.err
}

type fakeOCR struct {
	text      string
	err       error
	delay     time.Duration
	panicMsg  string
	calls     atomic.Int32
	languages []string
}

func (f *fakeOCR) Recognize(ctx context.Context, data []byte, languages []string) (string, error) {
	f.calls.Add(1)
	f.languages = languages
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.text, f.err
}

// splitPNG encodes a 64x64 image whose left half is black and right half white
func splitPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if x >= 32 {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// splitHash is the average hash of splitPNG
const splitHash uint64 = 0x0F0F0F0F0F0F0F0F

func record(listingID int64, hash uint64) types.ImageHashRecord {
	return types.ImageHashRecord{ListingID: listingID, ImageURL: "https://img.example/x.jpg", Hash: hash}
}

// hashAtDistance returns a hash exactly d bits away from base
func hashAtDistance(base uint64, d int) uint64 {
	if d >= 64 {
		return ^base
	}
	return base ^ (uint64(1)<<uint(d) - 1)
}
