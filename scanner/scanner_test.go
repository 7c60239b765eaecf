package scanner

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingfinder/logging"
)

func init() {
	logging.SetOutput(io.Discard)
	progressOutput = io.Discard
}

type memoryStore struct {
	mu     sync.Mutex
	hashes map[string]uint64
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{hashes: make(map[string]uint64)}
}

func (m *memoryStore) Upsert(ctx context.Context, listingID int64, imageURL string, hash uint64) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[imageURL] = hash
	return nil
}

func (m *memoryStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hashes)
}

type panicLoader struct{}

func (panicLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	panic("decoder crashed")
}

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if x < 16 {
				img.SetGray(x, y, color.Gray{Y: shade})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestIndexer(t *testing.T, store HashUpserter, loader ImageLoader) *Indexer {
	t.Helper()
	ix, err := NewIndexer(store, loader, IndexOptions{Workers: 2, MaxImageBytes: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close(time.Second) })
	return ix
}

func TestIndexBatch_FailuresDoNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	good1 := writeFile(t, filepath.Join(dir, "a.png"), pngBytes(t, 200))
	good2 := writeFile(t, filepath.Join(dir, "b.png"), pngBytes(t, 10))
	corrupt := writeFile(t, filepath.Join(dir, "c.jpg"), []byte("not a jpeg"))

	store := newMemoryStore()
	ix := newTestIndexer(t, store, nil)

	jobs := []IndexJob{
		{ListingID: 1, ImageURL: good1},
		{ListingID: 2, ImageURL: corrupt},
		{ListingID: 3, ImageURL: filepath.Join(dir, "missing.png")},
		{ListingID: 4, ImageURL: good2},
		{ListingID: 0, ImageURL: good1},
	}

	results, summary := ix.IndexBatch(context.Background(), jobs)

	require.Len(t, results, 5)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.False(t, results[2].Success)
	assert.True(t, results[3].Success)
	assert.False(t, results[4].Success)
	assert.Equal(t, 2, store.len())
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, 3, summary.Failed)
	assert.Positive(t, summary.Bytes)
}

func TestIndexBatch_StoreErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "a.png"), pngBytes(t, 200))
	store := newMemoryStore()
	store.err = errors.New("database is locked")

	results, summary := newTestIndexer(t, store, nil).IndexBatch(context.Background(), []IndexJob{{ListingID: 1, ImageURL: path}})

	assert.False(t, results[0].Success)
	assert.ErrorContains(t, results[0].Error, "database is locked")
	assert.Equal(t, 1, summary.Failed)
}

func TestIndexBatch_RecoversFromPanics(t *testing.T) {
	results, summary := newTestIndexer(t, newMemoryStore(), panicLoader{}).IndexBatch(context.Background(), []IndexJob{
		{ListingID: 1, ImageURL: "a.png"},
		{ListingID: 2, ImageURL: "b.png"},
	})

	for _, r := range results {
		assert.False(t, r.Success)
		assert.ErrorContains(t, r.Error, "panic")
	}
	assert.Equal(t, 2, summary.Failed)
}

func TestIndexBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, _ := newTestIndexer(t, newMemoryStore(), nil).IndexBatch(ctx, []IndexJob{{ListingID: 1, ImageURL: "a.png"}})

	assert.ErrorIs(t, results[0].Error, context.Canceled)
}

func TestIndexBatch_HTTPSource(t *testing.T) {
	data := pngBytes(t, 180)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/listing/9.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer server.Close()

	store := newMemoryStore()
	results, _ := newTestIndexer(t, store, nil).IndexBatch(context.Background(), []IndexJob{
		{ListingID: 9, ImageURL: server.URL + "/listing/9.png"},
		{ListingID: 10, ImageURL: server.URL + "/listing/10.png"},
	})

	assert.True(t, results[0].Success)
	assert.Equal(t, int64(len(data)), results[0].Bytes)
	assert.False(t, results[1].Success)
	assert.ErrorContains(t, results[1].Error, "status 404")
}

func TestSubmit(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "a.png"), pngBytes(t, 200))
	store := newMemoryStore()
	ix := newTestIndexer(t, store, nil)

	require.NoError(t, ix.Submit(context.Background(), IndexJob{ListingID: 5, ImageURL: path}))
	ix.Wait()

	assert.Equal(t, 1, store.len())
}

func TestSubmit_AfterClose(t *testing.T) {
	ix, err := NewIndexer(newMemoryStore(), nil, IndexOptions{Workers: 1})
	require.NoError(t, err)
	require.NoError(t, ix.Close(time.Second))

	err = ix.Submit(context.Background(), IndexJob{ListingID: 1, ImageURL: "a.png"})

	assert.ErrorIs(t, err, ErrIndexerClosed)
}

func TestSourceLoader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, "img.png"), []byte("12345"))
	loader := NewSourceLoader(time.Second, 4)

	_, err := loader.Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	loader = NewSourceLoader(time.Second, 0)
	data, err := loader.Load(context.Background(), "file://"+filepath.ToSlash(path))
	require.NoError(t, err)
	assert.Equal(t, []byte("12345"), data)

	_, err = loader.Load(context.Background(), "ftp://example.com/img.png")
	assert.ErrorContains(t, err, "unsupported")

	_, err = loader.Load(context.Background(), dir)
	assert.ErrorContains(t, err, "directory")
}

func TestPrintCompletionStats(t *testing.T) {
	var buf bytes.Buffer

	PrintCompletionStats(&buf, BatchSummary{Total: 4, Indexed: 3, Failed: 1, Bytes: 2048, Elapsed: 1500 * time.Millisecond})

	out := buf.String()
	assert.Contains(t, out, "Indexed 3/4 images (2.0 KiB)")
	assert.True(t, strings.Contains(out, "Encountered 1 errors"))
}
