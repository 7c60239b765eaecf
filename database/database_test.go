package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *HashStore {
	t.Helper()
	db, err := InitDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewHashStore(db)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func TestUpsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, 1, "https://cdn.example/1/a.jpg", 0xAA))
	require.NoError(t, store.Upsert(ctx, 1, "https://cdn.example/1/a.jpg", 0xBB))
	require.NoError(t, store.Upsert(ctx, 1, "https://cdn.example/1/b.jpg", 0xCC))

	records, err := store.FetchAny(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byURL := map[string]uint64{}
	for _, r := range records {
		assert.Equal(t, int64(1), r.ListingID)
		byURL[r.ImageURL] = r.Hash
	}
	assert.Equal(t, uint64(0xBB), byURL["https://cdn.example/1/a.jpg"])
	assert.Equal(t, uint64(0xCC), byURL["https://cdn.example/1/b.jpg"])

	stats, err := store.GetIndexStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalImages)
	assert.Equal(t, 1, stats.Listings)
}

func TestUpsert_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.Error(t, store.Upsert(ctx, 0, "x.jpg", 1))
	assert.Error(t, store.Upsert(ctx, 5, "", 1))
}

func TestUpsert_FullWidthHash(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, 9, "a.jpg", ^uint64(0)))

	records, err := store.FetchRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ^uint64(0), records[0].Hash)
}

func TestFetchRecent_OrdersByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, store.Upsert(ctx, id, "img.jpg", uint64(id)))
	}
	// Touch listing 2 so it becomes the most recent
	require.NoError(t, store.Upsert(ctx, 2, "img.jpg", 22))

	records, err := store.FetchRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(2), records[0].ListingID)
	assert.Equal(t, int64(5), records[1].ListingID)
	assert.Equal(t, int64(4), records[2].ListingID)
}

func TestFetch_SkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, 1, "ok.jpg", 7))
	_, err := store.db.ExecContext(ctx,
		`INSERT INTO image_hashes (listing_id, image_url, average_hash, updated_at) VALUES (2, 'bad.jpg', 'not-a-hash', 0)`)
	require.NoError(t, err)
	_, err = store.db.ExecContext(ctx,
		`INSERT INTO image_hashes (listing_id, image_url, average_hash, updated_at) VALUES (-3, 'neg.jpg', '0000000000000001', 0)`)
	require.NoError(t, err)

	records, err := store.FetchAny(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ListingID)
}
