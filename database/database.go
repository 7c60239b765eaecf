package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"listingfinder/imageprocessor"
	"listingfinder/logging"
	"listingfinder/types"

	_ "github.com/mattn/go-sqlite3"
)

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS image_hashes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		listing_id INTEGER NOT NULL,
		image_url TEXT NOT NULL,
		average_hash TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(listing_id, image_url)
	);
	CREATE INDEX IF NOT EXISTS idx_image_hashes_updated_at ON image_hashes(updated_at);
	CREATE INDEX IF NOT EXISTS idx_image_hashes_listing ON image_hashes(listing_id);`

// InitDatabase opens the database and creates the schema if needed
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating schema: %w", err)
	}

	return db, nil
}

// OpenDatabase opens an existing database connection
func OpenDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// In-memory databases are per connection
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// HashStore reads and writes listing image hashes
type HashStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewHashStore wraps an initialised database
func NewHashStore(db *sql.DB) *HashStore {
	return &HashStore{db: db, now: time.Now}
}

// Upsert stores the hash for a listing image. Re-indexing the same
// (listing, image) pair replaces the hash and bumps updated_at.
func (s *HashStore) Upsert(ctx context.Context, listingID int64, imageURL string, hash uint64) error {
	if listingID <= 0 {
		return fmt.Errorf("invalid listing id %d", listingID)
	}
	if imageURL == "" {
		return fmt.Errorf("empty image url for listing %d", listingID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO image_hashes (listing_id, image_url, average_hash, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(listing_id, image_url) DO UPDATE SET
			average_hash = excluded.average_hash,
			updated_at = excluded.updated_at
	`, listingID, imageURL, imageprocessor.FormatHash(hash), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("cannot store hash for listing %d (%s): %w", listingID, imageURL, err)
	}
	return nil
}

// FetchRecent returns up to limit rows, most recently updated first
func (s *HashStore) FetchRecent(ctx context.Context, limit int) ([]types.ImageHashRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT listing_id, image_url, average_hash, updated_at
		FROM image_hashes
		ORDER BY updated_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent hashes: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FetchAny returns up to limit rows in storage order
func (s *HashStore) FetchAny(ctx context.Context, limit int) ([]types.ImageHashRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT listing_id, image_url, average_hash, updated_at
		FROM image_hashes
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query hashes: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// scanRecords converts rows into typed records, skipping malformed ones
func scanRecords(rows *sql.Rows) ([]types.ImageHashRecord, error) {
	var records []types.ImageHashRecord
	for rows.Next() {
		var (
			listingID int64
			imageURL  string
			hashText  string
			updatedAt int64
		)
		if err := rows.Scan(&listingID, &imageURL, &hashText, &updatedAt); err != nil {
			logging.LogWarning("Skipping unreadable hash row: %v", err)
			continue
		}

		record, err := toRecord(listingID, imageURL, hashText, updatedAt)
		if err != nil {
			logging.LogWarning("Skipping malformed hash row: %v", err)
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hashes: %w", err)
	}
	return records, nil
}

func toRecord(listingID int64, imageURL, hashText string, updatedAt int64) (types.ImageHashRecord, error) {
	if listingID <= 0 {
		return types.ImageHashRecord{}, fmt.Errorf("invalid listing id %d", listingID)
	}
	hash, err := imageprocessor.ParseHash(hashText)
	if err != nil {
		return types.ImageHashRecord{}, fmt.Errorf("listing %d: %w", listingID, err)
	}
	return types.ImageHashRecord{
		ListingID: listingID,
		ImageURL:  imageURL,
		Hash:      hash,
		UpdatedAt: time.UnixMilli(updatedAt),
	}, nil
}

// GetIndexStats counts indexed images and distinct listings
func (s *HashStore) GetIndexStats(ctx context.Context) (*types.IndexStats, error) {
	var stats types.IndexStats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT listing_id) FROM image_hashes").
		Scan(&stats.TotalImages, &stats.Listings)
	if err != nil {
		return nil, fmt.Errorf("failed to get index stats: %w", err)
	}
	return &stats, nil
}
