package scanner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"listingfinder/logging"
)

// CollectFolderJobs walks a folder laid out as <folder>/<listing_id>/<images>.
// Subfolders whose name is not a positive integer are skipped.
func CollectFolderJobs(folder string) ([]IndexJob, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("cannot read folder %s: %w", folder, err)
	}

	var jobs []IndexJob
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		listingID, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil || listingID <= 0 {
			logging.DebugLog("Skipping folder %s: not a listing id", entry.Name())
			continue
		}

		listingDir := filepath.Join(folder, entry.Name())
		err = filepath.WalkDir(listingDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logging.LogError("Error accessing path %s: %v", path, err)
				return nil
			}
			if d.IsDir() || !IsImageFile(path) {
				return nil
			}
			jobs = append(jobs, IndexJob{ListingID: listingID, ImageURL: path})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].ListingID != jobs[j].ListingID {
			return jobs[i].ListingID < jobs[j].ListingID
		}
		return jobs[i].ImageURL < jobs[j].ImageURL
	})
	return jobs, nil
}

// ReadManifest parses CSV rows of listing_id,image_url. A header row is
// allowed. Malformed rows are logged and skipped.
func ReadManifest(r io.Reader) ([]IndexJob, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var jobs []IndexJob
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("manifest row %d: %w", line, err)
		}

		if len(row) < 2 {
			logging.LogWarning("Skipping manifest row %d: expected listing_id,image_url", line)
			continue
		}

		idText := strings.TrimSpace(row[0])
		imageURL := strings.TrimSpace(row[1])
		listingID, err := strconv.ParseInt(idText, 10, 64)
		if err != nil {
			if line == 1 && strings.EqualFold(idText, "listing_id") {
				continue
			}
			logging.LogWarning("Skipping manifest row %d: invalid listing id %q", line, idText)
			continue
		}
		if listingID <= 0 || imageURL == "" {
			logging.LogWarning("Skipping manifest row %d: listing id must be positive and image url set", line)
			continue
		}

		jobs = append(jobs, IndexJob{ListingID: listingID, ImageURL: imageURL})
	}

	return jobs, nil
}

// ReadManifestFile opens and parses a manifest file
func ReadManifestFile(path string) ([]IndexJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open manifest %s: %w", path, err)
	}
	defer f.Close()

	return ReadManifest(f)
}
