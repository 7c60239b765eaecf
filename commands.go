package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"listingfinder/config"
	"listingfinder/database"
	"listingfinder/embedding"
	"listingfinder/imageprocessor"
	"listingfinder/logging"
	"listingfinder/ocr"
	"listingfinder/scanner"
	"listingfinder/search"
	"listingfinder/server"
	"listingfinder/signalhandler"
	"listingfinder/types"
	"listingfinder/utils"
)

const (
	fetchTimeout    = 30 * time.Second
	drainTimeout    = 30 * time.Second
	embedderTimeout = 10 * time.Second
)

// configFromContext reads the search and serve flags into a Config
func configFromContext(c *cli.Context) (config.Config, error) {
	cfg := config.Default()

	cfg.DatabasePath = c.String("database")
	cfg.Debug = c.Bool("debug")
	cfg.LogFile = c.String("logfile")
	if addr := c.String("listen"); addr != "" {
		cfg.ListenAddr = addr
	}

	cfg.EmbeddingsEnabled = c.Bool("embeddings-enabled")
	cfg.EmbeddingMaxDistance = c.Float64("embedding-max-distance")
	cfg.EmbeddingTopK = c.Int("embedding-top-k")
	cfg.EmbeddingURL = c.String("embedding-url")
	cfg.EmbeddingRatePerSec = c.Float64("embedding-rate-per-sec")
	cfg.EmbeddingCacheSize = c.Int("embedding-cache-size")
	cfg.QdrantHost = c.String("qdrant-host")
	cfg.QdrantPort = c.Int("qdrant-port")
	cfg.QdrantCollection = c.String("qdrant-collection")
	cfg.QdrantAPIKey = c.String("qdrant-api-key")

	cfg.OCREnabled = c.Bool("ocr-enabled")
	cfg.OCRTimeout = time.Duration(c.Int("ocr-timeout-ms")) * time.Millisecond
	cfg.OCRLanguages = utils.ParseList(c.String("ocr-languages"))
	cfg.StopwordsFile = c.String("stopwords-file")

	cfg.AHashMaxDistance = c.Int("ahash-max-distance")
	cfg.ResultLimit = c.Int("result-limit")
	maxUpload, err := utils.ParseByteSize(c.String("max-upload-bytes"))
	if err != nil {
		return cfg, fmt.Errorf("max-upload-bytes: %w", err)
	}
	cfg.MaxUploadBytes = maxUpload

	cfg.CandidateRecentLimit = c.Int("candidate-recent-limit")
	cfg.CandidateWideLimit = c.Int("candidate-wide-limit")
	cfg.CandidateSparseThreshold = c.Int("candidate-sparse-threshold")
	cfg.ParallelStages = c.Bool("parallel-stages")
	cfg.IndexWorkers = c.Int("index-workers")

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func searchOptions(cfg config.Config) search.Options {
	return search.Options{
		EmbeddingsEnabled:        cfg.EmbeddingsEnabled,
		EmbeddingMaxDistance:     cfg.EmbeddingMaxDistance,
		EmbeddingTopK:            cfg.EmbeddingTopK,
		OCREnabled:               cfg.OCREnabled,
		OCRTimeout:               cfg.OCRTimeout,
		OCRLanguages:             cfg.OCRLanguages,
		AHashMaxDistance:         cfg.AHashMaxDistance,
		ResultLimit:              cfg.ResultLimit,
		MaxUploadBytes:           cfg.MaxUploadBytes,
		CandidateRecentLimit:     cfg.CandidateRecentLimit,
		CandidateWideLimit:       cfg.CandidateWideLimit,
		CandidateSparseThreshold: cfg.CandidateSparseThreshold,
		ParallelStages:           cfg.ParallelStages,
	}
}

// buildSearcher connects the optional embedding and OCR backends. The
// returned cleanup closes whatever was opened.
func buildSearcher(cfg config.Config, store search.HashStore) (*search.Searcher, func(), error) {
	deps := search.Dependencies{Store: store}
	cleanup := func() {}

	if cfg.EmbeddingsEnabled {
		embedder, err := embedding.NewHTTPEmbedder(embedding.HTTPEmbedderConfig{
			URL:        cfg.EmbeddingURL,
			RatePerSec: cfg.EmbeddingRatePerSec,
			CacheSize:  cfg.EmbeddingCacheSize,
			Timeout:    embedderTimeout,
			Retry:      embedding.DefaultRetryConfig(),
		})
		if err != nil {
			return nil, cleanup, err
		}
		index, err := embedding.NewQdrantIndex(embedding.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
		})
		if err != nil {
			return nil, cleanup, err
		}
		deps.Embedder = embedder
		deps.Index = index
		cleanup = func() {
			if err := index.Close(); err != nil {
				logging.LogWarning("Error closing qdrant connection: %v", err)
			}
		}
	}

	if cfg.OCREnabled {
		var extra []string
		if cfg.StopwordsFile != "" {
			words, err := search.LoadStopwordsFile(cfg.StopwordsFile)
			if err != nil {
				return nil, cleanup, err
			}
			extra = words
		}
		deps.OCR = ocr.NewTesseractEngine(0)
		deps.Terms = search.NewTermExtractor(extra...)
	}

	searcher, err := search.NewSearcher(searchOptions(cfg), deps)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return searcher, cleanup, nil
}

func logConfig(cfg config.Config) {
	fields := logrus.Fields{
		"database":         cfg.DatabasePath,
		"embeddings":       cfg.EmbeddingsEnabled,
		"ocr":              cfg.OCREnabled,
		"ahash_distance":   cfg.AHashMaxDistance,
		"result_limit":     cfg.ResultLimit,
		"max_upload":       utils.FormatByteSize(cfg.MaxUploadBytes),
		"parallel_stages":  cfg.ParallelStages,
		"candidate_recent": cfg.CandidateRecentLimit,
	}
	if cfg.OCREnabled {
		fields["ocr_languages"] = cfg.OCRLanguages
		fields["tesseract"] = ocr.Version()
	}
	if cfg.EmbeddingsEnabled {
		fields["qdrant"] = fmt.Sprintf("%s:%d/%s", cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection)
	}
	logging.WithFields(fields).Info("Search pipeline configured")
}

func serveCommand(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalhandler.SetupHandler(context.Background())
	defer cancel()

	db, err := database.InitDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	store := database.NewHashStore(db)

	searcher, cleanup, err := buildSearcher(cfg, store)
	if err != nil {
		return err
	}
	defer cleanup()

	indexer, err := scanner.NewIndexer(store, nil, scanner.IndexOptions{
		Workers:       cfg.IndexWorkers,
		MaxImageBytes: cfg.MaxUploadBytes,
		FetchTimeout:  fetchTimeout,
		DebugMode:     cfg.Debug,
	})
	if err != nil {
		return err
	}
	defer func() {
		if n := indexer.Running(); n > 0 {
			logging.LogInfo("Waiting for %d indexing workers", n)
		}
		if err := indexer.Close(drainTimeout); err != nil {
			logging.LogWarning("Indexing queue did not drain: %v", err)
		}
	}()

	logConfig(cfg)
	return server.New(ctx, searcher, indexer, store, cfg.MaxUploadBytes).Run(ctx, cfg.ListenAddr)
}

func indexCommand(c *cli.Context) error {
	folder, manifest := c.String("folder"), c.String("manifest")
	if (folder == "") == (manifest == "") {
		return errors.New("exactly one of --folder or --manifest is required")
	}

	var jobs []scanner.IndexJob
	var err error
	if folder != "" {
		jobs, err = scanner.CollectFolderJobs(folder)
	} else {
		jobs, err = scanner.ReadManifestFile(manifest)
	}
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No images to index.")
		return nil
	}

	ctx, cancel := signalhandler.SetupHandler(context.Background())
	defer cancel()

	db, err := database.InitDatabase(c.String("database"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	indexer, err := scanner.NewIndexer(database.NewHashStore(db), nil, scanner.IndexOptions{
		Workers:       c.Int("index-workers"),
		MaxImageBytes: config.DefaultMaxUploadBytes,
		FetchTimeout:  fetchTimeout,
		ShowProgress:  true,
		DebugMode:     c.Bool("debug"),
	})
	if err != nil {
		return err
	}
	defer indexer.Close(drainTimeout)

	fmt.Printf("Indexing %d images into %s\n", len(jobs), c.String("database"))
	_, summary := indexer.IndexBatch(ctx, jobs)
	scanner.PrintCompletionStats(os.Stdout, summary)

	return ctx.Err()
}

func searchCommand(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}

	path := c.String("image")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	db, err := database.InitDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	searcher, cleanup, err := buildSearcher(cfg, database.NewHashStore(db))
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := searcher.Search(c.Context, types.SearchQuery{
		Data:     data,
		MimeType: detectMimeType(path, data),
		Size:     int64(len(data)),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// detectMimeType sniffs the format from the bytes and falls back to the
// file extension
func detectMimeType(path string, data []byte) string {
	if format := imageprocessor.DetectFormat(data); format != imageprocessor.FormatUnknown {
		return "image/" + string(format)
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func statsCommand(c *cli.Context) error {
	path := c.String("database")
	db, err := database.InitDatabase(path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	stats, err := database.NewHashStore(db).GetIndexStats(c.Context)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Database: %s", path)
	if info, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, " (%s)", utils.FormatByteSize(info.Size()))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Indexed images: %d\n", stats.TotalImages)
	fmt.Fprintf(w, "Listings: %d\n", stats.Listings)
	return nil
}
