package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"

	"listingfinder/config"
	"listingfinder/logging"
	"listingfinder/signalhandler"
	"listingfinder/utils"
)

const envPrefix = "LISTINGFINDER_"

func env(name string) []string {
	return []string{envPrefix + name}
}

func main() {
	runtime.GOMAXPROCS(signalhandler.GetOptimalProcs())

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.CloseLogger()
		os.Exit(1)
	}
	logging.CloseLogger()
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "listingfinder",
		Usage: "Find marketplace listings that look like an uploaded photo",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"db"},
				Usage:   "Path to the SQLite hash index",
				Value:   utils.GetDefaultDatabasePath(),
				EnvVars: env("DATABASE"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				EnvVars: env("DEBUG"),
			},
			&cli.StringFlag{
				Name:    "logfile",
				Usage:   "Also write logs to this file",
				EnvVars: env("LOGFILE"),
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP search API",
				Action: serveCommand,
				Flags:  serveFlags(),
			},
			{
				Name:   "index",
				Usage:  "Hash listing images from a folder or CSV manifest",
				Action: indexCommand,
				Flags: append(indexFlags(),
					&cli.StringFlag{
						Name:  "folder",
						Usage: "Folder laid out as <folder>/<listing_id>/<images>",
					},
					&cli.StringFlag{
						Name:  "manifest",
						Usage: "CSV file with listing_id,image_url rows",
					},
				),
			},
			{
				Name:   "search",
				Usage:  "Search the index with a local image and print the JSON response",
				Action: searchCommand,
				Flags: append(searchFlags(),
					&cli.StringFlag{
						Name:     "image",
						Usage:    "Path to the query image",
						Required: true,
					},
				),
			},
			{
				Name:   "stats",
				Usage:  "Show how many images and listings are indexed",
				Action: statsCommand,
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	if err := logging.SetupLogger(c.String("logfile"), c.Bool("debug")); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	return nil
}

// searchFlags binds every search pipeline option
func searchFlags() []cli.Flag {
	d := config.Default()
	return []cli.Flag{
		&cli.BoolFlag{Name: "embeddings-enabled", Usage: "Query the embedding index before hashing", EnvVars: env("EMBEDDINGS_ENABLED")},
		&cli.Float64Flag{Name: "embedding-max-distance", Usage: "Maximum cosine distance for embedding matches", Value: d.EmbeddingMaxDistance, EnvVars: env("EMBEDDING_MAX_DISTANCE")},
		&cli.IntFlag{Name: "embedding-top-k", Usage: "Neighbours requested from the vector index", Value: d.EmbeddingTopK, EnvVars: env("EMBEDDING_TOP_K")},
		&cli.StringFlag{Name: "embedding-url", Usage: "Model server endpoint returning image embeddings", EnvVars: env("EMBEDDING_URL")},
		&cli.Float64Flag{Name: "embedding-rate-per-sec", Usage: "Embedding requests per second", Value: d.EmbeddingRatePerSec, EnvVars: env("EMBEDDING_RATE_PER_SEC")},
		&cli.IntFlag{Name: "embedding-cache-size", Usage: "Query embeddings kept in memory", Value: d.EmbeddingCacheSize, EnvVars: env("EMBEDDING_CACHE_SIZE")},
		&cli.StringFlag{Name: "qdrant-host", Usage: "Qdrant host", Value: d.QdrantHost, EnvVars: env("QDRANT_HOST")},
		&cli.IntFlag{Name: "qdrant-port", Usage: "Qdrant gRPC port", Value: d.QdrantPort, EnvVars: env("QDRANT_PORT")},
		&cli.StringFlag{Name: "qdrant-collection", Usage: "Qdrant collection holding listing image vectors", Value: d.QdrantCollection, EnvVars: env("QDRANT_COLLECTION")},
		&cli.StringFlag{Name: "qdrant-api-key", Usage: "Qdrant API key", EnvVars: env("QDRANT_API_KEY")},
		&cli.BoolFlag{Name: "ocr-enabled", Usage: "Fall back to OCR when no listing looks alike", Value: d.OCREnabled, EnvVars: env("OCR_ENABLED")},
		&cli.IntFlag{Name: "ocr-timeout-ms", Usage: "OCR time budget in milliseconds", Value: int(d.OCRTimeout.Milliseconds()), EnvVars: env("OCR_TIMEOUT_MS")},
		&cli.StringFlag{Name: "ocr-languages", Usage: "Comma separated Tesseract languages", Value: strings.Join(d.OCRLanguages, ","), EnvVars: env("OCR_LANGUAGES")},
		&cli.StringFlag{Name: "stopwords-file", Usage: "Extra stopwords, one per line", EnvVars: env("STOPWORDS_FILE")},
		&cli.IntFlag{Name: "ahash-max-distance", Usage: "Maximum Hamming distance for hash matches", Value: d.AHashMaxDistance, EnvVars: env("AHASH_MAX_DISTANCE")},
		&cli.IntFlag{Name: "result-limit", Usage: "Maximum listing ids returned", Value: d.ResultLimit, EnvVars: env("RESULT_LIMIT")},
		&cli.StringFlag{Name: "max-upload-bytes", Usage: "Upload size limit, e.g. 10MiB", Value: utils.FormatByteSize(d.MaxUploadBytes), EnvVars: env("MAX_UPLOAD_BYTES")},
		&cli.IntFlag{Name: "candidate-recent-limit", Usage: "Recently updated hashes scanned first", Value: d.CandidateRecentLimit, EnvVars: env("CANDIDATE_RECENT_LIMIT")},
		&cli.IntFlag{Name: "candidate-wide-limit", Usage: "Hashes scanned when the recent pool is sparse", Value: d.CandidateWideLimit, EnvVars: env("CANDIDATE_WIDE_LIMIT")},
		&cli.IntFlag{Name: "candidate-sparse-threshold", Usage: "Recent pool size below which the scan widens", Value: d.CandidateSparseThreshold, EnvVars: env("CANDIDATE_SPARSE_THRESHOLD")},
		&cli.BoolFlag{Name: "parallel-stages", Usage: "Run embedding and hash stages concurrently", EnvVars: env("PARALLEL_STAGES")},
	}
}

func serveFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "listen", Usage: "HTTP listen address", Value: config.DefaultListenAddr, EnvVars: env("LISTEN")},
	}
	flags = append(flags, searchFlags()...)
	return append(flags, indexFlags()...)
}

// indexFlags binds the indexing pipeline options
func indexFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "index-workers", Usage: "Concurrent indexing workers (0 = based on CPUs)", EnvVars: env("INDEX_WORKERS")},
	}
}
