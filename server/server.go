// Package server exposes the image search pipeline over HTTP
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"listingfinder/logging"
	"listingfinder/scanner"
	"listingfinder/types"
)

// multipartOverhead is allowed on top of the image size for form framing
const multipartOverhead = 1 << 20

// ImageSearcher runs one image search
type ImageSearcher interface {
	Search(ctx context.Context, q types.SearchQuery) (*types.SearchResponse, error)
}

// IndexSubmitter queues a listing image for indexing
type IndexSubmitter interface {
	Submit(ctx context.Context, job scanner.IndexJob) error
}

// StatsProvider reports the size of the hash index
type StatsProvider interface {
	GetIndexStats(ctx context.Context) (*types.IndexStats, error)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server wires the HTTP routes to the pipeline
type Server struct {
	searcher       ImageSearcher
	indexer        IndexSubmitter
	stats          StatsProvider
	maxUploadBytes int64
	ctx            context.Context
	router         *gin.Engine
}

// New creates a server. ctx bounds background indexing started by requests.
// indexer may be nil, in which case the index endpoint is not registered.
func New(ctx context.Context, searcher ImageSearcher, indexer IndexSubmitter, stats StatsProvider, maxUploadBytes int64) *Server {
	s := &Server{
		searcher:       searcher,
		indexer:        indexer,
		stats:          stats,
		maxUploadBytes: maxUploadBytes,
		ctx:            ctx,
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"panic": recovered,
		}).Error("Recovered from panic in handler")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}))

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.POST("/search/image", s.searchImage)
	if s.indexer != nil {
		api.POST("/listings/:id/images", s.indexListingImage)
	}

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.LogInfo("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logging.LogInfo("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logging.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
		} else {
			entry.Debug("request handled")
		}
	}
}
