package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"listingfinder/logging"
	"listingfinder/scanner"
	"listingfinder/search"
	"listingfinder/types"
)

// uploadFields are the multipart field names accepted for the image
var uploadFields = []string{"image", "file"}

type indexRequest struct {
	ImageURL string `json:"image_url" binding:"required"`
}

func (s *Server) searchImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes+multipartOverhead)

	query, err := s.readUpload(c)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp, err := s.searcher.Search(c.Request.Context(), query)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// readUpload extracts the uploaded image. Missing and oversized uploads are
// rejected here without reading the body; MIME checks happen in the searcher.
func (s *Server) readUpload(c *gin.Context) (types.SearchQuery, error) {
	var fh *multipart.FileHeader
	var err error
	for _, field := range uploadFields {
		fh, err = c.FormFile(field)
		if err == nil {
			break
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return types.SearchQuery{}, &search.InputValidationError{
				Reason:  search.ReasonTooLarge,
				Message: "upload exceeds the maximum size",
			}
		}
	}
	if fh == nil {
		return types.SearchQuery{}, &search.InputValidationError{
			Reason:  search.ReasonMissingImage,
			Message: "no image uploaded, send it in the 'image' form field",
		}
	}

	mimeType := fh.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mediaType
	}

	if fh.Size > s.maxUploadBytes {
		return types.SearchQuery{}, &search.InputValidationError{
			Reason:  search.ReasonTooLarge,
			Message: fmt.Sprintf("image is %s, the limit is %s", humanize.IBytes(uint64(fh.Size)), humanize.IBytes(uint64(s.maxUploadBytes))),
		}
	}

	f, err := fh.Open()
	if err != nil {
		return types.SearchQuery{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUploadBytes+1))
	if err != nil {
		return types.SearchQuery{}, fmt.Errorf("read upload: %w", err)
	}

	size := fh.Size
	if n := int64(len(data)); n > size {
		size = n
	}

	return types.SearchQuery{Data: data, MimeType: mimeType, Size: size}, nil
}

func (s *Server) indexListingImage(c *gin.Context) {
	listingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || listingID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "listing id must be a positive integer"})
		return
	}

	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "image_url is required"})
		return
	}

	job := scanner.IndexJob{ListingID: listingID, ImageURL: req.ImageURL}
	if err := s.indexer.Submit(s.ctx, job); err != nil {
		logging.WithFields(logrus.Fields{
			"listing_id": listingID,
			"image_url":  req.ImageURL,
			"error":      err,
		}).Warn("Cannot queue image for indexing")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "indexing queue unavailable"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "queued",
		"listing_id": listingID,
		"image_url":  req.ImageURL,
	})
}

func (s *Server) health(c *gin.Context) {
	stats, err := s.stats.GetIndexStats(c.Request.Context())
	if err != nil {
		logging.LogError("Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"indexed_images": stats.TotalImages,
		"listings":       stats.Listings,
	})
}

// writeError maps validation errors to client statuses and everything else
// to a generic 500
func (s *Server) writeError(c *gin.Context, err error) {
	if ve, ok := search.AsInputValidationError(err); ok {
		c.JSON(statusForReason(ve.Reason), ErrorResponse{Error: ve.Message})
		return
	}

	logging.WithFields(logrus.Fields{
		"path":  c.Request.URL.Path,
		"error": err,
	}).Error("Unexpected error while handling request")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

func statusForReason(reason search.ValidationReason) int {
	switch reason {
	case search.ReasonTooLarge:
		return http.StatusRequestEntityTooLarge
	case search.ReasonUnsupportedType:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}
