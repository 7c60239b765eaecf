// Package search implements the image similarity pipeline: upload
// validation, the optional embedding stage, average-hash ranking and the
// OCR text fallback.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"listingfinder/imageprocessor"
	"listingfinder/logging"
	"listingfinder/types"
)

// Options tunes the search pipeline
type Options struct {
	EmbeddingsEnabled    bool
	EmbeddingMaxDistance float64
	EmbeddingTopK        int

	OCREnabled   bool
	OCRTimeout   time.Duration
	OCRLanguages []string

	AHashMaxDistance int
	ResultLimit      int
	MaxUploadBytes   int64

	CandidateRecentLimit     int
	CandidateWideLimit       int
	CandidateSparseThreshold int

	// ParallelStages runs the embedding and hash stages concurrently.
	// When both hit, the embedding result wins.
	ParallelStages bool
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		EmbeddingMaxDistance:     0.35,
		EmbeddingTopK:            48,
		OCREnabled:               true,
		OCRTimeout:               5 * time.Second,
		OCRLanguages:             []string{"nld", "eng"},
		AHashMaxDistance:         12,
		ResultLimit:              24,
		MaxUploadBytes:           10 * 1024 * 1024,
		CandidateRecentLimit:     600,
		CandidateWideLimit:       2000,
		CandidateSparseThreshold: 50,
	}
}

// Dependencies are the collaborators the pipeline talks to. Embedder and
// Index are required only with embeddings enabled, OCR only with OCR enabled.
type Dependencies struct {
	Store    HashStore
	Embedder Embedder
	Index    EmbeddingIndex
	OCR      OCREngine
	Terms    *TermExtractor
}

// Searcher runs image searches
type Searcher struct {
	opts      Options
	embedding *EmbeddingStage
	hash      *HashStage
	ocr       *OCRStage
}

// NewSearcher wires the pipeline stages
func NewSearcher(opts Options, deps Dependencies) (*Searcher, error) {
	if deps.Store == nil {
		return nil, errors.New("search: hash store is required")
	}
	if opts.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("search: max upload bytes must be positive, got %d", opts.MaxUploadBytes)
	}

	s := &Searcher{opts: opts}

	retriever := NewCandidateRetriever(deps.Store, opts.CandidateRecentLimit, opts.CandidateWideLimit, opts.CandidateSparseThreshold)
	s.hash = NewHashStage(retriever, opts.AHashMaxDistance, opts.ResultLimit)

	if opts.EmbeddingsEnabled {
		if deps.Embedder == nil || deps.Index == nil {
			return nil, errors.New("search: embeddings enabled without an embedder and index")
		}
		s.embedding = NewEmbeddingStage(deps.Embedder, deps.Index, opts.EmbeddingMaxDistance, opts.EmbeddingTopK, opts.ResultLimit)
	}

	if opts.OCREnabled {
		if deps.OCR == nil {
			return nil, errors.New("search: ocr enabled without an engine")
		}
		s.ocr = NewOCRStage(deps.OCR, opts.OCRTimeout, opts.OCRLanguages, deps.Terms)
	}

	return s, nil
}

// Validate checks an upload before any stage runs
func (s *Searcher) Validate(q types.SearchQuery) error {
	size := q.Size
	if n := int64(len(q.Data)); n > size {
		size = n
	}

	if size <= 0 {
		return &InputValidationError{Reason: ReasonMissingImage, Message: "no image uploaded"}
	}
	if !imageprocessor.IsImageMimeType(q.MimeType) {
		return &InputValidationError{
			Reason:  ReasonUnsupportedType,
			Message: fmt.Sprintf("unsupported file type %q, expected an image", q.MimeType),
		}
	}
	if size > s.opts.MaxUploadBytes {
		return &InputValidationError{
			Reason: ReasonTooLarge,
			Message: fmt.Sprintf("image is %s, the limit is %s",
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(s.opts.MaxUploadBytes))),
		}
	}
	return nil
}

// Search runs the pipeline for one upload. Finding nothing is a normal
// result; only invalid input and context cancellation return an error.
func (s *Searcher) Search(ctx context.Context, q types.SearchQuery) (*types.SearchResponse, error) {
	if err := s.Validate(q); err != nil {
		return nil, err
	}

	start := time.Now()
	resp := &types.SearchResponse{
		Success:     true,
		IDs:         []int64{},
		SearchTerms: []string{},
		Stage:       types.StageNone,
	}

	var hit visualHit
	if s.opts.ParallelStages && s.embedding != nil {
		hit = s.visualParallel(ctx, q.Data)
	} else {
		hit = s.visualSequential(ctx, q.Data)
	}

	if len(hit.ids) > 0 {
		resp.IDs = hit.ids
		resp.Compared = hit.compared
		resp.Stage = hit.stage
	} else if s.ocr != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ocr := s.ocr.Run(ctx, q.Data)
		resp.RecognizedText = ocr.RecognizedText
		resp.SearchTerms = ocr.SearchTerms
		resp.Query = strings.Join(ocr.SearchTerms, " ")
		if len(ocr.SearchTerms) > 0 {
			resp.Stage = types.StageOCR
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logging.WithFields(logrus.Fields{
		"stage":    resp.Stage,
		"results":  len(resp.IDs),
		"compared": resp.Compared,
		"terms":    len(resp.SearchTerms),
		"bytes":    len(q.Data),
		"elapsed":  time.Since(start).String(),
	}).Info("Image search finished")

	return resp, nil
}

type visualHit struct {
	ids      []int64
	compared int
	stage    types.Stage
}

func (s *Searcher) visualSequential(ctx context.Context, data []byte) visualHit {
	if s.embedding != nil {
		if hit, ok := s.embeddingHit(s.embedding.Search(ctx, data)); ok {
			return hit
		}
	}
	hit, _ := s.hashHit(s.hash.Search(ctx, data))
	return hit
}

// visualParallel runs both visual stages at once and applies the same
// precedence as the sequential path
func (s *Searcher) visualParallel(ctx context.Context, data []byte) visualHit {
	var (
		g       errgroup.Group
		embRes  EmbeddingResult
		embErr  error
		hashRes RankResult
		hashErr error
	)

	g.Go(func() error {
		embRes, embErr = s.embedding.Search(ctx, data)
		return nil
	})
	g.Go(func() error {
		hashRes, hashErr = s.hash.Search(ctx, data)
		return nil
	})
	_ = g.Wait()

	if hit, ok := s.embeddingHit(embRes, embErr); ok {
		return hit
	}
	hit, _ := s.hashHit(hashRes, hashErr)
	return hit
}

func (s *Searcher) embeddingHit(res EmbeddingResult, err error) (visualHit, bool) {
	if err != nil {
		logStageFailure(types.StageEmbedding, err)
		return visualHit{}, false
	}
	if len(res.Matches) == 0 {
		logging.DebugLog("Embedding stage found no match")
		return visualHit{}, false
	}
	return visualHit{ids: res.IDs(), compared: res.Compared, stage: types.StageEmbedding}, true
}

func (s *Searcher) hashHit(res RankResult, err error) (visualHit, bool) {
	if err != nil {
		logStageFailure(types.StageHash, err)
		return visualHit{}, false
	}
	if len(res.Candidates) == 0 {
		logging.DebugLog("Hash stage found no match")
		return visualHit{}, false
	}
	return visualHit{ids: res.IDs(), compared: res.Compared, stage: types.StageHash}, true
}

func logStageFailure(stage types.Stage, err error) {
	kind := "unexpected"
	var upErr *UpstreamError
	switch {
	case errors.As(err, &upErr):
		kind = "upstream"
	case imageprocessor.IsDecodeError(err):
		kind = "decode"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = "cancelled"
	}

	logging.WithFields(logrus.Fields{
		"stage": stage,
		"kind":  kind,
		"error": err,
	}).Warn("Search stage failed, continuing with next stage")
}
