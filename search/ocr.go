package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"listingfinder/logging"
	"listingfinder/types"
)

// ErrOCRTimeout is reported when recognition does not finish in time
var ErrOCRTimeout = errors.New("ocr recognition timed out")

// OCRStage runs text recognition under a hard timeout and derives search terms
type OCRStage struct {
	engine    OCREngine
	timeout   time.Duration
	languages []string
	terms     *TermExtractor
}

// NewOCRStage creates an OCR stage. A nil extractor uses the default stopwords.
func NewOCRStage(engine OCREngine, timeout time.Duration, languages []string, terms *TermExtractor) *OCRStage {
	if terms == nil {
		terms = NewTermExtractor()
	}
	return &OCRStage{
		engine:    engine,
		timeout:   timeout,
		languages: languages,
		terms:     terms,
	}
}

type ocrOutcome struct {
	text string
	err  error
}

// Run recognises text in data and extracts search terms. Failures and
// timeouts yield an empty result, never an error.
func (s *OCRStage) Run(ctx context.Context, data []byte) types.OcrResult {
	text, err := s.recognize(ctx, data)
	if err != nil {
		logging.WithFields(logrus.Fields{
			"stage": types.StageOCR,
			"error": err,
		}).Warn("OCR stage failed, continuing without text")
		return types.OcrResult{SearchTerms: []string{}}
	}

	text = strings.TrimSpace(text)
	return types.OcrResult{
		RecognizedText: text,
		SearchTerms:    s.terms.Extract(text),
	}
}

// recognize races the engine against the stage timeout. On timeout the
// recognition goroutine is abandoned and its eventual result is dropped.
func (s *OCRStage) recognize(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so an abandoned worker can always deliver and exit
	results := make(chan ocrOutcome, 1)
	var abandoned atomic.Bool
	start := time.Now()

	go func() {
		var out ocrOutcome
		defer func() {
			if r := recover(); r != nil {
				out = ocrOutcome{err: fmt.Errorf("ocr engine panic: %v", r)}
			}
			if abandoned.Load() {
				logging.WithFields(logrus.Fields{
					"stage":   types.StageOCR,
					"elapsed": time.Since(start).String(),
				}).Warn("Discarding late OCR result")
			}
			results <- out
		}()

		text, err := s.engine.Recognize(ctx, data, s.languages)
		out = ocrOutcome{text: text, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case out := <-results:
		if out.err != nil {
			return "", upstream("ocr", out.err)
		}
		return out.text, nil
	case <-timer.C:
		abandoned.Store(true)
		return "", upstream("ocr", fmt.Errorf("%w after %v", ErrOCRTimeout, s.timeout))
	case <-ctx.Done():
		abandoned.Store(true)
		return "", upstream("ocr", ctx.Err())
	}
}
