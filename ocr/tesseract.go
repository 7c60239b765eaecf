// Package ocr wraps the Tesseract OCR engine
package ocr

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/otiai10/gosseract/v2"

	"listingfinder/logging"
)

// ErrEmptyImage is returned for an empty payload
var ErrEmptyImage = errors.New("image data cannot be empty")

// TesseractEngine recognises text with Tesseract. Each call uses its own
// client; concurrent recognitions are capped by a semaphore.
type TesseractEngine struct {
	semaphore chan struct{}
}

// NewTesseractEngine creates an engine allowing maxConcurrent recognitions
// at once. A non-positive value uses the number of CPUs.
func NewTesseractEngine(maxConcurrent int) *TesseractEngine {
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}
	return &TesseractEngine{semaphore: make(chan struct{}, maxConcurrent)}
}

// Recognize returns the text found in data. Tesseract itself cannot be
// interrupted, so ctx only bounds the wait for a free slot.
func (e *TesseractEngine) Recognize(ctx context.Context, data []byte, languages []string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}

	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(languages) > 0 {
		if err := client.SetLanguage(languages...); err != nil {
			return "", fmt.Errorf("failed to set OCR languages %v: %w", languages, err)
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("failed to load image into OCR engine: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("text recognition failed: %w", err)
	}

	logging.DebugLog("OCR recognised %d characters", len(text))
	return text, nil
}

// Version reports the linked Tesseract version
func Version() string {
	client := gosseract.NewClient()
	defer client.Close()
	return client.Version()
}
