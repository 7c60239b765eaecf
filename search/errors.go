package search

import (
	"errors"
	"fmt"
)

// ValidationReason classifies a rejected upload
type ValidationReason string

const (
	ReasonMissingImage    ValidationReason = "missing_image"
	ReasonTooLarge        ValidationReason = "too_large"
	ReasonUnsupportedType ValidationReason = "unsupported_type"
)

// InputValidationError rejects an upload before any search stage runs.
// It is the only error a caller should report back as a client error.
type InputValidationError struct {
	Reason  ValidationReason
	Message string
}

func (e *InputValidationError) Error() string {
	return e.Message
}

// UpstreamError wraps a failure of an external collaborator (hash store,
// embedding service, vector index, OCR engine). The pipeline logs it and
// moves on to the next stage.
type UpstreamError struct {
	Stage string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func upstream(stage string, err error) error {
	return &UpstreamError{Stage: stage, Err: err}
}

// AsInputValidationError extracts an InputValidationError from err
func AsInputValidationError(err error) (*InputValidationError, bool) {
	var ve *InputValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
