package extraction

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when a receipt is neither a PDF nor a decodable image
	ErrUnsupportedFormat = errors.New("unsupported receipt format")
	// ErrNoText is returned when a receipt was read but no text could be recovered from it
	ErrNoText = errors.New("no text found in receipt")
)

// Extractor turns a receipt file into raw text
type Extractor interface {
	// ExtractText reads a PDF or image receipt and returns its text
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
	// Close releases any resources held by the extractor
	Close() error
}

// ExtractionError reports a receipt that could not be turned into text.
// It is terminal for the pipeline run that produced it.
type ExtractionError struct {
	Ref string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting text from %s: %v", e.Ref, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
