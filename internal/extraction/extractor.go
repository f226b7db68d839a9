// Package extraction converts uploaded document bytes into plain text.
//
// Supported mime types are a fixed allowlist. An unsupported type is a
// rejection the caller reports back to the client, not a pipeline
// failure.
package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedType indicates a mime type outside the allowlist.
	ErrUnsupportedType = errors.New("unsupported mime type")

	// ErrEmptyDocument indicates the input yielded no extractable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrMalformedDocument indicates the bytes could not be parsed as
	// the declared type.
	ErrMalformedDocument = errors.New("malformed document")
)

// Mime types accepted by the pipeline.
const (
	MimePlainText = "text/plain"
	MimeMarkdown  = "text/markdown"
	MimePDF       = "application/pdf"
)

// Extractor converts document bytes of a declared mime type into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Service implements Extractor for the fixed allowlist.
type Service struct {
	logger *zap.Logger
}

// NewService creates an extraction service.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// Supported reports whether mimeType is on the allowlist.
func Supported(mimeType string) bool {
	switch normalizeMime(mimeType) {
	case MimePlainText, MimeMarkdown, MimePDF:
		return true
	default:
		return false
	}
}

// Extract converts data into plain text.
func (s *Service) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	normalized := normalizeMime(mimeType)

	var (
		text string
		err  error
	)
	switch normalized {
	case MimePlainText, MimeMarkdown:
		text, err = extractText(data)
	case MimePDF:
		text, err = extractPDF(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDocument
	}

	s.logger.Debug("extracted document text",
		zap.String("mime_type", normalized),
		zap.Int("bytes_in", len(data)),
		zap.Int("chars_out", len(text)),
	)
	return text, nil
}

// normalizeMime lowercases the type and strips parameters such as
// "; charset=utf-8".
func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if base, _, found := strings.Cut(mimeType, ";"); found {
		mimeType = strings.TrimSpace(base)
	}
	// Common markdown alias.
	if mimeType == "text/x-markdown" {
		return MimeMarkdown
	}
	return mimeType
}

// extractText validates and returns UTF-8 text content.
func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrMalformedDocument)
	}
	return string(data), nil
}

// extractPDF pulls the plain text stream out of a PDF.
func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	content, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extracting text: %v", ErrMalformedDocument, err)
	}

	text, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("%w: reading text: %v", ErrMalformedDocument, err)
	}
	return string(text), nil
}
