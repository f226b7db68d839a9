// Package chunker splits extracted document text into overlapping,
// boundary-aware segments suitable for embedding and retrieval.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig indicates invalid chunker configuration.
	ErrInvalidConfig = errors.New("invalid chunker configuration")
)

const (
	// DefaultTargetSize is the default chunk window size in bytes.
	DefaultTargetSize = 1000

	// DefaultOverlap is the default overlap between consecutive chunks.
	DefaultOverlap = 200
)

// Config holds chunker configuration.
type Config struct {
	// TargetSize is the sliding window size in bytes.
	TargetSize int

	// Overlap is the number of bytes shared between consecutive chunks.
	// Must be strictly less than TargetSize.
	Overlap int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TargetSize == 0 {
		c.TargetSize = DefaultTargetSize
	}
	if c.Overlap == 0 {
		c.Overlap = DefaultOverlap
	}
}

// Validate validates the configuration.
//
// Overlap >= TargetSize is rejected here because it can produce
// non-advancing windows downstream.
func (c Config) Validate() error {
	if c.TargetSize <= 0 {
		return fmt.Errorf("%w: target size must be positive, got %d", ErrInvalidConfig, c.TargetSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap cannot be negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.TargetSize {
		return fmt.Errorf("%w: overlap %d must be less than target size %d", ErrInvalidConfig, c.Overlap, c.TargetSize)
	}
	return nil
}

// Chunker splits text into overlapping segments, preferring to cut at
// sentence terminators or newlines when one falls in the back half of
// the window.
type Chunker struct {
	config Config
}

// New creates a Chunker with the given configuration.
func New(config Config) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &Chunker{config: config}, nil
}

// Chunk splits text into segments of at most TargetSize bytes.
//
// Text no longer than TargetSize is returned as a single untouched
// segment. Interior windows are cut at the last '.' or '\n' when that
// boundary lies past the window midpoint; otherwise the full window is
// taken. Consecutive segments share Overlap bytes. Every emitted
// segment is whitespace-trimmed and empty segments are dropped.
func (c *Chunker) Chunk(text string) []string {
	if len(text) <= c.config.TargetSize {
		return []string{text}
	}

	targetSize := c.config.TargetSize
	overlap := c.config.Overlap

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + targetSize

		if end >= len(text) {
			// Final window runs verbatim to the end.
			chunks = append(chunks, text[start:])
			break
		}

		window := text[start:end]
		next := end - overlap

		if boundary := lastBoundary(window); boundary > targetSize/2 {
			window = window[:boundary+1]
			next = start + boundary + 1 - overlap
		}

		chunks = append(chunks, window)

		// The window must always advance. Config validation makes a
		// stall impossible, but a regression here means an infinite
		// loop, so guard anyway.
		if next <= start {
			next = start + 1
		}
		start = next
	}

	trimmed := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		trimmed = append(trimmed, chunk)
	}
	return trimmed
}

// lastBoundary returns the index of the last sentence terminator or
// newline in window, or -1 if none exists.
func lastBoundary(window string) int {
	dot := strings.LastIndexByte(window, '.')
	newline := strings.LastIndexByte(window, '\n')
	if newline > dot {
		return newline
	}
	return dot
}
