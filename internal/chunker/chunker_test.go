package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		config     Config
		wantErr    bool
		errMessage string
	}{
		{
			name:   "valid configuration",
			config: Config{TargetSize: 1000, Overlap: 200},
		},
		{
			name:   "defaults applied for zero values",
			config: Config{},
		},
		{
			name:       "overlap equal to target size",
			config:     Config{TargetSize: 100, Overlap: 100},
			wantErr:    true,
			errMessage: "must be less than target size",
		},
		{
			name:       "overlap greater than target size",
			config:     Config{TargetSize: 100, Overlap: 150},
			wantErr:    true,
			errMessage: "must be less than target size",
		},
		{
			name:       "negative target size",
			config:     Config{TargetSize: -1, Overlap: 0},
			wantErr:    true,
			errMessage: "target size must be positive",
		},
		{
			name:       "negative overlap",
			config:     Config{TargetSize: 100, Overlap: -5},
			wantErr:    true,
			errMessage: "overlap cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				assert.Contains(t, err.Error(), tt.errMessage)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestChunk_ShortTextReturnedVerbatim(t *testing.T) {
	c, err := New(Config{TargetSize: 100, Overlap: 20})
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
	}{
		{name: "empty text", text: ""},
		{name: "single word", text: "hello"},
		{name: "exactly target size", text: strings.Repeat("a", 100)},
		{name: "leading whitespace preserved", text: "  padded  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := c.Chunk(tt.text)
			require.Len(t, chunks, 1)
			assert.Equal(t, tt.text, chunks[0])
		})
	}
}

func TestChunk_SlidingWindow(t *testing.T) {
	c, err := New(Config{TargetSize: 1000, Overlap: 200})
	require.NoError(t, err)

	// 2500 characters of sentence-free text: windows advance by
	// targetSize-overlap = 800 bytes each.
	text := strings.Repeat("a", 2500)
	chunks := c.Chunk(text)

	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.NotEmpty(t, chunk, "chunk %d must be non-empty", i)
		assert.LessOrEqual(t, len(chunk), 1000)
	}
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	// Final chunk: 2500 - 2*800 = 900 remaining bytes.
	assert.Len(t, chunks[2], 900)
}

func TestChunk_SentenceBoundaryInBackHalf(t *testing.T) {
	c, err := New(Config{TargetSize: 100, Overlap: 10})
	require.NoError(t, err)

	// A period at position 79 is past the midpoint (50), so the first
	// chunk must end at the period.
	text := strings.Repeat("a", 79) + "." + strings.Repeat("b", 120)
	chunks := c.Chunk(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, strings.Repeat("a", 79)+".", chunks[0])
	// Next window starts at boundary+1-overlap = 70.
	assert.True(t, strings.HasPrefix(chunks[1], strings.Repeat("a", 9)+"."))
}

func TestChunk_BoundaryBeforeMidpointIgnored(t *testing.T) {
	c, err := New(Config{TargetSize: 100, Overlap: 10})
	require.NoError(t, err)

	// Period at position 20 is before the midpoint, so the full window
	// is taken.
	text := strings.Repeat("a", 20) + "." + strings.Repeat("b", 200)
	chunks := c.Chunk(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Len(t, chunks[0], 100)
}

func TestChunk_NewlineBoundary(t *testing.T) {
	c, err := New(Config{TargetSize: 100, Overlap: 10})
	require.NoError(t, err)

	text := strings.Repeat("a", 80) + "\n" + strings.Repeat("b", 120)
	chunks := c.Chunk(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	// Newline boundary is cut inclusive, then trimmed away.
	assert.Equal(t, strings.Repeat("a", 80), chunks[0])
}

func TestChunk_ContentIsSubsequenceOfOriginal(t *testing.T) {
	c, err := New(Config{TargetSize: 120, Overlap: 30})
	require.NoError(t, err)

	text := "The quick brown fox jumps over the lazy dog. " +
		"Pack my box with five dozen liquor jugs. " +
		"How vexingly quick daft zebras jump. " +
		"Sphinx of black quartz, judge my vow. " +
		"The five boxing wizards jump quickly."
	chunks := c.Chunk(text)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.NotEmpty(t, chunk)
		assert.Contains(t, text, chunk, "every chunk must be a contiguous span of the input")
	}

	// All content is covered: the last chunk reaches the end of text.
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
}

func TestChunk_WhitespaceOnlyInteriorDropped(t *testing.T) {
	c, err := New(Config{TargetSize: 10, Overlap: 2})
	require.NoError(t, err)

	text := "aaaaaaaaaa" + strings.Repeat(" ", 40) + "bbbbbbbbbb"
	chunks := c.Chunk(text)

	for _, chunk := range chunks {
		assert.NotEmpty(t, chunk)
	}
}

func TestChunk_AlwaysTerminates(t *testing.T) {
	// Pathological input exercising the progress guard: periods right
	// after the midpoint of every window keep the advance small.
	c, err := New(Config{TargetSize: 10, Overlap: 8})
	require.NoError(t, err)

	text := strings.Repeat("abcde.", 200)
	chunks := c.Chunk(text)
	assert.NotEmpty(t, chunks)
}
