package embeddings

import (
	"encoding/json"
	"fmt"
)

// vectorPayload is a tagged-variant decode of one embedding in a
// provider response. Providers disagree on shape: most return a flat
// number sequence per input, some wrap each vector in one extra level
// of nesting, and a few emit a bare scalar for single-dimension
// models. Decoding is attempted in that order so new shapes can be
// added here without touching scoring or batching logic.
type vectorPayload struct {
	vector []float32
}

// UnmarshalJSON decodes a flat vector, a singly nested vector
// (flattened one level), or a scalar (wrapped as a one-element vector).
func (p *vectorPayload) UnmarshalJSON(data []byte) error {
	var flat []float32
	if err := json.Unmarshal(data, &flat); err == nil {
		p.vector = flat
		return nil
	}

	var nested [][]float32
	if err := json.Unmarshal(data, &nested); err == nil {
		var merged []float32
		for _, row := range nested {
			merged = append(merged, row...)
		}
		p.vector = merged
		return nil
	}

	var scalar float32
	if err := json.Unmarshal(data, &scalar); err == nil {
		p.vector = []float32{scalar}
		return nil
	}

	return fmt.Errorf("%w: unrecognized embedding shape: %s", ErrShapeMismatch, truncateForError(data))
}

// normalizeVectors decodes a raw provider response into one vector per
// input. Any element that normalizes to an empty vector is a hard
// failure for the whole response.
func normalizeVectors(raw []byte) ([][]float32, error) {
	var payloads []vectorPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrShapeMismatch, err)
	}

	vectors := make([][]float32, len(payloads))
	for i, p := range payloads {
		if len(p.vector) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrShapeMismatch, i)
		}
		vectors[i] = p.vector
	}
	return vectors, nil
}

// truncateForError keeps raw payload excerpts in errors short.
func truncateForError(data []byte) string {
	const max = 64
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
