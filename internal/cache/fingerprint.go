package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Search modes encoded into the fingerprint. Identical queries in
// different modes must never share a cache entry.
const (
	ModeSimilarity = "similarity"
	ModeHybrid     = "hybrid"
)

// QueryKey is the canonical identity of one retrieval request. Fields
// are serialized in struct order, so two logically identical requests
// fingerprint identically regardless of how the caller assembled them.
type QueryKey struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	Threshold      float32 `json:"threshold"`
	DocumentFilter string  `json:"document_filter"`
	SearchMode     string  `json:"search_mode"`
}

// Fingerprint derives the stable cache key for a retrieval request.
// The query text is normalized (lowercased, whitespace collapsed)
// before hashing so trivially reformatted queries hit the same entry.
func Fingerprint(key QueryKey) string {
	key.Query = NormalizeQuery(key.Query)

	// Marshaling a flat struct of scalars cannot fail.
	canonical, _ := json.Marshal(key)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// NormalizeQuery lowercases text and collapses runs of whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
