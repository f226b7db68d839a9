package vectorstore

import (
	"sort"
	"strings"
)

// stopwords are common English terms excluded from lexical matching.
var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"from": true, "was": true, "are": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "they": true,
	"what": true, "which": true, "who": true, "when": true,
	"where": true, "why": true, "how": true, "not": true,
}

// tokenize splits text into lowercase alphanumeric terms, filtering
// stopwords and terms shorter than three characters.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) > 2 && !stopwords[token] {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

// isAlphanumeric returns true if the rune is alphanumeric or underscore.
func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

// lexicalScore returns the fraction of unique query terms present in
// the document tokens, in [0, 1].
func lexicalScore(queryTokens []string, text string) float32 {
	if len(queryTokens) == 0 {
		return 0
	}

	docTokens := make(map[string]bool)
	for _, token := range tokenize(text) {
		docTokens[token] = true
	}

	matched := 0
	counted := make(map[string]bool)
	for _, token := range queryTokens {
		if docTokens[token] && !counted[token] {
			matched++
			counted[token] = true
		}
	}
	return float32(matched) / float32(len(queryTokens))
}

// blendHybrid scores vector candidates against the query text and
// returns the hybrid ranking.
//
// Candidates with zero lexical overlap are excluded, not down-ranked:
// the lexical index acts as a match prerequisite, so a semantically
// close chunk sharing no terms with the query never surfaces in hybrid
// results. Each surviving candidate is scored
// VectorWeight*vector + LexicalWeight*lexical and the list is returned
// in descending blended order, capped at limit.
func blendHybrid(candidates []SearchResult, queryText string, limit int) []SearchResult {
	queryTokens := tokenize(queryText)

	blended := make([]SearchResult, 0, len(candidates))
	for _, candidate := range candidates {
		lexical := lexicalScore(queryTokens, candidate.Text)
		if lexical == 0 {
			continue
		}
		candidate.LexicalScore = lexical
		candidate.Score = VectorWeight*candidate.VectorScore + LexicalWeight*lexical
		blended = append(blended, candidate)
	}

	sort.SliceStable(blended, func(i, j int) bool {
		return blended[i].Score > blended[j].Score
	})

	if limit > 0 && len(blended) > limit {
		blended = blended[:limit]
	}
	return blended
}
