// Package orchestrator coordinates the ingestion and retrieval
// pipeline: extraction, chunking, embedding, vector storage, caching,
// and answer generation. It owns request validation and the error
// taxonomy callers use to map failures to transport responses.
package orchestrator
