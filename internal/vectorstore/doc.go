// Package vectorstore persists chunk embeddings and executes similarity
// and hybrid retrieval queries.
//
// The ChunkStore interface is transport-agnostic. Two implementations
// are provided: ChromemStore on the embedded chromem-go database
// (default, no external service) and QdrantStore on Qdrant's native
// gRPC client. Hybrid retrieval blends vector similarity with a lexical
// term-overlap score; rows with zero lexical overlap against the query
// are excluded outright, not merely down-ranked.
package vectorstore
