// Package embeddings provides embedding generation for chunks and queries.
//
// The Service talks to a TEI-compatible HTTP endpoint and normalizes the
// heterogeneous response shapes providers emit (flat vectors, singly nested
// vectors, bare scalars). The BatchProcessor partitions chunk text into
// bounded batches, amortizing request overhead while keeping failures
// scoped to a single batch.
package embeddings
