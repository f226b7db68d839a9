// Package cache provides a fingerprint-keyed, TTL-based result cache
// in front of retrieval calls.
//
// The cache is strictly best-effort: every transport or serialization
// error is logged and degraded to a miss on read or a no-op on write.
// A dead Redis never blocks a retrieval from completing; it only costs
// latency. Entries are derived data, so concurrent last-writer-wins
// updates are acceptable.
package cache
