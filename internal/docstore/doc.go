// Package docstore persists document records in an embedded SQLite
// database. It is the source of truth for document identity and raw
// text; derived chunk vectors live in the vector store.
package docstore
