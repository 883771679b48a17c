// Package postgres stores policy documents in PostgreSQL with the pgvector
// extension. Vectors live in a vector(n) column under an HNSW cosine index,
// tags and open metadata maps are GIN indexed.
package postgres
