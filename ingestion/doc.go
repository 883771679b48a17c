// Package ingestion turns raw policy sources into stored, embedded documents.
//
// A RawDocument is parsed into a core.PolicyDocument from one of several layouts:
//   - structured fields supplied by the caller
//   - YAML front matter followed by the policy body
//   - the youth-center plain-text export
//   - HTML pages
//
// The Pipeline validates the parsed document, obtains an embedding through the
// Gateway and upserts the result. Unchanged content reuses the stored vector.
// An unreachable embedding model never fails ingestion: the document is stored
// without a vector and the Result carries a warning.
//
// Batches are processed concurrently on a worker pool.
package ingestion
