// Package reindex re-embeds stored policy documents and rebuilds the search indexes.
//
// A Rebuilder walks the document store in batches, embeds documents that lack a
// vector (or every document when forced), stores the new vectors and finally
// rebuilds the index manager from the store. Progress is checkpointed per batch
// so an interrupted run can resume where it stopped.
package reindex
