package storage

import (
	"context"
	"iter"

	"github.com/poiesic/policyrag/core"
)

// Observer receives every committed mutation of the document store.
// Index maintenance hooks in here; implementations must be thread-safe.
type Observer interface {
	// OnUpsert is called after a document was inserted or replaced.
	// The document is a private copy owned by the observer.
	OnUpsert(doc *core.PolicyDocument)

	// OnDelete is called after a document was retired.
	OnDelete(id core.ID)
}

// SortOrder selects the ordering of List results.
type SortOrder string

const (
	// SortSmart lists documents with a concrete deadline first (newest first),
	// then rolling-deadline documents by name.
	SortSmart SortOrder = "smart"
	// SortDeadline orders by deadline text ascending.
	SortDeadline SortOrder = "deadline"
	// SortName orders by policy name ascending.
	SortName SortOrder = "name"
	// SortCreated orders by creation time, newest first.
	SortCreated SortOrder = "created"
	// SortViews orders by view count, highest first.
	SortViews SortOrder = "views"
)

// ListOptions filters and pages List results.
type ListOptions struct {
	Category string
	Region   string
	Sort     SortOrder
	Limit    int
	Offset   int
}

// VectorSearcher provides exact vector similarity search.
type VectorSearcher interface {
	// FindSimilar scans every embedded, non-retired document and returns those whose
	// cosine similarity to vector is at least minSimilarity.
	// Results are ordered by similarity score (highest first), ties by ascending id.
	FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]*core.SearchResult, error)
}

// DocumentRepository provides durable keyed storage of policy documents.
type DocumentRepository interface {
	VectorSearcher

	// Upsert inserts doc when its SourceFilename is unseen, otherwise replaces the stored
	// document's content while keeping its ID, CreatedAt and counters.
	// UpdatedAt is always refreshed and Retired is cleared.
	// Returns ErrValidation (core) for missing required fields or a bad embedding width.
	Upsert(ctx context.Context, doc *core.PolicyDocument) (core.ID, error)

	// Get retrieves a single document by ID.
	// Returns core.ErrNotFound if the document doesn't exist.
	Get(ctx context.Context, id core.ID) (*core.PolicyDocument, error)

	// GetByFilename retrieves a document by its source filename.
	// Returns core.ErrNotFound if no document has that filename.
	GetByFilename(ctx context.Context, filename string) (*core.PolicyDocument, error)

	// GetMany retrieves documents by ID in the order given.
	// Returns only the documents that exist (no error for missing documents).
	GetMany(ctx context.Context, ids ...core.ID) ([]*core.PolicyDocument, error)

	// IncrementCounter atomically adds delta to a views or scraps counter and
	// returns the new value. Returns core.ErrNotFound for unknown ids and
	// core.ErrInvalidArgument for unknown counters or a negative result.
	IncrementCounter(ctx context.Context, id core.ID, counter core.Counter, delta int64) (int64, error)

	// Retire soft-deletes a document. It stays readable by ID but leaves every index.
	Retire(ctx context.Context, id core.ID) error

	// ScanAll yields every document in insertion order. Each range over the
	// returned sequence starts a fresh read.
	ScanAll(ctx context.Context) iter.Seq2[*core.PolicyDocument, error]

	// List returns one page of non-retired documents plus the total matching count.
	List(ctx context.Context, opts ListOptions) ([]*core.PolicyDocument, int, error)

	// Count returns the number of stored documents, retired ones included.
	Count(ctx context.Context) (int, error)

	// Subscribe registers an observer for all future mutations.
	Subscribe(observer Observer)

	// Dimensions returns the required embedding width.
	Dimensions() int

	// Close releases resources held by the repository.
	Close() error
}

// CheckpointRepository persists progress markers for resumable jobs.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint, stamping UpdatedAt.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for a job.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, job string) (*core.Checkpoint, error)

	// ClearCheckpoint removes the checkpoint for a job. Missing checkpoints are not an error.
	ClearCheckpoint(ctx context.Context, job string) error
}
