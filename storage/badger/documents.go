package badger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/storage"
)

var errStopIteration = errors.New("stop iteration")

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend   *Backend
	idSeq     *badger.Sequence
	dims      int
	filenames *storage.KeyedMutex
	logger    *slog.Logger
	observers storage.Observers
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository that requires
// embeddings of exactly dims entries. A non-positive dims disables the check.
func NewDocumentRepository(backend *Backend, dims int) (*DocumentRepository, error) {
	idSeq, err := backend.GetSequence(documentIDSeq)
	if err != nil {
		return nil, err
	}

	return &DocumentRepository{
		backend:   backend,
		idSeq:     idSeq,
		dims:      dims,
		filenames: storage.NewKeyedMutex(),
		logger:    slog.Default().With("component", "badger-documents"),
	}, nil
}

// Close releases the ID sequence.
func (r *DocumentRepository) Close() error {
	return r.idSeq.Release()
}

// Dimensions returns the required embedding width.
func (r *DocumentRepository) Dimensions() int {
	return r.dims
}

// Subscribe registers an observer for all future mutations.
func (r *DocumentRepository) Subscribe(observer storage.Observer) {
	r.observers.Subscribe(observer)
}

// nextID draws the next document ID from the sequence.
func (r *DocumentRepository) nextID() (core.ID, error) {
	nextID, err := r.idSeq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if nextID == 0 {
		nextID, err = r.idSeq.Next()
		if err != nil {
			return 0, err
		}
	}
	return core.ID(nextID), nil
}

// Upsert inserts or replaces a document keyed by its source filename.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *core.PolicyDocument) (core.ID, error) {
	if err := core.ValidateDocument(doc, r.dims); err != nil {
		return 0, err
	}

	unlock := r.filenames.Lock(doc.SourceFilename)
	defer unlock()

	var stored *core.PolicyDocument
	err := r.backend.Update(func(tx *badger.Txn) error {
		stored = doc.Clone()
		stored.Tags = core.NormalizeTags(stored.Tags)
		stored.Retired = false
		now := time.Now().UTC()

		old, err := r.readByFilename(tx, doc.SourceFilename)
		if err != nil {
			return err
		}
		if old != nil {
			stored.ID = old.ID
			stored.CreatedAt = old.CreatedAt
			stored.Views = old.Views
			stored.Scraps = old.Scraps
			if !now.After(old.UpdatedAt) {
				now = old.UpdatedAt.Add(time.Nanosecond)
			}
		} else {
			id, err := r.nextID()
			if err != nil {
				return err
			}
			stored.ID = id
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now

		if err := writeDocument(tx, stored); err != nil {
			return err
		}
		return tx.Set(makeFilenameKey(stored.SourceFilename), storage.MarshalID(stored.ID))
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debug("upserted document", "id", stored.ID, "filename", stored.SourceFilename)
	r.observers.NotifyUpsert(stored)
	return stored.ID, nil
}

// Get retrieves a single document by ID.
func (r *DocumentRepository) Get(ctx context.Context, id core.ID) (*core.PolicyDocument, error) {
	var result *core.PolicyDocument
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("%w: document %d", core.ErrNotFound, id)
		}
		return nil
	})
	return result, err
}

// GetByFilename retrieves a document by its source filename.
func (r *DocumentRepository) GetByFilename(ctx context.Context, filename string) (*core.PolicyDocument, error) {
	var result *core.PolicyDocument
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = r.readByFilename(tx, filename)
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("%w: filename %q", core.ErrNotFound, filename)
		}
		return nil
	})
	return result, err
}

// GetMany retrieves documents by ID, skipping unknown IDs.
func (r *DocumentRepository) GetMany(ctx context.Context, ids ...core.ID) ([]*core.PolicyDocument, error) {
	results := make([]*core.PolicyDocument, 0, len(ids))
	err := r.backend.View(func(tx *badger.Txn) error {
		for _, id := range ids {
			doc, err := readDocument(tx, id)
			if err != nil {
				return err
			}
			if doc != nil {
				results = append(results, doc)
			}
		}
		return nil
	})
	return results, err
}

// IncrementCounter atomically adds delta to a counter.
func (r *DocumentRepository) IncrementCounter(ctx context.Context, id core.ID, counter core.Counter, delta int64) (int64, error) {
	if !counter.Valid() {
		return 0, fmt.Errorf("%w: unknown counter %q", core.ErrInvalidArgument, counter)
	}

	unlock, err := r.lockDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var (
		value   int64
		updated *core.PolicyDocument
	)
	err = r.backend.Update(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("%w: document %d", core.ErrNotFound, id)
		}

		target := &doc.Views
		if counter == core.CounterScraps {
			target = &doc.Scraps
		}
		if *target+delta < 0 {
			return fmt.Errorf("%w: %s would become negative", core.ErrInvalidArgument, counter)
		}
		*target += delta
		value = *target
		touch(doc)

		updated = doc
		return writeDocument(tx, doc)
	})
	if err != nil {
		return 0, err
	}

	r.observers.NotifyUpsert(updated)
	return value, nil
}

// Retire soft-deletes a document.
func (r *DocumentRepository) Retire(ctx context.Context, id core.ID) error {
	unlock, err := r.lockDocument(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	err = r.backend.Update(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("%w: document %d", core.ErrNotFound, id)
		}
		if doc.Retired {
			return nil
		}
		doc.Retired = true
		touch(doc)
		return writeDocument(tx, doc)
	})
	if err != nil {
		return err
	}

	r.logger.Debug("retired document", "id", id)
	r.observers.NotifyDelete(id)
	return nil
}

// lockDocument takes the filename lock of an existing document so that
// mutations by ID are ordered with upserts of the same file.
func (r *DocumentRepository) lockDocument(ctx context.Context, id core.ID) (func(), error) {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.filenames.Lock(doc.SourceFilename), nil
}

// ScanAll yields every document in insertion order.
func (r *DocumentRepository) ScanAll(ctx context.Context) iter.Seq2[*core.PolicyDocument, error] {
	return func(yield func(*core.PolicyDocument, error) bool) {
		err := r.backend.View(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = documentScanPrefix()
			it := tx.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				var doc *core.PolicyDocument
				err := it.Item().Value(func(val []byte) error {
					var err error
					doc, err = storage.UnmarshalDocument(val)
					return err
				})
				if err != nil {
					return err
				}
				if !yield(doc, nil) {
					return errStopIteration
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopIteration) {
			yield(nil, err)
		}
	}
}

// List returns one page of non-retired documents and the total match count.
func (r *DocumentRepository) List(ctx context.Context, opts storage.ListOptions) ([]*core.PolicyDocument, int, error) {
	var matched []*core.PolicyDocument
	for doc, err := range r.ScanAll(ctx) {
		if err != nil {
			return nil, 0, err
		}
		if storage.MatchesListOptions(doc, opts) {
			matched = append(matched, doc)
		}
	}
	storage.SortDocuments(matched, opts.Sort)
	return storage.Page(matched, opts.Offset, opts.Limit), len(matched), nil
}

// Count returns the number of stored documents.
func (r *DocumentRepository) Count(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = documentScanPrefix()
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// FindSimilar performs an exact cosine scan over every embedded document.
func (r *DocumentRepository) FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]*core.SearchResult, error) {
	var results []*core.SearchResult

	for doc, err := range r.ScanAll(ctx) {
		if err != nil {
			return nil, err
		}
		// Skip documents without embeddings
		if doc.Retired || !doc.HasEmbedding() {
			continue
		}

		similarity := core.CosineSimilarity(vector, doc.Embedding)
		if similarity >= minSimilarity {
			results = append(results, &core.SearchResult{
				Document:  doc,
				MatchType: core.MatchTypeVector,
				Score:     similarity,
			})
		}
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b *core.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Document.ID, b.Document.ID)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// readByFilename resolves the filename index and reads the document.
// Returns nil, nil when the filename is unknown.
func (r *DocumentRepository) readByFilename(tx *badger.Txn, filename string) (*core.PolicyDocument, error) {
	item, err := tx.Get(makeFilenameKey(filename))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var id core.ID
	err = item.Value(func(val []byte) error {
		var err error
		id, err = storage.UnmarshalID(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(tx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		r.logger.Warn("filename index points at a missing document", "filename", filename, "id", id)
	}
	return doc, nil
}

// readDocument reads a document by ID. Returns nil, nil when it doesn't exist.
func readDocument(tx *badger.Txn, id core.ID) (*core.PolicyDocument, error) {
	item, err := tx.Get(makeDocumentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var doc *core.PolicyDocument
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

func writeDocument(tx *badger.Txn, doc *core.PolicyDocument) error {
	value, err := storage.MarshalDocument(doc)
	if err != nil {
		return err
	}
	return tx.Set(makeDocumentKey(doc.ID), value)
}

// touch advances UpdatedAt, keeping it strictly increasing.
func touch(doc *core.PolicyDocument) {
	now := time.Now().UTC()
	if !now.After(doc.UpdatedAt) {
		now = doc.UpdatedAt.Add(time.Nanosecond)
	}
	doc.UpdatedAt = now
}
