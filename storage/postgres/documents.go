package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/storage"
)

// DocumentRepository implements storage.DocumentRepository on PostgreSQL.
type DocumentRepository struct {
	backend   *Backend
	filenames *storage.KeyedMutex
	observers storage.Observers
	logger    *slog.Logger
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a repository over backend's pool.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{
		backend:   backend,
		filenames: storage.NewKeyedMutex(),
		logger:    backend.logger.With("repository", "documents"),
	}
}

// Close is a no-op; the Backend owns the pool.
func (r *DocumentRepository) Close() error {
	return nil
}

// Dimensions returns the required embedding width.
func (r *DocumentRepository) Dimensions() int {
	return r.backend.dims
}

// Subscribe registers an observer for all future mutations.
func (r *DocumentRepository) Subscribe(observer storage.Observer) {
	r.observers.Subscribe(observer)
}

var upsertSQL = fmt.Sprintf(`
	INSERT INTO %[1]s (policy_name, source_filename, full_text, region, category, deadline,
		summary, operation_period, application_period, support_scale, support_content,
		last_modified, policy_number, views, scraps, tags, eligibility, application_info,
		additional_info, required_documents, embedding, storage_ref, content_hash,
		created_at, updated_at, retired)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24, $24, FALSE)
	ON CONFLICT (source_filename) DO UPDATE SET
		policy_name        = EXCLUDED.policy_name,
		full_text          = EXCLUDED.full_text,
		region             = EXCLUDED.region,
		category           = EXCLUDED.category,
		deadline           = EXCLUDED.deadline,
		summary            = EXCLUDED.summary,
		operation_period   = EXCLUDED.operation_period,
		application_period = EXCLUDED.application_period,
		support_scale      = EXCLUDED.support_scale,
		support_content    = EXCLUDED.support_content,
		last_modified      = EXCLUDED.last_modified,
		policy_number      = EXCLUDED.policy_number,
		tags               = EXCLUDED.tags,
		eligibility        = EXCLUDED.eligibility,
		application_info   = EXCLUDED.application_info,
		additional_info    = EXCLUDED.additional_info,
		required_documents = EXCLUDED.required_documents,
		embedding          = EXCLUDED.embedding,
		storage_ref        = EXCLUDED.storage_ref,
		content_hash       = EXCLUDED.content_hash,
		updated_at         = GREATEST(EXCLUDED.updated_at, %[1]s.updated_at + interval '1 microsecond'),
		retired            = FALSE
	RETURNING id, views, scraps, created_at, updated_at`, documentsTable)

// Upsert inserts or replaces a document keyed by its source filename.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *core.PolicyDocument) (core.ID, error) {
	if err := core.ValidateDocument(doc, r.backend.dims); err != nil {
		return 0, err
	}

	unlock := r.filenames.Lock(doc.SourceFilename)
	defer unlock()

	stored := doc.Clone()
	stored.Tags = core.NormalizeTags(stored.Tags)
	stored.Retired = false

	args, err := documentArgs(stored)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.backend.pool.QueryRow(ctx, upsertSQL, args...).
		Scan(&id, &stored.Views, &stored.Scraps, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert document: %w", err)
	}
	stored.ID = core.ID(id)
	stored.CreatedAt = stored.CreatedAt.UTC()
	stored.UpdatedAt = stored.UpdatedAt.UTC()

	r.logger.Debug("upserted document", "id", stored.ID, "filename", stored.SourceFilename)
	r.observers.NotifyUpsert(stored)
	return stored.ID, nil
}

// documentArgs returns the first 24 upsert parameters for doc.
func documentArgs(doc *core.PolicyDocument) ([]any, error) {
	eligibility, err := jsonMap(doc.Eligibility)
	if err != nil {
		return nil, err
	}
	applicationInfo, err := jsonMap(doc.ApplicationInfo)
	if err != nil {
		return nil, err
	}
	additionalInfo, err := jsonMap(doc.AdditionalInfo)
	if err != nil {
		return nil, err
	}

	var embedding any
	if doc.HasEmbedding() {
		embedding = pgvector.NewVector(doc.Embedding)
	}
	var storageRef any
	if doc.StorageRef != nil {
		data, err := json.Marshal(doc.StorageRef)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		storageRef = data
	}

	return []any{
		doc.PolicyName, doc.SourceFilename, doc.FullText, doc.Region, doc.Category, doc.Deadline,
		doc.Summary, doc.OperationPeriod, doc.ApplicationPeriod, doc.SupportScale, doc.SupportContent,
		doc.LastModified, doc.PolicyNumber, doc.Views, doc.Scraps, nonNil(doc.Tags), eligibility,
		applicationInfo, additionalInfo, nonNil(doc.RequiredDocuments), embedding, storageRef,
		int64(doc.ContentHash), time.Now().UTC(),
	}, nil
}

func jsonMap(m map[string]core.Value) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return data, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// scanDocument reads one row selected with documentColumns.
func scanDocument(row pgx.Row) (*core.PolicyDocument, error) {
	var (
		doc                                           core.PolicyDocument
		id, contentHash                               int64
		eligibility, applicationInfo, additionalInfo []byte
		storageRef                                    []byte
		embedding                                     *pgvector.Vector
	)
	err := row.Scan(
		&id, &doc.PolicyName, &doc.SourceFilename, &doc.FullText, &doc.Region, &doc.Category,
		&doc.Deadline, &doc.Summary, &doc.OperationPeriod, &doc.ApplicationPeriod, &doc.SupportScale,
		&doc.SupportContent, &doc.LastModified, &doc.PolicyNumber, &doc.Views, &doc.Scraps, &doc.Tags,
		&eligibility, &applicationInfo, &additionalInfo, &doc.RequiredDocuments, &embedding,
		&storageRef, &contentHash, &doc.CreatedAt, &doc.UpdatedAt, &doc.Retired,
	)
	if err != nil {
		return nil, err
	}

	doc.ID = core.ID(id)
	doc.ContentHash = core.ID(contentHash)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}
	if len(doc.RequiredDocuments) == 0 {
		doc.RequiredDocuments = nil
	}
	if embedding != nil {
		doc.Embedding = embedding.Slice()
	}
	for _, field := range []struct {
		data []byte
		dst  *map[string]core.Value
	}{
		{eligibility, &doc.Eligibility},
		{applicationInfo, &doc.ApplicationInfo},
		{additionalInfo, &doc.AdditionalInfo},
	} {
		if err := decodeMap(field.data, field.dst); err != nil {
			return nil, err
		}
	}
	if len(storageRef) > 0 {
		doc.StorageRef = &core.StorageRef{}
		if err := json.Unmarshal(storageRef, doc.StorageRef); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
	}
	return &doc, nil
}

func decodeMap(data []byte, dst *map[string]core.Value) error {
	var m map[string]core.Value
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	if len(m) > 0 {
		*dst = m
	}
	return nil
}

// Get retrieves a single document by ID.
func (r *DocumentRepository) Get(ctx context.Context, id core.ID) (*core.PolicyDocument, error) {
	row := r.backend.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, documentColumns, documentsTable), int64(id))
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %d", core.ErrNotFound, id)
	}
	return doc, err
}

// GetByFilename retrieves a document by its source filename.
func (r *DocumentRepository) GetByFilename(ctx context.Context, filename string) (*core.PolicyDocument, error) {
	row := r.backend.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE source_filename = $1`, documentColumns, documentsTable), filename)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: filename %q", core.ErrNotFound, filename)
	}
	return doc, err
}

// GetMany retrieves documents by ID in the order given, skipping unknown IDs.
func (r *DocumentRepository) GetMany(ctx context.Context, ids ...core.ID) ([]*core.PolicyDocument, error) {
	if len(ids) == 0 {
		return []*core.PolicyDocument{}, nil
	}
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}

	rows, err := r.backend.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`, documentColumns, documentsTable), keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[core.ID]*core.PolicyDocument, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]*core.PolicyDocument, 0, len(byID))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			results = append(results, doc.Clone())
		}
	}
	return results, nil
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

	// counter is one of two known column names.
	row := r.backend.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %[1]s SET %[2]s = %[2]s + $2,
			updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		WHERE id = $1 AND %[2]s + $2 >= 0
		RETURNING %[3]s`, documentsTable, string(counter), documentColumns), int64(id), delta)
	updated, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s would become negative", core.ErrInvalidArgument, counter)
	}
	if err != nil {
		return 0, err
	}

	r.observers.NotifyUpsert(updated)
	if counter == core.CounterScraps {
		return updated.Scraps, nil
	}
	return updated.Views, nil
}

// Retire soft-deletes a document.
func (r *DocumentRepository) Retire(ctx context.Context, id core.ID) error {
	unlock, err := r.lockDocument(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	tag, err := r.backend.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET retired = TRUE,
			updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		WHERE id = $1 AND NOT retired`, documentsTable), int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	r.logger.Debug("retired document", "id", id)
	r.observers.NotifyDelete(id)
	return nil
}

// lockDocument takes the filename lock of an existing document.
func (r *DocumentRepository) lockDocument(ctx context.Context, id core.ID) (func(), error) {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.filenames.Lock(doc.SourceFilename), nil
}

// ScanAll yields every document in ID order.
func (r *DocumentRepository) ScanAll(ctx context.Context) iter.Seq2[*core.PolicyDocument, error] {
	return func(yield func(*core.PolicyDocument, error) bool) {
		rows, err := r.backend.pool.Query(ctx,
			fmt.Sprintf(`SELECT %s FROM %s ORDER BY id`, documentColumns, documentsTable))
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// List returns one page of non-retired documents and the total match count.
// Ordering follows storage.SortDocuments.
func (r *DocumentRepository) List(ctx context.Context, opts storage.ListOptions) ([]*core.PolicyDocument, int, error) {
	rows, err := r.backend.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE NOT retired AND ($1 = '' OR category = $1) AND ($2 = '' OR region = $2)`,
		documentColumns, documentsTable), opts.Category, opts.Region)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var matched []*core.PolicyDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		matched = append(matched, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	storage.SortDocuments(matched, opts.Sort)
	return storage.Page(matched, opts.Offset, opts.Limit), len(matched), nil
}

// Count returns the number of stored documents.
func (r *DocumentRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.backend.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, documentsTable)).Scan(&n)
	return n, err
}

// FindSimilar runs a cosine search on the HNSW index.
func (r *DocumentRepository) FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]*core.SearchResult, error) {
	if err := core.ValidateEmbedding(vector, r.backend.dims); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidArgument, err)
	}

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	// NaN distances from zero vectors compare greater than every number and drop out here.
	rows, err := r.backend.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, embedding <=> $1 AS distance FROM %s
		WHERE NOT retired AND embedding IS NOT NULL AND (embedding <=> $1) <= $2
		ORDER BY distance, id
		LIMIT $3`, documentColumns, documentsTable),
		pgvector.NewVector(vector), 1-float64(minSimilarity), limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*core.SearchResult
	for rows.Next() {
		var distance float64
		doc, err := scanDocument(scanWithDistance{rows, &distance})
		if err != nil {
			return nil, err
		}
		results = append(results, &core.SearchResult{
			Document:  doc,
			MatchType: core.MatchTypeVector,
			Score:     float32(1 - distance),
		})
	}
	return results, rows.Err()
}

// scanWithDistance appends a trailing distance column to a document scan.
type scanWithDistance struct {
	row      pgx.Row
	distance *float64
}

func (s scanWithDistance) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.distance)...)
}
