package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/ingestion"
	"github.com/poiesic/policyrag/retry"
	"github.com/poiesic/policyrag/storage"
)

// BatchResult counts what happened to one batch.
type BatchResult struct {
	Embedded int
	Skipped  int
	Failed   int
}

// BatchProcessor embeds a batch of documents and stores the new vectors.
type BatchProcessor struct {
	docs     storage.DocumentRepository
	embedder ai.Embedder
	retry    retry.Policy
	maxChars int
	pool     *ants.Pool
	logger   *slog.Logger
}

// NewBatchProcessor creates a new batch processor. Single-document fallbacks run on pool.
func NewBatchProcessor(docs storage.DocumentRepository, embedder ai.Embedder, policy retry.Policy, maxChars int, pool *ants.Pool, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		docs:     docs,
		embedder: embedder,
		retry:    policy,
		maxChars: maxChars,
		pool:     pool,
		logger:   logger,
	}
}

// Process embeds docs in one request, falling back to one request per document
// when the batch call keeps failing. Documents that still fail keep their old state.
func (bp *BatchProcessor) Process(ctx context.Context, docs []*core.PolicyDocument) (BatchResult, error) {
	var result BatchResult
	if len(docs) == 0 {
		return result, nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = ingestion.Truncate(doc.EmbeddingInput(), bp.maxChars)
	}

	var embeddings [][]float32
	err := bp.retry.Do(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		if err == nil && len(embeddings) != len(texts) {
			return retry.Permanent(fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(texts), len(embeddings)))
		}
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		bp.logger.Warn("batch embedding failed, embedding documents one by one", "documents", len(docs), "err", err)
		embeddings = bp.embedEach(ctx, texts)
	}

	for i, doc := range docs {
		vector := embeddings[i]
		if len(vector) == 0 {
			result.Failed++
			continue
		}
		if err := core.ValidateEmbedding(vector, bp.docs.Dimensions()); err != nil {
			bp.logger.Warn("discarding embedding", "id", doc.ID, "err", err)
			result.Failed++
			continue
		}

		stored, err := bp.store(ctx, doc, vector)
		if err != nil {
			return result, err
		}
		if stored {
			result.Embedded++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

// embedEach embeds texts one at a time on the pool. Failed entries are nil.
func (bp *BatchProcessor) embedEach(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))

	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			err := bp.retry.Do(ctx, func() error {
				v, err := bp.embedder.EmbedText(ctx, text)
				if err != nil {
					return err
				}
				out[i] = v
				return nil
			})
			if err != nil {
				bp.logger.Debug("document embedding failed", "index", i, "err", err)
			}
		}
		if err := bp.pool.Submit(task); err != nil {
			wg.Done()
			bp.logger.Error("error submitting embedding task", "err", err)
		}
	}
	wg.Wait()
	return out
}

// store writes vector onto the current version of doc. It reports false when the
// document changed or was retired since it was read.
func (bp *BatchProcessor) store(ctx context.Context, doc *core.PolicyDocument, vector []float32) (bool, error) {
	current, err := bp.docs.Get(ctx, doc.ID)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current.Retired || current.Fingerprint() != doc.Fingerprint() {
		return false, nil
	}

	current.Embedding = vector
	current.ContentHash = current.Fingerprint()
	if _, err := bp.docs.Upsert(ctx, current); err != nil {
		return false, err
	}
	return true, nil
}
