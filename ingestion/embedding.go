package ingestion

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/storage"
)

// embeddingProcessor attaches a vector to documents, reusing the stored one
// when the embedded text has not changed.
type embeddingProcessor struct {
	documents storage.DocumentRepository
	gateway   *Gateway
	logger    *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

// newEmbeddingProcessor creates a new embedding processor.
func newEmbeddingProcessor(documents storage.DocumentRepository, gateway *Gateway, logger *slog.Logger) (processor, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if gateway == nil {
		return nil, ErrGatewayRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		documents: documents,
		gateway:   gateway,
		logger:    logger.With("processor", "embeddings"),
	}, nil
}

func (ep *embeddingProcessor) process(ctx context.Context, doc *core.PolicyDocument, result *Result) error {
	fingerprint := doc.Fingerprint()

	// Caller supplied the vector.
	if doc.HasEmbedding() {
		doc.ContentHash = fingerprint
		result.Embedded = true
		return nil
	}

	stored, err := ep.documents.GetByFilename(ctx, doc.SourceFilename)
	switch {
	case err == nil:
		if stored.ContentHash == fingerprint && stored.HasEmbedding() {
			doc.Embedding = stored.Embedding
			doc.ContentHash = fingerprint
			result.Embedded = true
			result.Reused = true
			ep.logger.Debug("reusing stored embedding", "filename", doc.SourceFilename)
			return nil
		}
	case errors.Is(err, core.ErrNotFound):
	default:
		return err
	}

	vector, err := ep.gateway.Embed(ctx, doc.EmbeddingInput())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		ep.logger.Warn("storing document without embedding", "filename", doc.SourceFilename, "err", err)
		doc.Embedding = nil
		doc.ContentHash = 0
		result.Warning = err.Error()
		return nil
	}

	doc.Embedding = vector
	doc.ContentHash = fingerprint
	result.Embedded = true
	return nil
}
