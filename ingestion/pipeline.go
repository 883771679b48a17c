package ingestion

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/storage"
)

// Pipeline orchestrates parsing, embedding and storing of policy documents.
// Batches are spread over a worker pool.
type Pipeline struct {
	documents  storage.DocumentRepository
	pool       *ants.Pool
	processors []processor
	onResult   func(Result)
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for batch ingestion.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithResultHook calls fn after every document of a batch completes.
// fn may be called from several goroutines at once.
func WithResultHook(fn func(Result)) Option {
	return func(p *Pipeline) error {
		p.onResult = fn
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline storing into documents and
// embedding through gateway.
func NewPipeline(documents storage.DocumentRepository, gateway *Gateway, opts ...Option) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if gateway == nil {
		return nil, ErrGatewayRequired
	}

	// Default pool size
	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		documents: documents,
		pool:      pool,
		logger:    slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	// Create processors after options are applied (so they get final config)
	embeddingProc, err := newEmbeddingProcessor(documents, gateway, p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	p.processors = []processor{embeddingProc}

	return p, nil
}

// Ingest parses, embeds and stores one document.
// Validation failures are reported in Result.Err wrapping core.ErrValidation.
// An unavailable embedding model only sets Result.Warning.
func (p *Pipeline) Ingest(ctx context.Context, raw RawDocument) Result {
	result := Result{Filename: raw.Filename}

	doc, err := Parse(raw)
	if err != nil {
		result.Err = err
		return result
	}
	result.Filename = doc.SourceFilename

	if err := core.ValidateDocument(doc, p.documents.Dimensions()); err != nil {
		result.Err = err
		return result
	}

	for _, proc := range p.processors {
		if err := proc.process(ctx, doc, &result); err != nil {
			result.Err = err
			return result
		}
	}

	id, err := p.documents.Upsert(ctx, doc)
	if err != nil {
		result.Err = err
		result.Embedded = false
		result.Reused = false
		return result
	}
	result.DocumentID = id

	p.logger.Debug("ingested document", "id", id, "filename", doc.SourceFilename, "embedded", result.Embedded)
	return result
}

// IngestBatch ingests raws concurrently. Results line up with raws by index.
// One failing document never stops the others.
func (p *Pipeline) IngestBatch(ctx context.Context, raws []RawDocument) []Result {
	results := make([]Result, len(raws))

	var wg sync.WaitGroup
	for i, raw := range raws {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			results[i] = p.Ingest(ctx, raw)
			if p.onResult != nil {
				p.onResult(results[i])
			}
		})
		if err != nil {
			wg.Done()
			results[i] = Result{Filename: raw.Filename, Err: err}
			if p.onResult != nil {
				p.onResult(results[i])
			}
		}
	}
	wg.Wait()

	failed, warned := 0, 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
		case r.Warning != "":
			warned++
		}
	}
	p.logger.Info("ingested batch", "documents", len(raws), "failed", failed, "warnings", warned)
	return results
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
