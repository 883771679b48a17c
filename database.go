// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package policyrag wires the document store, index, retriever and AI
// services of the policy search engine together from one configuration.
package policyrag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/ai/openai"
	"github.com/poiesic/policyrag/config"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/index"
	"github.com/poiesic/policyrag/ingestion"
	"github.com/poiesic/policyrag/rag"
	"github.com/poiesic/policyrag/reindex"
	"github.com/poiesic/policyrag/search"
	"github.com/poiesic/policyrag/storage"
	"github.com/poiesic/policyrag/storage/badger"
	"github.com/poiesic/policyrag/storage/postgres"
)

// Database owns every long-lived component of the engine.
type Database struct {
	cfg         *config.Config
	documents   storage.DocumentRepository
	checkpoints storage.CheckpointRepository
	index       *index.Manager
	provider    ai.AIProvider
	retriever   *search.Retriever
	closers     []func() error
	logger      *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	provider ai.AIProvider
	monitor  search.Monitor
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the configuration.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithSearchMonitor sets the retriever's default monitor.
func WithSearchMonitor(monitor search.Monitor) DatabaseOption {
	return func(o *databaseOptions) {
		o.monitor = monitor
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// Open builds a Database from cfg, loading every stored document into the index.
func Open(ctx context.Context, cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("%w: invalid configuration: %w", core.ErrInvalidArgument, errors.Join(joined...))
	}

	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	db := &Database{cfg: cfg, logger: options.logger}
	if err := db.openStorage(ctx); err != nil {
		db.Close()
		return nil, err
	}

	idx, err := index.NewManager(cfg.AI.Dimensions,
		index.WithHNSW(cfg.Index.M, cfg.Index.EfConstruction, cfg.Index.EfSearch),
		index.WithExactThreshold(cfg.Index.ExactThreshold),
		index.WithLogger(db.logger),
	)
	if err != nil {
		db.Close()
		return nil, err
	}
	db.index = idx
	db.documents.Subscribe(idx)
	if err := idx.RebuildAll(ctx, db.documents); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	db.provider = options.provider
	if db.provider == nil {
		provider, err := openai.NewProvider(cfg.AIServiceConfig())
		if err != nil {
			db.Close()
			return nil, err
		}
		db.provider = provider
	}
	db.closers = append(db.closers, db.provider.Close)

	db.retriever, err = search.NewRetriever(db.documents, idx,
		search.WithEmbedder(db.provider.Embedder()),
		search.WithDimensions(cfg.AI.Dimensions),
		search.WithEmbedTimeout(cfg.Search.EmbedTimeout),
		search.WithMonitor(options.monitor),
		search.WithLogger(db.logger),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	db.logger.Info("database ready", "backend", cfg.Storage.Backend, "documents", idx.Len(), "vectors", idx.VectorLen())
	return db, nil
}

func (db *Database) openStorage(ctx context.Context) error {
	switch db.cfg.Storage.Backend {
	case config.BackendPostgres:
		backend, err := postgres.Open(ctx, db.cfg.Storage.PostgresURL, db.cfg.AI.Dimensions,
			postgres.WithHNSW(db.cfg.Index.M, db.cfg.Index.EfConstruction),
			postgres.WithLogger(db.logger),
		)
		if err != nil {
			return err
		}
		db.closers = append(db.closers, func() error {
			backend.Close()
			return nil
		})
		db.documents = postgres.NewDocumentRepository(backend)
		db.checkpoints = postgres.NewCheckpointRepository(backend)

	default:
		backend, err := badger.OpenBackend(db.cfg.Storage.Path, db.cfg.Storage.InMemory)
		if err != nil {
			return err
		}
		db.closers = append(db.closers, backend.Close)
		documents, err := badger.NewDocumentRepository(backend, db.cfg.AI.Dimensions)
		if err != nil {
			return err
		}
		db.documents = documents
		db.checkpoints = badger.NewCheckpointRepository(backend)
	}
	db.closers = append(db.closers, db.documents.Close)
	return nil
}

// Close releases every component in reverse order of creation.
func (db *Database) Close() error {
	var errs []error
	for i := len(db.closers) - 1; i >= 0; i-- {
		if err := db.closers[i](); err != nil {
			db.logger.Error("error closing database component", "err", err)
			errs = append(errs, err)
		}
	}
	db.closers = nil
	return errors.Join(errs...)
}

// Config returns the configuration the database was opened with.
func (db *Database) Config() *config.Config {
	return db.cfg
}

// Documents returns the document store.
func (db *Database) Documents() storage.DocumentRepository {
	return db.documents
}

// Checkpoints returns the checkpoint store.
func (db *Database) Checkpoints() storage.CheckpointRepository {
	return db.checkpoints
}

// Index returns the index manager.
func (db *Database) Index() *index.Manager {
	return db.index
}

// Provider returns the AI provider.
func (db *Database) Provider() ai.AIProvider {
	return db.provider
}

// Retriever returns the hybrid retriever.
func (db *Database) Retriever() *search.Retriever {
	return db.retriever
}

// NewPipeline creates an ingestion pipeline embedding through a rate-limited gateway.
// Callers must Release it.
func (db *Database) NewPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	gateway, err := ingestion.NewGateway(db.provider.Embedder(),
		ingestion.WithConfig(db.cfg.AIServiceConfig()),
		ingestion.WithGatewayLogger(db.logger),
	)
	if err != nil {
		return nil, err
	}

	defaults := []ingestion.Option{ingestion.WithLogger(db.logger)}
	if db.cfg.Ingestion.Workers > 0 {
		defaults = append(defaults, ingestion.WithPoolSize(db.cfg.Ingestion.Workers))
	}
	return ingestion.NewPipeline(db.documents, gateway, append(defaults, opts...)...)
}

// NewRebuilder creates a re-embedding job with checkpoints in this database.
// Callers must Release it.
func (db *Database) NewRebuilder(opts ...reindex.Option) (*reindex.Rebuilder, error) {
	defaults := []reindex.Option{
		reindex.WithCheckpoints(db.checkpoints),
		reindex.WithMaxInputChars(db.cfg.AI.MaxInputChars),
		reindex.WithLogger(db.logger),
	}
	return reindex.NewRebuilder(db.documents, db.provider.Embedder(), db.index, append(defaults, opts...)...)
}

// NewAssistant creates a question answering assistant over the retriever.
func (db *Database) NewAssistant(opts ...rag.Option) (*rag.Assistant, error) {
	defaults := []rag.Option{
		rag.WithThreshold(db.cfg.RAG.Threshold),
		rag.WithTopK(db.cfg.RAG.TopK),
		rag.WithLogger(db.logger),
	}
	return rag.NewAssistant(db.retriever, db.provider.ChatModel(), append(defaults, opts...)...)
}
