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


package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/index"
	"github.com/poiesic/policyrag/retry"
	"github.com/poiesic/policyrag/storage"
)

// JobName is the checkpoint key of a reindex run.
const JobName = "reindex"

// VerifyNeighbors is how many nearest neighbors Verify compares per document.
const VerifyNeighbors = 10

// Index is the part of the index manager a Rebuilder drives.
type Index interface {
	RebuildAll(ctx context.Context, store index.Scanner) error
	SearchVector(query []float32, k int, candidates index.IDSet) ([]index.Neighbor, error)
}

// RunOptions selects what a run does.
type RunOptions struct {
	// BatchSize is the number of documents embedded per request.
	BatchSize int

	// Force re-embeds every document, not only those without a vector.
	Force bool

	// Resume continues after the last checkpointed document.
	Resume bool
}

// Report summarizes a run.
type Report struct {
	Scanned  int
	Embedded int
	Skipped  int
	Failed   int
	Elapsed  time.Duration
}

// Rebuilder orchestrates re-embedding of stored documents and the index rebuild.
type Rebuilder struct {
	docs        storage.DocumentRepository
	checkpoints storage.CheckpointRepository
	embedder    ai.Embedder
	index       Index
	retry       retry.Policy
	maxChars    int
	pool        *ants.Pool
	progress    Progress
	logger      *slog.Logger
}

// Option configures a Rebuilder.
type Option func(*Rebuilder) error

// WithCheckpoints enables checkpointing through repo.
func WithCheckpoints(repo storage.CheckpointRepository) Option {
	return func(r *Rebuilder) error {
		r.checkpoints = repo
		return nil
	}
}

// WithRetryPolicy sets the retry policy for embedding calls.
// Default is retry.DefaultPolicy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(r *Rebuilder) error {
		if policy.MaxAttempts <= 0 {
			return fmt.Errorf("%w: %w", core.ErrInvalidArgument, retry.ErrInvalidMaxAttempts)
		}
		r.retry = policy
		return nil
	}
}

// WithMaxInputChars truncates embedding input to n runes.
func WithMaxInputChars(n int) Option {
	return func(r *Rebuilder) error {
		r.maxChars = n
		return nil
	}
}

// WithPoolSize sets the worker pool size for single-document embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(r *Rebuilder) error {
		if r.pool != nil {
			r.pool.Release()
		}
		pool, err := ants.NewPool(max(size, 1))
		if err != nil {
			return err
		}
		r.pool = pool
		return nil
	}
}

// WithProgress sets the progress sink.
func WithProgress(progress Progress) Option {
	return func(r *Rebuilder) error {
		if progress == nil {
			progress = noopProgress{}
		}
		r.progress = progress
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rebuilder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRebuilder creates a rebuilder for docs, embedding with embedder and rebuilding idx.
func NewRebuilder(docs storage.DocumentRepository, embedder ai.Embedder, idx Index, opts ...Option) (*Rebuilder, error) {
	if docs == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if idx == nil {
		return nil, ErrIndexRequired
	}

	pool, err := ants.NewPool(max(runtime.NumCPU()/2, 1))
	if err != nil {
		return nil, err
	}

	r := &Rebuilder{
		docs:     docs,
		embedder: embedder,
		index:    idx,
		retry:    retry.DefaultPolicy,
		maxChars: ai.DefaultConfig().MaxInputChars,
		pool:     pool,
		progress: noopProgress{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			r.Release()
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "reindex")
	return r, nil
}

// Run re-embeds documents per opts, checkpointing after every batch, then
// rebuilds every index from the store.
func (r *Rebuilder) Run(ctx context.Context, opts RunOptions) (Report, error) {
	start := time.Now()
	var report Report

	after, err := r.resumePoint(ctx, opts.Resume)
	if err != nil {
		return report, err
	}

	total, err := r.docs.Count(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to count documents: %w", err)
	}
	r.logger.Info("starting reindex", "documents", total, "force", opts.Force, "after", after)
	r.progress.Start(total)

	processor := NewBatchProcessor(r.docs, r.embedder, r.retry, r.maxChars, r.pool, r.logger)
	iterator := NewDocumentIterator(r.docs, opts.BatchSize, after)

	err = iterator.ForEach(ctx, func(batch []*core.PolicyDocument) error {
		report.Scanned += len(batch)

		pending := make([]*core.PolicyDocument, 0, len(batch))
		for _, doc := range batch {
			if doc.Retired || (doc.HasEmbedding() && !opts.Force) {
				report.Skipped++
				continue
			}
			pending = append(pending, doc)
		}

		result, err := processor.Process(ctx, pending)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		report.Embedded += result.Embedded
		report.Skipped += result.Skipped
		report.Failed += result.Failed

		if err := r.saveCheckpoint(ctx, batch[len(batch)-1].ID); err != nil {
			return err
		}
		r.progress.Increment(len(batch))
		return nil
	})
	if err != nil {
		return report, err
	}

	if err := r.index.RebuildAll(ctx, r.docs); err != nil {
		return report, fmt.Errorf("failed to rebuild index: %w", err)
	}
	if r.checkpoints != nil {
		if err := r.checkpoints.ClearCheckpoint(ctx, JobName); err != nil {
			return report, err
		}
	}

	r.progress.Finish()
	report.Elapsed = time.Since(start)
	r.logger.Info("reindex complete",
		"scanned", report.Scanned,
		"embedded", report.Embedded,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

func (r *Rebuilder) resumePoint(ctx context.Context, resume bool) (core.ID, error) {
	if !resume || r.checkpoints == nil {
		return 0, nil
	}
	checkpoint, err := r.checkpoints.LoadCheckpoint(ctx, JobName)
	if err != nil {
		return 0, err
	}
	if checkpoint == nil {
		return 0, nil
	}
	return checkpoint.LastID, nil
}

func (r *Rebuilder) saveCheckpoint(ctx context.Context, last core.ID) error {
	if r.checkpoints == nil {
		return nil
	}
	return r.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{Job: JobName, LastID: last})
}

// Verify measures ANN recall against exact search. For up to sample
// embedded documents it compares the VerifyNeighbors nearest neighbors the
// index returns for the stored vector with the exact ones computed by the
// document repository, and returns the mean share the index found.
func (r *Rebuilder) Verify(ctx context.Context, sample int) (float64, error) {
	if sample <= 0 {
		return 0, fmt.Errorf("%w: sample must be positive", core.ErrInvalidArgument)
	}

	checked, recall := 0, 0.0
	for doc, err := range r.docs.ScanAll(ctx) {
		if err != nil {
			return 0, err
		}
		if doc.Retired || !doc.HasEmbedding() || core.Norm(doc.Embedding) == 0 {
			continue
		}

		exact, err := r.docs.FindSimilar(ctx, doc.Embedding, -1, VerifyNeighbors)
		if err != nil {
			return 0, err
		}
		want := make(map[core.ID]struct{}, len(exact))
		for _, res := range exact {
			if core.Norm(res.Document.Embedding) > 0 {
				want[res.Document.ID] = struct{}{}
			}
		}
		if len(want) == 0 {
			continue
		}

		approx, err := r.index.SearchVector(doc.Embedding, len(want), nil)
		if err != nil {
			return 0, err
		}
		hits := 0
		for _, n := range approx {
			if _, ok := want[n.ID]; ok {
				hits++
			}
		}
		recall += float64(hits) / float64(len(want))

		checked++
		if checked == sample {
			break
		}
	}
	if checked == 0 {
		return 1, nil
	}
	return recall / float64(checked), nil
}

// Release releases the worker pool.
func (r *Rebuilder) Release() {
	if r.pool != nil {
		r.pool.Release()
	}
}
