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
	"iter"

	"github.com/poiesic/policyrag/core"
)

const (
	// DefaultBatchSize is the default number of documents handed to each batch
	DefaultBatchSize = 32
)

// Scanner is the part of the document store the iterator reads.
type Scanner interface {
	ScanAll(ctx context.Context) iter.Seq2[*core.PolicyDocument, error]
}

// DocumentIterator walks stored documents in id order, in batches.
type DocumentIterator struct {
	docs      Scanner
	batchSize int
	after     core.ID
}

// NewDocumentIterator creates a new document iterator.
// Documents with an id at or below after are skipped.
func NewDocumentIterator(docs Scanner, batchSize int, after core.ID) *DocumentIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &DocumentIterator{
		docs:      docs,
		batchSize: batchSize,
		after:     after,
	}
}

// ForEach calls fn for each batch of documents.
// Iteration stops on first error from fn or when all documents are visited.
// Context cancellation is checked between batches.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func([]*core.PolicyDocument) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := make([]*core.PolicyDocument, 0, it.batchSize)
	for doc, err := range it.docs.ScanAll(ctx) {
		if err != nil {
			return err
		}
		if doc.ID <= it.after {
			continue
		}

		batch = append(batch, doc)
		if len(batch) < it.batchSize {
			continue
		}

		if err := fn(batch); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = make([]*core.PolicyDocument, 0, it.batchSize)
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
