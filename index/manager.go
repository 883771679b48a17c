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


package index

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/retry"
	"github.com/poiesic/policyrag/storage"
)

// Field names a scalar field with exact and prefix indexes.
type Field string

const (
	FieldPolicyName Field = "policy_name"
	FieldCategory   Field = "category"
	FieldRegion     Field = "region"
)

// ObjectField names an open metadata map with a containment index.
type ObjectField string

const (
	FieldEligibility     ObjectField = "eligibility"
	FieldApplicationInfo ObjectField = "application_info"
	FieldAdditionalInfo  ObjectField = "additional_info"
)

const (
	DefaultM              = 24
	DefaultEfConstruction = 200
	DefaultEfSearch       = 128

	// DefaultExactThreshold is the largest filtered candidate set scored
	// by brute force instead of the graph.
	DefaultExactThreshold = 512
)

// Scanner is the part of the store RebuildAll needs.
type Scanner interface {
	ScanAll(ctx context.Context) iter.Seq2[*core.PolicyDocument, error]
}

type containKey struct {
	field ObjectField
	key   string
	value string
}

// entry remembers what was indexed for a document so it can be removed.
type entry struct {
	scalars   map[Field]string
	tags      []string
	contains  []containKey
	age       core.AgeRange
	hasAge    bool
	embedding []float32
}

// Manager maintains the secondary indexes over the document store.
// It observes the store and must be subscribed before documents are written,
// or rebuilt with RebuildAll.
type Manager struct {
	mu sync.RWMutex

	dims           int
	efSearch       int
	exactThreshold int
	retryPolicy    retry.Policy
	logger         *slog.Logger

	entries  map[core.ID]*entry
	scalars  map[Field]*scalarIndex
	tags     postings
	contains map[containKey]IDSet
	ages     map[core.ID]core.AgeRange
	ann      *hnsw
	pending  IDSet
}

var _ storage.Observer = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// WithHNSW sets the graph parameters.
func WithHNSW(degree, efConstruction, efSearch int) Option {
	return func(m *Manager) error {
		if degree < 2 || efConstruction <= 0 || efSearch <= 0 {
			return fmt.Errorf("%w: hnsw parameters must be positive (m >= 2)", core.ErrInvalidArgument)
		}
		m.ann = newHNSW(m.dims, degree, efConstruction)
		m.efSearch = efSearch
		return nil
	}
}

// WithExactThreshold sets the largest filtered candidate set scored exactly.
func WithExactThreshold(n int) Option {
	return func(m *Manager) error {
		if n < 0 {
			return fmt.Errorf("%w: exact threshold cannot be negative", core.ErrInvalidArgument)
		}
		m.exactThreshold = n
		return nil
	}
}

// WithRetryPolicy sets how many times an ANN insert is attempted.
// BaseDelay is ignored: attempts run back to back under the index write lock.
func WithRetryPolicy(p retry.Policy) Option {
	return func(m *Manager) error {
		p.BaseDelay = 0
		m.retryPolicy = p
		return nil
	}
}

// NewManager creates an empty index manager for vectors of dims entries.
func NewManager(dims int, opts ...Option) (*Manager, error) {
	m := &Manager{
		dims:           dims,
		efSearch:       DefaultEfSearch,
		exactThreshold: DefaultExactThreshold,
		retryPolicy:    retry.Policy{MaxAttempts: 3},
		logger:         slog.Default(),
		ann:            newHNSW(dims, DefaultM, DefaultEfConstruction),
	}
	m.reset()

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "index")
	return m, nil
}

func (m *Manager) reset() {
	m.entries = make(map[core.ID]*entry)
	m.scalars = map[Field]*scalarIndex{
		FieldPolicyName: newScalarIndex(),
		FieldCategory:   newScalarIndex(),
		FieldRegion:     newScalarIndex(),
	}
	m.tags = postings{}
	m.contains = make(map[containKey]IDSet)
	m.ages = make(map[core.ID]core.AgeRange)
	m.pending = IDSet{}
	m.ann.Reset()
}

// OnUpsert indexes a new or replaced document. Retired documents are removed.
func (m *Manager) OnUpsert(doc *core.PolicyDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apply(doc)
}

// OnDelete removes a document from every index.
func (m *Manager) OnDelete(id core.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(id, true)
}

func (m *Manager) apply(doc *core.PolicyDocument) {
	if doc.Retired {
		m.remove(doc.ID, true)
		return
	}

	old := m.entries[doc.ID]
	sameVector := old != nil && slices.Equal(old.embedding, doc.Embedding) && !m.pending.Has(doc.ID)
	if old != nil {
		m.remove(doc.ID, !sameVector)
	}

	e := &entry{
		scalars: map[Field]string{
			FieldPolicyName: doc.PolicyName,
			FieldCategory:   doc.Category,
			FieldRegion:     doc.Region,
		},
		tags:      slices.Clone(doc.Tags),
		embedding: slices.Clone(doc.Embedding),
	}
	for field, value := range e.scalars {
		m.scalars[field].add(value, doc.ID)
	}
	for _, tag := range e.tags {
		m.tags.add(tag, doc.ID)
	}
	e.contains = containKeys(doc)
	for _, k := range e.contains {
		set, ok := m.contains[k]
		if !ok {
			set = IDSet{}
			m.contains[k] = set
		}
		set[doc.ID] = struct{}{}
	}
	if r, ok := core.AgeRangeOf(doc); ok {
		e.age, e.hasAge = r, true
		m.ages[doc.ID] = r
	}
	m.entries[doc.ID] = e

	if sameVector || !doc.HasEmbedding() {
		return
	}

	err := m.retryPolicy.Do(context.Background(), func() error {
		return m.ann.Insert(doc.ID, doc.Embedding)
	})
	if err != nil {
		m.pending[doc.ID] = struct{}{}
		m.logger.Error("vector index write failed",
			"id", doc.ID,
			"err", fmt.Errorf("%w: %w", core.ErrIndexInconsistency, err))
	}
}

// remove drops id from the indexes. The ANN entry is kept when dropVector is false.
func (m *Manager) remove(id core.ID, dropVector bool) {
	e, ok := m.entries[id]
	if !ok {
		return
	}
	for field, value := range e.scalars {
		m.scalars[field].remove(value, id)
	}
	for _, tag := range e.tags {
		m.tags.remove(tag, id)
	}
	for _, k := range e.contains {
		if set, ok := m.contains[k]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.contains, k)
			}
		}
	}
	delete(m.ages, id)
	delete(m.entries, id)
	if dropVector {
		m.ann.Delete(id)
		delete(m.pending, id)
	}
}

func containKeys(doc *core.PolicyDocument) []containKey {
	var keys []containKey
	add := func(field ObjectField, values map[string]core.Value) {
		for k, v := range values {
			keys = append(keys, containKey{field: field, key: k, value: v.Canonical()})
			if items, ok := v.AsArray(); ok {
				for _, item := range items {
					keys = append(keys, containKey{field: field, key: k, value: item.Canonical()})
				}
			}
		}
	}
	add(FieldEligibility, doc.Eligibility)
	add(FieldApplicationInfo, doc.ApplicationInfo)
	add(FieldAdditionalInfo, doc.AdditionalInfo)
	return keys
}

// RebuildAll clears every index and rescans the store.
func (m *Manager) RebuildAll(ctx context.Context, store Scanner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	m.reset()
	n := 0
	for doc, err := range store.ScanAll(ctx) {
		if err != nil {
			return err
		}
		m.apply(doc)
		n++
	}
	m.logger.Info("rebuilt indexes",
		"documents", n,
		"indexed", len(m.entries),
		"vectors", m.ann.Len(),
		"pending", len(m.pending),
		"elapsed", time.Since(start))
	return nil
}

// Len returns the number of indexed documents.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// VectorLen returns the number of documents in the vector index.
func (m *Manager) VectorLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ann.Len()
}

// Lookup returns documents whose field equals value, ignoring case.
func (m *Manager) Lookup(field Field, value string) (IDSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.scalars[field]
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not indexed", core.ErrInvalidArgument, field)
	}
	return idx.lookup(value), nil
}

// LookupPrefix returns documents whose field starts with prefix, ignoring case.
func (m *Manager) LookupPrefix(field Field, prefix string) (IDSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.scalars[field]
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not indexed", core.ErrInvalidArgument, field)
	}
	return idx.lookupPrefix(prefix), nil
}

// Values returns the distinct values of field with their document counts,
// most common first.
func (m *Manager) Values(field Field) ([]ValueCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.scalars[field]
	if !ok {
		return nil, fmt.Errorf("%w: field %q is not indexed", core.ErrInvalidArgument, field)
	}
	return idx.values(), nil
}

// WithTag returns documents carrying tag. Matching is exact and case-sensitive.
func (m *Manager) WithTag(tag string) IDSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.tags[tag]
	if set == nil {
		return IDSet{}
	}
	return set.clone()
}

// Contains returns documents whose field map holds value under key, or an
// array under key that has value as an element.
func (m *Manager) Contains(field ObjectField, key string, value core.Value) IDSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.contains[containKey{field: field, key: key, value: value.Canonical()}]
	if set == nil {
		return IDSet{}
	}
	return set.clone()
}

// EligibleAt returns documents whose age limits admit age.
// Documents that state no age limits are included.
func (m *Manager) EligibleAt(age int) IDSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := IDSet{}
	for id := range m.entries {
		if r, ok := m.ages[id]; ok && !r.Contains(age) {
			continue
		}
		out[id] = struct{}{}
	}
	return out
}

// Pending returns documents whose vector could not be indexed.
// They stay out of vector search until RebuildAll succeeds for them.
func (m *Manager) Pending() []core.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending.Sorted()
}

// SearchVector returns up to k nearest documents to query by cosine distance,
// closest first, ties by ascending id. A nil candidates set searches every
// document; otherwise only candidates are considered.
func (m *Manager) SearchVector(query []float32, k int, candidates IDSet) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", core.ErrInvalidArgument)
	}
	if m.dims > 0 && len(query) != m.dims {
		return nil, fmt.Errorf("%w: %w: got %d, want %d", core.ErrInvalidArgument, core.ErrDimensionMismatch, len(query), m.dims)
	}
	if core.Norm(query) == 0 {
		return nil, fmt.Errorf("%w: query vector is zero", core.ErrInvalidArgument)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if candidates != nil && len(candidates) <= m.exactThreshold {
		return m.ann.exact(query, k, candidates.Sorted())
	}

	var accept func(core.ID) bool
	eligible := m.ann.Len()
	if candidates != nil {
		accept = candidates.Has
		eligible = 0
		for id := range candidates {
			if m.ann.Has(id) {
				eligible++
			}
		}
	}

	found, err := m.ann.Search(query, k, m.efSearch, accept)
	if err != nil {
		return nil, err
	}
	if len(found) < min(k, eligible) {
		m.logger.Debug("graph search under-filled, scanning candidates", "found", len(found), "k", k)
		pool := candidates
		if pool == nil {
			pool = make(IDSet, len(m.ann.nodes))
			for id := range m.ann.nodes {
				pool[id] = struct{}{}
			}
		}
		return m.ann.exact(query, k, pool.Sorted())
	}
	return found, nil
}
