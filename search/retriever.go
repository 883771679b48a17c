package search

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/index"
)

// DocumentSource is the part of the document store the retriever reads.
type DocumentSource interface {
	GetMany(ctx context.Context, ids ...core.ID) ([]*core.PolicyDocument, error)
	ScanAll(ctx context.Context) iter.Seq2[*core.PolicyDocument, error]
}

// Index is the part of the index manager the retriever reads.
type Index interface {
	SearchVector(query []float32, k int, candidates index.IDSet) ([]index.Neighbor, error)
	Lookup(field index.Field, value string) (index.IDSet, error)
	LookupPrefix(field index.Field, prefix string) (index.IDSet, error)
	WithTag(tag string) index.IDSet
	Contains(field index.ObjectField, key string, value core.Value) index.IDSet
	EligibleAt(age int) index.IDSet
}

// DefaultEmbedTimeout bounds query vectorization.
const DefaultEmbedTimeout = 5 * time.Second

// Similarities within similarityEpsilon of 1 are reported as exactly 1.
const similarityEpsilon = 1e-6

// Retriever is the single entry point for search over policy documents.
// It is read-only and safe for concurrent use.
type Retriever struct {
	docs         DocumentSource
	index        Index
	embedder     ai.Embedder
	dims         int
	embedTimeout time.Duration
	monitor      Monitor
	logger       *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithEmbedder sets the embedder used to vectorize free-text queries.
// Without one, requests that carry no vector use keyword search.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(r *Retriever) error {
		r.embedder = embedder
		return nil
	}
}

// WithEmbedTimeout bounds each query embedding call.
// Default is DefaultEmbedTimeout.
func WithEmbedTimeout(d time.Duration) Option {
	return func(r *Retriever) error {
		if d <= 0 {
			return fmt.Errorf("%w: embed timeout must be positive", core.ErrInvalidArgument)
		}
		r.embedTimeout = d
		return nil
	}
}

// WithDimensions sets the expected query vector width. Zero disables the check.
func WithDimensions(dims int) Option {
	return func(r *Retriever) error {
		r.dims = dims
		return nil
	}
}

// WithMonitor sets the monitor used by Search.
func WithMonitor(monitor Monitor) Option {
	return func(r *Retriever) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		r.monitor = monitor
		return nil
	}
}

// NewRetriever creates a retriever over docs and idx.
func NewRetriever(docs DocumentSource, idx Index, opts ...Option) (*Retriever, error) {
	if docs == nil {
		return nil, ErrDocumentsRequired
	}
	if idx == nil {
		return nil, ErrIndexRequired
	}

	r := &Retriever{
		docs:         docs,
		index:        idx,
		embedTimeout: DefaultEmbedTimeout,
		monitor:      &noopMonitor{},
		logger:       slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever")

	return r, nil
}

// Search runs req and returns at most req.Limit results, best first.
func (r *Retriever) Search(ctx context.Context, req Request) ([]*core.SearchResult, error) {
	return r.SearchWithMonitor(ctx, req, r.monitor)
}

// SearchWithMonitor runs req reporting each stage to monitor.
func (r *Retriever) SearchWithMonitor(ctx context.Context, req Request, monitor Monitor) (results []*core.SearchResult, err error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if req.Mode == "" {
		req.Mode = ModeAuto
	}

	monitor.Start(&req)
	matchType := core.MatchTypeText
	defer func() {
		monitor.Finish(matchType, results, err)
	}()

	if err := req.validate(r.dims); err != nil {
		return nil, err
	}

	candidates, err := r.candidates(req.Filters)
	if err != nil {
		return nil, err
	}
	if candidates == nil {
		monitor.AfterFilter(-1)
	} else {
		monitor.AfterFilter(len(candidates))
		if len(candidates) == 0 {
			return []*core.SearchResult{}, nil
		}
	}

	if req.Mode == ModeKeyword {
		return r.keyword(ctx, &req, candidates, monitor)
	}

	vector, err := r.queryVector(ctx, &req, monitor)
	if err != nil {
		if req.Mode == ModeVector && !req.AllowKeywordFallback {
			return nil, err
		}
		if req.Text == "" {
			return nil, err
		}
		r.logger.Warn("falling back to keyword search", "err", err)
		return r.keyword(ctx, &req, candidates, monitor)
	}

	matchType = core.MatchTypeVector
	return r.vector(ctx, &req, vector, candidates, monitor)
}

// queryVector returns the request vector, embedding the text when none was supplied.
func (r *Retriever) queryVector(ctx context.Context, req *Request, monitor Monitor) ([]float32, error) {
	if len(req.Vector) > 0 {
		return req.Vector, nil
	}
	if r.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", core.ErrEmbeddingUnavailable)
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()

	start := time.Now()
	vector, err := r.embedder.EmbedText(embedCtx, req.Text)
	if err == nil && len(vector) == 0 {
		err = errors.New("embedder returned an empty vector")
	}
	if err == nil {
		err = core.ValidateEmbedding(vector, r.dims)
	}
	monitor.AfterEmbedding(time.Since(start), err)
	if err != nil {
		if errors.Is(err, core.ErrEmbeddingUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}

// candidates resolves filters to a candidate set. Nil means unrestricted.
func (r *Retriever) candidates(f Filters) (index.IDSet, error) {
	if f.empty() {
		return nil, nil
	}

	var set index.IDSet
	restrict := func(s index.IDSet) {
		if set == nil {
			set = s
			return
		}
		set = index.Intersect(set, s)
	}

	if f.Region != "" {
		s, err := r.index.Lookup(index.FieldRegion, f.Region)
		if err != nil {
			return nil, err
		}
		restrict(s)
	}
	if f.Category != "" {
		s, err := r.index.Lookup(index.FieldCategory, f.Category)
		if err != nil {
			return nil, err
		}
		restrict(s)
	}
	if f.NamePrefix != "" {
		s, err := r.index.LookupPrefix(index.FieldPolicyName, f.NamePrefix)
		if err != nil {
			return nil, err
		}
		restrict(s)
	}
	for _, tag := range f.Tags {
		restrict(r.index.WithTag(tag))
	}
	for key, value := range f.Eligibility {
		restrict(r.index.Contains(index.FieldEligibility, key, value))
	}
	if f.Age != nil {
		restrict(r.index.EligibleAt(*f.Age))
	}
	if set == nil {
		set = index.IDSet{}
	}
	return set, nil
}

func (r *Retriever) vector(ctx context.Context, req *Request, vector []float32, candidates index.IDSet, monitor Monitor) ([]*core.SearchResult, error) {
	neighbors, err := r.index.SearchVector(vector, req.Limit, candidates)
	if err != nil {
		return nil, err
	}

	ids := make([]core.ID, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.ID
	}
	docs, err := r.docs.GetMany(ctx, ids...)
	if err != nil {
		return nil, err
	}
	byID := make(map[core.ID]*core.PolicyDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	threshold := req.threshold()
	hits := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		doc, ok := byID[n.ID]
		if !ok || doc.Retired {
			continue
		}
		score := similarity(vector, doc.Embedding, n.Distance)
		if score < threshold {
			continue
		}
		hits = append(hits, Candidate{Document: doc, Score: score})
	}
	monitor.AfterVectorSearch(len(neighbors), len(hits))

	return limit(Rank(hits, core.MatchTypeVector), req.Limit), nil
}

// similarity scores a neighbor against the stored embedding so that a
// document queried with its own vector scores exactly 1.
func similarity(query, embedding []float32, distance float32) float32 {
	score := 1 - distance
	if len(embedding) == len(query) {
		score = core.CosineSimilarity(query, embedding)
	}
	if score >= 1-similarityEpsilon {
		return 1
	}
	return score
}

func (r *Retriever) keyword(ctx context.Context, req *Request, candidates index.IDSet, monitor Monitor) ([]*core.SearchResult, error) {
	raw := strings.TrimSpace(req.Text)
	folded := core.Fold(raw)
	if folded == "" {
		return nil, fmt.Errorf("%w: keyword search needs non-blank text", core.ErrInvalidArgument)
	}

	var hits []Candidate
	scanned := 0
	consider := func(doc *core.PolicyDocument) {
		scanned++
		if doc.Retired {
			return
		}
		if rank := keywordRank(doc, folded, raw); rank > 0 {
			hits = append(hits, Candidate{Document: doc, Score: 1.0, FieldRank: rank})
		}
	}

	if candidates != nil {
		docs, err := r.docs.GetMany(ctx, candidates.Sorted()...)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			consider(doc)
		}
	} else {
		for doc, err := range r.docs.ScanAll(ctx) {
			if err != nil {
				return nil, err
			}
			consider(doc)
		}
	}
	monitor.AfterKeywordSearch(scanned, len(hits))

	return limit(Rank(hits, core.MatchTypeText), req.Limit), nil
}

func limit(results []*core.SearchResult, n int) []*core.SearchResult {
	if len(results) > n {
		return results[:n]
	}
	return results
}
