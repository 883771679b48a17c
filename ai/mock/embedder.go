package mock

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/poiesic/policyrag/core"
)

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields and fixed vectors.
// Safe for concurrent use once configured.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, EmbedText is applied to each text.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	dims      int
	mu        sync.RWMutex
	fixed     map[string][]float32
	callCount atomic.Int64
}

// NewMockEmbedder creates a mock embedder producing dims-wide vectors.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder(dims int) *MockEmbedder {
	return &MockEmbedder{dims: dims, fixed: map[string][]float32{}}
}

// WithVector makes EmbedText return vec for exactly text.
func (m *MockEmbedder) WithVector(text string, vec []float32) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixed[text] = slices.Clone(vec)
	return m
}

// EmbedText returns a fixed vector when one was registered, otherwise a
// deterministic vector derived from the text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.callCount.Add(1)

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.vectorFor(text), nil
}

// EmbedTexts generates embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedTextsFunc != nil {
		m.callCount.Add(1)
		return m.EmbedTextsFunc(ctx, texts)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (m *MockEmbedder) vectorFor(text string) []float32 {
	m.mu.RLock()
	v, ok := m.fixed[text]
	m.mu.RUnlock()
	if ok {
		return slices.Clone(v)
	}
	return generateDeterministicVector(text, m.dims)
}

// CallCount returns the number of embedding calls made.
func (m *MockEmbedder) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count, injected functions and fixed vectors.
func (m *MockEmbedder) Reset() {
	m.callCount.Store(0)
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
	m.mu.Lock()
	m.fixed = map[string][]float32{}
	m.mu.Unlock()
}

// generateDeterministicVector creates a unit vector from text.
// It uses FNV hash to ensure the same text always produces the same vector.
func generateDeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := range vector {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 + 0.001
	}
	core.NormalizeVector(vector)
	return vector
}
