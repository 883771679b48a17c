package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/policyrag/ai/mock"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/retry"
	"github.com/poiesic/policyrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	repo     *badger.DocumentRepository
	embedder *mock.MockEmbedder
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, opts ...Option) *pipelineFixture {
	t.Helper()

	repo, backend, err := badger.NewMemoryRepository(3)
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})

	embedder := mock.NewMockEmbedder(3)
	gateway, err := NewGateway(embedder,
		WithGatewayDimensions(3),
		WithGatewayRetry(retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}),
	)
	require.NoError(t, err)

	pipeline, err := NewPipeline(repo, gateway, append([]Option{WithPoolSize(4)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)

	return &pipelineFixture{repo: repo, embedder: embedder, pipeline: pipeline}
}

func structured(filename, name, text string) RawDocument {
	return RawDocument{Document: &core.PolicyDocument{
		PolicyName:     name,
		SourceFilename: filename,
		FullText:       text,
		Region:         "서울",
	}}
}

func TestNewPipeline(t *testing.T) {
	repo, backend, err := badger.NewMemoryRepository(3)
	require.NoError(t, err)
	defer backend.Close()
	defer repo.Close()

	gateway, err := NewGateway(mock.NewMockEmbedder(3))
	require.NoError(t, err)

	t.Run("requires repository", func(t *testing.T) {
		_, err := NewPipeline(nil, gateway)
		assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)
	})

	t.Run("requires gateway", func(t *testing.T) {
		_, err := NewPipeline(repo, nil)
		assert.ErrorIs(t, err, ErrGatewayRequired)
	})

	t.Run("option errors release the pool", func(t *testing.T) {
		_, err := NewPipeline(repo, gateway, func(*Pipeline) error { return errors.New("boom") })
		assert.EqualError(t, err, "boom")
	})
}

func TestPipeline_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and embeds", func(t *testing.T) {
		f := newPipelineFixture(t)

		res := f.pipeline.Ingest(ctx, structured("a.txt", "청년 월세 지원", "월세를 지원합니다"))
		require.NoError(t, res.Err)
		assert.True(t, res.Embedded)
		assert.False(t, res.Reused)
		assert.Empty(t, res.Warning)
		assert.Equal(t, "a.txt", res.Filename)

		stored, err := f.repo.Get(ctx, res.DocumentID)
		require.NoError(t, err)
		assert.Len(t, stored.Embedding, 3)
		assert.Equal(t, stored.Fingerprint(), stored.ContentHash)
		assert.Equal(t, 1, f.embedder.CallCount())
	})

	t.Run("unchanged content reuses the stored embedding", func(t *testing.T) {
		f := newPipelineFixture(t)
		raw := structured("a.txt", "청년 월세 지원", "월세를 지원합니다")

		first := f.pipeline.Ingest(ctx, raw)
		require.NoError(t, first.Err)
		second := f.pipeline.Ingest(ctx, raw)
		require.NoError(t, second.Err)

		assert.Equal(t, first.DocumentID, second.DocumentID)
		assert.True(t, second.Reused)
		assert.True(t, second.Embedded)
		assert.Equal(t, 1, f.embedder.CallCount())

		count, err := f.repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("changed content is embedded again", func(t *testing.T) {
		f := newPipelineFixture(t)

		first := f.pipeline.Ingest(ctx, structured("a.txt", "청년 월세 지원", "v1"))
		require.NoError(t, first.Err)
		second := f.pipeline.Ingest(ctx, structured("a.txt", "청년 월세 지원", "v2"))
		require.NoError(t, second.Err)

		assert.Equal(t, first.DocumentID, second.DocumentID)
		assert.False(t, second.Reused)
		assert.Equal(t, 2, f.embedder.CallCount())
	})

	t.Run("caller supplied vector is kept", func(t *testing.T) {
		f := newPipelineFixture(t)
		raw := structured("v.txt", "name", "text")
		raw.Document.Embedding = []float32{0, 1, 0}

		res := f.pipeline.Ingest(ctx, raw)
		require.NoError(t, res.Err)
		assert.True(t, res.Embedded)
		assert.Zero(t, f.embedder.CallCount())

		stored, err := f.repo.Get(ctx, res.DocumentID)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 0}, stored.Embedding)
	})

	t.Run("embedding failure stores without vector", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("connection refused")
		}

		res := f.pipeline.Ingest(ctx, structured("a.txt", "청년 월세 지원", "본문"))
		require.NoError(t, res.Err)
		assert.False(t, res.Embedded)
		assert.Contains(t, res.Warning, "connection refused")

		stored, err := f.repo.Get(ctx, res.DocumentID)
		require.NoError(t, err)
		assert.False(t, stored.HasEmbedding())
		assert.Zero(t, stored.ContentHash)

		t.Run("a later ingest embeds it", func(t *testing.T) {
			f.embedder.EmbedTextFunc = nil
			res := f.pipeline.Ingest(ctx, structured("a.txt", "청년 월세 지원", "본문"))
			require.NoError(t, res.Err)
			assert.True(t, res.Embedded)
			assert.False(t, res.Reused)
		})
	})

	t.Run("validation failure stores nothing", func(t *testing.T) {
		f := newPipelineFixture(t)

		res := f.pipeline.Ingest(ctx, structured("a.txt", "", "본문"))
		assert.ErrorIs(t, res.Err, core.ErrValidation)
		assert.ErrorIs(t, res.Err, core.ErrEmptyPolicyName)
		assert.Zero(t, f.embedder.CallCount())

		res = f.pipeline.Ingest(ctx, RawDocument{Format: FormatHTML})
		assert.ErrorIs(t, res.Err, core.ErrValidation)

		count, err := f.repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("wrong vector width is a validation error", func(t *testing.T) {
		f := newPipelineFixture(t)
		raw := structured("a.txt", "name", "text")
		raw.Document.Embedding = []float32{1, 0}

		res := f.pipeline.Ingest(ctx, raw)
		assert.ErrorIs(t, res.Err, core.ErrValidation)
		assert.ErrorIs(t, res.Err, core.ErrDimensionMismatch)
	})

	t.Run("re-ingestion revives a retired document", func(t *testing.T) {
		f := newPipelineFixture(t)
		raw := structured("a.txt", "name", "text")

		first := f.pipeline.Ingest(ctx, raw)
		require.NoError(t, first.Err)
		require.NoError(t, f.repo.Retire(ctx, first.DocumentID))

		second := f.pipeline.Ingest(ctx, raw)
		require.NoError(t, second.Err)
		assert.Equal(t, first.DocumentID, second.DocumentID)

		stored, err := f.repo.Get(ctx, second.DocumentID)
		require.NoError(t, err)
		assert.False(t, stored.Retired)
	})
}

func TestPipeline_IngestBatch(t *testing.T) {
	ctx := context.Background()

	var seen atomic.Int32
	f := newPipelineFixture(t, WithResultHook(func(Result) { seen.Add(1) }))

	raws := make([]RawDocument, 0, 10)
	for i := range 9 {
		raws = append(raws, structured(fmt.Sprintf("%d.txt", i), fmt.Sprintf("정책 %d", i), "본문"))
	}
	raws = append(raws, structured("bad.txt", "", "본문"))

	results := f.pipeline.IngestBatch(ctx, raws)
	require.Len(t, results, len(raws))
	assert.EqualValues(t, len(raws), seen.Load())

	for i, res := range results[:9] {
		require.NoError(t, res.Err, "document %d", i)
		assert.Equal(t, fmt.Sprintf("%d.txt", i), res.Filename)
		assert.True(t, res.Embedded)
	}
	assert.ErrorIs(t, results[9].Err, core.ErrValidation)

	count, err := f.repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, count)

	t.Run("same filename in one batch yields one document", func(t *testing.T) {
		dupes := []RawDocument{
			structured("dup.txt", "dup", "one"),
			structured("dup.txt", "dup", "two"),
			structured("dup.txt", "dup", "three"),
		}
		results := f.pipeline.IngestBatch(ctx, dupes)
		for _, res := range results {
			require.NoError(t, res.Err)
			assert.Equal(t, results[0].DocumentID, res.DocumentID)
		}
		count, err := f.repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, count)
	})
}
