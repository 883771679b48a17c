package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/policyrag/ai/mock"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/index"
	"github.com/poiesic/policyrag/ingestion"
	"github.com/poiesic/policyrag/rag"
	"github.com/poiesic/policyrag/retry"
	"github.com/poiesic/policyrag/search"
	"github.com/poiesic/policyrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	repo     *badger.DocumentRepository
	embedder *mock.MockEmbedder
	chat     *mock.MockChatModel
	server   *httptest.Server
}

func newServerFixture(t *testing.T, withAssistant bool) *serverFixture {
	t.Helper()

	repo, backend, err := badger.NewMemoryRepository(3)
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})

	idx, err := index.NewManager(3)
	require.NoError(t, err)
	repo.Subscribe(idx)

	embedder := mock.NewMockEmbedder(3)
	retriever, err := search.NewRetriever(repo, idx, search.WithEmbedder(embedder), search.WithDimensions(3))
	require.NoError(t, err)

	gateway, err := ingestion.NewGateway(embedder,
		ingestion.WithGatewayDimensions(3),
		ingestion.WithGatewayRetry(retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}),
	)
	require.NoError(t, err)
	pipeline, err := ingestion.NewPipeline(repo, gateway, ingestion.WithPoolSize(2))
	require.NoError(t, err)
	t.Cleanup(pipeline.Release)

	opts := []Option{WithIngester(pipeline), WithCatalog(idx)}
	chat := mock.NewMockChatModel("청년 월세 지원을 확인해 보세요.")
	if withAssistant {
		assistant, err := rag.NewAssistant(retriever, chat)
		require.NoError(t, err)
		opts = append(opts, WithAssistant(assistant))
	}

	srv, err := New(repo, retriever, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &serverFixture{repo: repo, embedder: embedder, chat: chat, server: ts}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *serverFixture) ingest(t *testing.T, name, category string) core.ID {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/v1/policies", map[string]any{
		"document": map[string]any{
			"policy_name":     name,
			"source_filename": name + ".txt",
			"full_text":       name + " 본문",
			"category":        category,
			"region":          "서울",
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out ingestResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Embedded)
	return out.DocumentID
}

func TestNew(t *testing.T) {
	repo, backend, err := badger.NewMemoryRepository(3)
	require.NoError(t, err)
	defer backend.Close()
	defer repo.Close()

	idx, err := index.NewManager(3)
	require.NoError(t, err)
	retriever, err := search.NewRetriever(repo, idx)
	require.NoError(t, err)

	_, err = New(nil, retriever)
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = New(repo, nil)
	assert.ErrorIs(t, err, ErrSearcherRequired)
	_, err = New(repo, retriever, WithDefaultLimit(0))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestServer_Policies(t *testing.T) {
	f := newServerFixture(t, false)
	rent := f.ingest(t, "청년 월세 지원", "주거")
	f.ingest(t, "청년 취업 지원", "일자리")
	f.ingest(t, "청년 전세 대출", "주거")

	t.Run("get", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/policies/%d", rent), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, "청년 월세 지원", doc["policy_name"])
		assert.Equal(t, true, doc["embedded"])
		assert.NotContains(t, doc, "embedding")
	})

	t.Run("get unknown and malformed ids", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodGet, "/api/v1/policies/999999", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp, _ = f.do(t, http.MethodGet, "/api/v1/policies/abc", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("list filters and pages", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, "/api/v1/policies?category=%EC%A3%BC%EA%B1%B0&sort=name&limit=1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out listResponse
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, 2, out.Total)
		require.Len(t, out.Items, 1)
		assert.Equal(t, "청년 월세 지원", out.Items[0].PolicyName)

		resp, _ = f.do(t, http.MethodGet, "/api/v1/policies?sort=random", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp, _ = f.do(t, http.MethodGet, "/api/v1/policies?limit=-1", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("counters", func(t *testing.T) {
		path := fmt.Sprintf("/api/v1/policies/%d/views", rent)
		f.do(t, http.MethodPost, path, nil)
		resp, body := f.do(t, http.MethodPost, path, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out counterResponse
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, int64(2), out.Value)
		assert.Equal(t, core.CounterViews, out.Counter)

		resp, _ = f.do(t, http.MethodPost, "/api/v1/policies/999999/scraps", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("categories and regions", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, "/api/v1/categories", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var values []index.ValueCount
		require.NoError(t, json.Unmarshal(body, &values))
		assert.Contains(t, values, index.ValueCount{Value: "주거", Count: 2})

		resp, body = f.do(t, http.MethodGet, "/api/v1/regions", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(body, &values))
		assert.Equal(t, []index.ValueCount{{Value: "서울", Count: 3}}, values)
	})

	t.Run("invalid ingest", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodPost, "/api/v1/policies", map[string]any{
			"document": map[string]any{"policy_name": "이름만"},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = f.do(t, http.MethodPost, "/api/v1/policies", map[string]any{"unknown": true})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("retire", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/policies/%d", rent), nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, body := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/policies/%d", rent), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"retired":true`)

		resp, body = f.do(t, http.MethodPost, "/api/v1/search", map[string]any{"text": "월세", "mode": "keyword"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, "[]", string(body))
	})
}

func TestServer_Search(t *testing.T) {
	f := newServerFixture(t, false)
	rent := f.ingest(t, "청년 월세 지원", "주거")
	f.ingest(t, "청년 취업 지원", "일자리")

	t.Run("keyword", func(t *testing.T) {
		resp, body := f.do(t, http.MethodPost, "/api/v1/search", map[string]any{"text": "월세", "mode": "keyword"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var out []searchHit
		require.NoError(t, json.Unmarshal(body, &out))
		require.Len(t, out, 1)
		assert.Equal(t, rent, out[0].DocumentID)
		assert.Equal(t, core.MatchTypeText, out[0].MatchType)
		assert.Equal(t, "청년 월세 지원", out[0].PolicyName)
	})

	t.Run("vector", func(t *testing.T) {
		doc, err := f.repo.Get(context.Background(), rent)
		require.NoError(t, err)

		resp, body := f.do(t, http.MethodPost, "/api/v1/search", map[string]any{"vector": doc.Embedding, "limit": 1})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var out []searchHit
		require.NoError(t, json.Unmarshal(body, &out))
		require.Len(t, out, 1)
		assert.Equal(t, rent, out[0].DocumentID)
		assert.Equal(t, core.MatchTypeVector, out[0].MatchType)
		assert.InDelta(t, 1.0, out[0].Score, 1e-4)
	})

	t.Run("invalid request", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodPost, "/api/v1/search", map[string]any{"text": "월세", "limit": -1})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp, _ = f.do(t, http.MethodPost, "/api/v1/search", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("embedding unavailable", func(t *testing.T) {
		f.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return nil, errors.New("model offline")
		}
		defer func() { f.embedder.EmbedTextFunc = nil }()

		resp, _ := f.do(t, http.MethodPost, "/api/v1/search", map[string]any{"text": "월세", "mode": "vector"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		resp, body := f.do(t, http.MethodPost, "/api/v1/search", map[string]any{"text": "월세"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []searchHit
		require.NoError(t, json.Unmarshal(body, &out))
		require.Len(t, out, 1)
		assert.Equal(t, core.MatchTypeText, out[0].MatchType)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "policyrag_searches_total")
		assert.Contains(t, string(body), `policyrag_http_requests_total{method="POST",route="/api/v1/search",status="200"}`)
		assert.Contains(t, string(body), `policyrag_ingested_documents_total{outcome="embedded"} 2`)
	})
}

func TestServer_Ask(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newServerFixture(t, false)
		resp, _ := f.do(t, http.MethodPost, "/api/v1/ask", map[string]any{"question": "월세"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("answers with sources", func(t *testing.T) {
		f := newServerFixture(t, true)
		rent := f.ingest(t, "청년 월세 지원", "주거")
		f.embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return nil, errors.New("model offline")
		}

		resp, body := f.do(t, http.MethodPost, "/api/v1/ask", map[string]any{"question": "월세"})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var out askResponse
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, "청년 월세 지원을 확인해 보세요.", out.Answer)
		require.Len(t, out.Sources, 1)
		assert.Equal(t, rent, out.Sources[0].DocumentID)
		require.Len(t, f.chat.Calls(), 1)
	})

	t.Run("empty question", func(t *testing.T) {
		f := newServerFixture(t, true)
		resp, _ := f.do(t, http.MethodPost, "/api/v1/ask", map[string]any{"question": " "})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("%w: x", core.ErrValidation)))
	assert.Equal(t, http.StatusNotFound, statusFor(core.ErrNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(core.ErrEmbeddingUnavailable))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
