package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/index"
	"github.com/poiesic/policyrag/ingestion"
	"github.com/poiesic/policyrag/rag"
	"github.com/poiesic/policyrag/search"
	"github.com/poiesic/policyrag/storage"
)

type searchHit struct {
	DocumentID core.ID        `json:"documentId"`
	MatchType  core.MatchType `json:"matchType"`
	Score      float32        `json:"score"`
	PolicyName string         `json:"policyName"`
	Category   string         `json:"category,omitempty"`
	Region     string         `json:"region,omitempty"`
	Deadline   string         `json:"deadline,omitempty"`
}

func hits(results []*core.SearchResult) []searchHit {
	out := make([]searchHit, len(results))
	for i, r := range results {
		out[i] = searchHit{
			DocumentID: r.Document.ID,
			MatchType:  r.MatchType,
			Score:      r.Score,
			PolicyName: r.Document.PolicyName,
			Category:   r.Document.Category,
			Region:     r.Document.Region,
			Deadline:   r.Document.Deadline,
		}
	}
	return out
}

type ingestRequest struct {
	Filename string               `json:"filename,omitempty"`
	Format   ingestion.Format     `json:"format,omitempty"`
	Content  string               `json:"content,omitempty"`
	Document *core.PolicyDocument `json:"document,omitempty"`
}

type ingestResponse struct {
	DocumentID core.ID `json:"documentId"`
	Filename   string  `json:"filename"`
	Embedded   bool    `json:"embedded"`
	Reused     bool    `json:"reused,omitempty"`
	Warning    string  `json:"warning,omitempty"`
}

// policyResponse is a stored document without its vector.
type policyResponse struct {
	*core.PolicyDocument
	Embedded bool `json:"embedded"`
}

func policyView(doc *core.PolicyDocument) policyResponse {
	view := doc.Clone()
	view.Embedding = nil
	return policyResponse{PolicyDocument: view, Embedded: doc.HasEmbedding()}
}

type listResponse struct {
	Items []policyResponse `json:"items"`
	Total int              `json:"total"`
}

type counterResponse struct {
	DocumentID core.ID      `json:"documentId"`
	Counter    core.Counter `json:"counter"`
	Value      int64        `json:"value"`
}

type askResponse struct {
	Answer  string      `json:"answer"`
	Sources []searchHit `json:"sources"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", core.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: %w", core.ErrInvalidArgument, err)
	}
	return nil
}

func pathID(r *http.Request) (core.ID, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid policy id %q", core.ErrInvalidArgument, raw)
	}
	return core.ID(id), nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", core.ErrInvalidArgument, key)
	}
	return n, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = s.limit
	}

	results, err := s.searcher.SearchWithMonitor(r.Context(), req, s.metrics.SearchMonitor())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hits(results))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.writeError(w, r, fmt.Errorf("ingestion %w", errNotConfigured))
		return
	}
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result := s.ingester.Ingest(r.Context(), ingestion.RawDocument{
		Filename: req.Filename,
		Format:   req.Format,
		Content:  req.Content,
		Document: req.Document,
	})
	s.metrics.RecordIngest(result)
	if result.Err != nil {
		s.writeError(w, r, result.Err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestResponse{
		DocumentID: result.DocumentID,
		Filename:   result.Filename,
		Embedded:   result.Embedded,
		Reused:     result.Reused,
		Warning:    result.Warning,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{
		Category: q.Get("category"),
		Region:   q.Get("region"),
		Sort:     storage.SortOrder(q.Get("sort")),
	}
	switch opts.Sort {
	case "":
		opts.Sort = storage.SortSmart
	case storage.SortSmart, storage.SortDeadline, storage.SortName, storage.SortCreated, storage.SortViews:
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown sort %q", core.ErrInvalidArgument, opts.Sort))
		return
	}

	var err error
	if opts.Limit, err = queryInt(r, "limit", s.limit); err != nil {
		s.writeError(w, r, err)
		return
	}
	if opts.Offset, err = queryInt(r, "offset", 0); err != nil {
		s.writeError(w, r, err)
		return
	}

	docs, total, err := s.docs.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := listResponse{Items: make([]policyResponse, len(docs)), Total: total}
	for i, doc := range docs {
		resp.Items[i] = policyView(doc)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	doc, err := s.docs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyView(doc))
}

func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.docs.Retire(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCounter(counter core.Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		value, err := s.docs.IncrementCounter(r.Context(), id, counter, 1)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, counterResponse{DocumentID: id, Counter: counter, Value: value})
	}
}

func (s *Server) handleValues(field index.Field) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.catalog == nil {
			s.writeError(w, r, fmt.Errorf("catalog %w", errNotConfigured))
			return
		}
		values, err := s.catalog.Values(field)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, values)
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		s.writeError(w, r, fmt.Errorf("assistant %w", errNotConfigured))
		return
	}
	var q rag.Question
	if err := decodeJSON(w, r, &q); err != nil {
		s.writeError(w, r, err)
		return
	}

	answer, err := s.assistant.Ask(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: answer.Text, Sources: hits(answer.Sources)})
}
