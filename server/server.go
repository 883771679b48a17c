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


package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/index"
	"github.com/poiesic/policyrag/ingestion"
	"github.com/poiesic/policyrag/rag"
	"github.com/poiesic/policyrag/search"
	"github.com/poiesic/policyrag/storage"
)

// DefaultLimit is the result count of search and list requests that set none.
const DefaultLimit = 10

// maxBodyBytes bounds request bodies, ingested documents included.
const maxBodyBytes = 8 << 20

// Searcher runs searches while reporting to a monitor.
type Searcher interface {
	SearchWithMonitor(ctx context.Context, req search.Request, monitor search.Monitor) ([]*core.SearchResult, error)
}

// Ingester stores one raw document.
type Ingester interface {
	Ingest(ctx context.Context, raw ingestion.RawDocument) ingestion.Result
}

// Catalog lists the distinct values of an indexed field.
type Catalog interface {
	Values(field index.Field) ([]index.ValueCount, error)
}

// Asker answers questions grounded on stored policies.
type Asker interface {
	Ask(ctx context.Context, q rag.Question) (*rag.Answer, error)
}

// Server routes the HTTP API onto the search engine.
type Server struct {
	router    *chi.Mux
	docs      storage.DocumentRepository
	searcher  Searcher
	ingester  Ingester
	catalog   Catalog
	assistant Asker
	metrics   *Metrics
	limit     int
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server) error

// WithIngester enables POST /api/v1/policies.
func WithIngester(ingester Ingester) Option {
	return func(s *Server) error {
		s.ingester = ingester
		return nil
	}
}

// WithCatalog enables the category and region listings.
func WithCatalog(catalog Catalog) Option {
	return func(s *Server) error {
		s.catalog = catalog
		return nil
	}
}

// WithAssistant enables POST /api/v1/ask.
func WithAssistant(assistant Asker) Option {
	return func(s *Server) error {
		s.assistant = assistant
		return nil
	}
}

// WithMetrics sets the collectors. Default is a fresh NewMetrics().
func WithMetrics(metrics *Metrics) Option {
	return func(s *Server) error {
		if metrics != nil {
			s.metrics = metrics
		}
		return nil
	}
}

// WithDefaultLimit sets the limit used when a request sets none.
func WithDefaultLimit(limit int) Option {
	return func(s *Server) error {
		if limit <= 0 {
			return fmt.Errorf("%w: default limit must be positive", core.ErrInvalidArgument)
		}
		s.limit = limit
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New creates a server over docs and searcher.
func New(docs storage.DocumentRepository, searcher Searcher, opts ...Option) (*Server, error) {
	if docs == nil {
		return nil, ErrStoreRequired
	}
	if searcher == nil {
		return nil, ErrSearcherRequired
	}

	s := &Server{
		router:   chi.NewRouter(),
		docs:     docs,
		searcher: searcher,
		limit:    DefaultLimit,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.logger = s.logger.With("component", "http")
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(s.accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/ask", s.handleAsk)
		r.Get("/categories", s.handleValues(index.FieldCategory))
		r.Get("/regions", s.handleValues(index.FieldRegion))

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleIngest)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Delete("/", s.handleRetire)
				r.Post("/views", s.handleCounter(core.CounterViews))
				r.Post("/scraps", s.handleCounter(core.CounterScraps))
			})
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// accessLogger logs every request and records it in the metrics under its route pattern.
func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			s.metrics.RecordRequest(route, r.Method, ww.Status(), elapsed)
			s.logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", elapsed,
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
