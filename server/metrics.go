package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/ingestion"
	"github.com/poiesic/policyrag/search"
)

// Metrics holds the Prometheus collectors of one server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Search metrics
	SearchesTotal     *prometheus.CounterVec
	SearchDuration    prometheus.Histogram
	EmbeddingDuration *prometheus.HistogramVec
	SearchCandidates  prometheus.Histogram
	SearchResults     prometheus.Histogram

	// Ingestion metrics
	IngestedTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyrag_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policyrag_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		SearchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyrag_searches_total",
				Help: "Total number of searches by match type and status",
			},
			[]string{"match_type", "status"},
		),
		SearchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "policyrag_search_duration_seconds",
				Help:    "Duration of searches in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		EmbeddingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policyrag_query_embedding_duration_seconds",
				Help:    "Duration of query embedding calls in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		SearchCandidates: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "policyrag_search_filter_candidates",
				Help:    "Candidate set size after metadata filtering",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		SearchResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "policyrag_search_results",
				Help:    "Number of results returned per search",
				Buckets: prometheus.LinearBuckets(0, 5, 11),
			},
		),
		IngestedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyrag_ingested_documents_total",
				Help: "Total number of ingested documents by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records one HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordIngest records the outcome of one ingested document.
func (m *Metrics) RecordIngest(result ingestion.Result) {
	outcome := "unembedded"
	switch {
	case result.Err != nil:
		outcome = "failed"
	case result.Reused:
		outcome = "reused"
	case result.Embedded:
		outcome = "embedded"
	}
	m.IngestedTotal.WithLabelValues(outcome).Inc()
}

// SearchMonitor returns a monitor for a single search.
func (m *Metrics) SearchMonitor() search.Monitor {
	return &searchMonitor{metrics: m}
}

// searchMonitor feeds one search's stages into Metrics. Not shared between searches.
type searchMonitor struct {
	metrics *Metrics
	start   time.Time
}

var _ search.Monitor = (*searchMonitor)(nil)

func (s *searchMonitor) Start(_ *search.Request) {
	s.start = time.Now()
}

func (s *searchMonitor) AfterFilter(candidates int) {
	if candidates >= 0 {
		s.metrics.SearchCandidates.Observe(float64(candidates))
	}
}

func (s *searchMonitor) AfterEmbedding(elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.EmbeddingDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (s *searchMonitor) AfterVectorSearch(_ int, _ int) {}

func (s *searchMonitor) AfterKeywordSearch(_ int, _ int) {}

func (s *searchMonitor) Finish(matchType core.MatchType, results []*core.SearchResult, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	label := string(matchType)
	if label == "" {
		label = "none"
	}
	s.metrics.SearchesTotal.WithLabelValues(label, status).Inc()
	s.metrics.SearchResults.Observe(float64(len(results)))
	if !s.start.IsZero() {
		s.metrics.SearchDuration.Observe(time.Since(s.start).Seconds())
	}
}
