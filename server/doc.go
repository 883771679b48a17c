// Package server exposes search, ingestion, catalog and assistant operations
// over HTTP, plus Prometheus metrics at /metrics.
package server
