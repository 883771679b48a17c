package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate reports every invalid setting. An empty result means the config is usable.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Storage.Backend {
	case BackendBadger:
		if c.Storage.Path == "" && !c.Storage.InMemory {
			add("storage.path", "is required unless storage.in_memory is set")
		}
	case BackendPostgres:
		if c.Storage.PostgresURL == "" {
			add("storage.postgres_url", "is required for the postgres backend")
		}
	default:
		add("storage.backend", "must be %q or %q, got %q", BackendBadger, BackendPostgres, c.Storage.Backend)
	}

	for _, h := range []struct{ field, host string }{
		{"ai.embedding_host", c.AI.EmbeddingHost},
		{"ai.chat_host", c.AI.ChatHost},
	} {
		field, host := h.field, h.host
		if host == "" {
			add(field, "is required")
			continue
		}
		if u, err := url.Parse(host); err != nil || u.Scheme == "" || u.Host == "" {
			add(field, "must be an absolute URL, got %q", host)
		}
	}
	if c.AI.EmbeddingModel == "" {
		add("ai.embedding_model", "is required")
	}
	if c.AI.ChatModel == "" {
		add("ai.chat_model", "is required")
	}
	if c.AI.Dimensions <= 0 {
		add("ai.dimensions", "must be positive")
	}
	if c.AI.Timeout <= 0 {
		add("ai.timeout", "must be positive")
	}
	if c.AI.MaxInputChars <= 0 {
		add("ai.max_input_chars", "must be positive")
	}
	if c.AI.RequestsPerSecond < 0 {
		add("ai.requests_per_second", "must not be negative")
	}

	if c.Index.M < 2 {
		add("index.m", "must be at least 2")
	}
	switch {
	case c.Index.EfConstruction < c.Index.M:
		add("index.ef_construction", "must be at least index.m")
	case c.Storage.Backend == BackendPostgres && c.Index.EfConstruction < 2*c.Index.M:
		add("index.ef_construction", "must be at least twice index.m for the postgres backend")
	}
	if c.Index.EfSearch <= 0 {
		add("index.ef_search", "must be positive")
	}
	if c.Index.ExactThreshold < 0 {
		add("index.exact_threshold", "must not be negative")
	}

	if c.Search.Limit <= 0 {
		add("search.limit", "must be positive")
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		add("search.threshold", "must be within [0,1]")
	}
	if c.RAG.Threshold < 0 || c.RAG.Threshold > 1 {
		add("rag.threshold", "must be within [0,1]")
	}
	if c.RAG.TopK <= 0 {
		add("rag.top_k", "must be positive")
	}
	if c.Ingestion.Workers < 0 {
		add("ingestion.workers", "must not be negative")
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	return errs
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}
