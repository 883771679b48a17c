package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.ChatHost)
	assert.Equal(t, "bge-m3", cfg.EmbeddingModel)
	assert.Equal(t, 1024, cfg.Dimensions)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 8000, cfg.MaxInputChars)
	assert.NoError(t, cfg.Validate())
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.ChatHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithChatHost("http://chat:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://chat:9090/v1", cfg.ChatHost)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingModel("text-embedding-3-small"),
			WithChatModel("gpt-4o-mini"),
			WithAPIKey("secret"),
			WithDimensions(1536),
			WithTimeout(time.Second),
			WithMaxInputChars(100),
			WithRequestsPerSecond(5),
		)

		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)
		assert.Equal(t, "secret", cfg.APIKey)
		assert.Equal(t, 1536, cfg.Dimensions)
		assert.Equal(t, time.Second, cfg.Timeout)
		assert.Equal(t, 100, cfg.MaxInputChars)
		assert.Equal(t, 5.0, cfg.RequestsPerSecond)
	})
}

func TestConfig_Normalize(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{name: "adds suffix", host: "http://localhost:11434", want: "http://localhost:11434/v1"},
		{name: "trims trailing slash", host: "http://localhost:11434/", want: "http://localhost:11434/v1"},
		{name: "keeps suffix", host: "http://localhost:11434/v1", want: "http://localhost:11434/v1"},
		{name: "empty stays empty", host: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host, ChatHost: tt.host}
			cfg.Normalize()
			assert.Equal(t, tt.want, cfg.EmbeddingHost)
			assert.Equal(t, tt.want, cfg.ChatHost)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{name: "missing embedding host", modify: func(c *Config) { c.EmbeddingHost = "" }, errMsg: "EmbeddingHost is required"},
		{name: "missing embedding model", modify: func(c *Config) { c.EmbeddingModel = "" }, errMsg: "EmbeddingModel is required"},
		{name: "missing chat host", modify: func(c *Config) { c.ChatHost = "" }, errMsg: "ChatHost is required"},
		{name: "missing chat model", modify: func(c *Config) { c.ChatModel = "" }, errMsg: "ChatModel is required"},
		{name: "zero dimensions", modify: func(c *Config) { c.Dimensions = 0 }, errMsg: "Dimensions must be positive"},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }, errMsg: "Timeout must be positive"},
		{name: "zero max input", modify: func(c *Config) { c.MaxInputChars = 0 }, errMsg: "MaxInputChars must be positive"},
		{name: "negative rate", modify: func(c *Config) { c.RequestsPerSecond = -1 }, errMsg: "RequestsPerSecond cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("normalizes before validating", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EmbeddingHost = "http://embed:8080"
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
	})
}
