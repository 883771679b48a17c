package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/poiesic/policyrag/ai"
	"github.com/poiesic/policyrag/ai/mock"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "청년", Truncate("청년정책", 2))
	assert.Equal(t, "청년정책", Truncate("청년정책", 10))
	assert.Equal(t, "청년정책", Truncate("청년정책", 0))
	assert.Equal(t, "", Truncate("", 3))
}

func TestNewGateway(t *testing.T) {
	_, err := NewGateway(nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewGateway(mock.NewMockEmbedder(3), WithGatewayTimeout(0))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = NewGateway(mock.NewMockEmbedder(3), WithGatewayRetry(retry.Policy{}))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	cfg := ai.NewConfig(ai.WithTimeout(time.Second), ai.WithMaxInputChars(10), ai.WithDimensions(3), ai.WithRequestsPerSecond(5))
	g, err := NewGateway(mock.NewMockEmbedder(3), WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, time.Second, g.timeout)
	assert.Equal(t, 10, g.maxChars)
	assert.Equal(t, 3, g.dims)
	assert.NotNil(t, g.limiter)
}

func TestGateway_Embed(t *testing.T) {
	ctx := context.Background()
	fast := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("truncates input", func(t *testing.T) {
		embedder := mock.NewMockEmbedder(3)
		var seen string
		embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			seen = text
			return []float32{1, 0, 0}, nil
		}
		g, err := NewGateway(embedder, WithMaxInputChars(5))
		require.NoError(t, err)

		_, err = g.Embed(ctx, "가나다라마바사아자차")
		require.NoError(t, err)
		assert.Equal(t, 5, utf8.RuneCountInString(seen))
	})

	t.Run("retries transient failures", func(t *testing.T) {
		embedder := mock.NewMockEmbedder(3)
		calls := 0
		embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("503")
			}
			return []float32{0, 1, 0}, nil
		}
		g, err := NewGateway(embedder, WithGatewayRetry(fast))
		require.NoError(t, err)

		vec, err := g.Embed(ctx, "text")
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 0}, vec)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		embedder := mock.NewMockEmbedder(3)
		embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("503")
		}
		g, err := NewGateway(embedder, WithGatewayRetry(fast))
		require.NoError(t, err)

		_, err = g.Embed(ctx, "text")
		assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
		assert.Equal(t, 3, embedder.CallCount())
	})

	t.Run("wrong width is not retried", func(t *testing.T) {
		embedder := mock.NewMockEmbedder(2)
		g, err := NewGateway(embedder, WithGatewayDimensions(3), WithGatewayRetry(fast))
		require.NoError(t, err)

		_, err = g.Embed(ctx, "text")
		assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
		assert.Equal(t, 1, embedder.CallCount())
	})

	t.Run("each attempt is bounded by the timeout", func(t *testing.T) {
		embedder := mock.NewMockEmbedder(3)
		embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		g, err := NewGateway(embedder,
			WithGatewayTimeout(10*time.Millisecond),
			WithGatewayRetry(retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}),
		)
		require.NoError(t, err)

		_, err = g.Embed(ctx, "text")
		assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("rate limited calls still succeed", func(t *testing.T) {
		g, err := NewGateway(mock.NewMockEmbedder(3), WithRateLimit(1000, 1))
		require.NoError(t, err)
		for range 3 {
			_, err := g.Embed(ctx, "text")
			require.NoError(t, err)
		}
	})
}
