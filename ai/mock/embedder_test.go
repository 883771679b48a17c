package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/policyrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("deterministic unit vectors", func(t *testing.T) {
		m := NewMockEmbedder(8)
		a, err := m.EmbedText(ctx, "청년")
		require.NoError(t, err)
		b, err := m.EmbedText(ctx, "청년")
		require.NoError(t, err)

		assert.Len(t, a, 8)
		assert.Equal(t, a, b)
		assert.InDelta(t, 1.0, core.Norm(a), 1e-5)
		assert.Equal(t, 2, m.CallCount())
	})

	t.Run("fixed vectors", func(t *testing.T) {
		m := NewMockEmbedder(3).WithVector("q", []float32{1, 0, 0})
		vectors, err := m.EmbedTexts(ctx, []string{"q", "other"})
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0, 0}, vectors[0])
		assert.Len(t, vectors[1], 3)
	})

	t.Run("injected failure and reset", func(t *testing.T) {
		m := NewMockEmbedder(3)
		m.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return nil, errors.New("offline")
		}
		_, err := m.EmbedText(ctx, "x")
		assert.Error(t, err)

		m.Reset()
		assert.Zero(t, m.CallCount())
		_, err = m.EmbedText(ctx, "x")
		assert.NoError(t, err)
	})
}

func TestMockChatModel(t *testing.T) {
	m := NewMockChatModel("답변")
	reply, err := m.Complete(context.Background(), "system", nil)
	require.NoError(t, err)
	assert.Equal(t, "답변", reply)
	require.Len(t, m.Calls(), 1)
	assert.Equal(t, "system", m.Calls()[0].System)
}
