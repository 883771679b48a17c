package index

import (
	"math/rand/v2"
	"testing"

	"github.com/poiesic/policyrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dims int, seed uint64) map[core.ID][]float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x5bd1e995))
	out := make(map[core.ID][]float32, n)
	for i := 1; i <= n; i++ {
		v := make([]float32, dims)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[core.ID(i)] = v
	}
	return out
}

func buildGraph(t *testing.T, vectors map[core.ID][]float32, dims int) *hnsw {
	t.Helper()
	g := newHNSW(dims, 8, 64)
	for i := 1; i <= len(vectors); i++ {
		require.NoError(t, g.Insert(core.ID(i), vectors[core.ID(i)]))
	}
	return g
}

func TestHNSW_Insert(t *testing.T) {
	g := newHNSW(3, 4, 16)

	t.Run("rejects wrong dimension", func(t *testing.T) {
		assert.ErrorIs(t, g.Insert(1, []float32{1, 0}), errDimensions)
	})

	t.Run("rejects zero vector", func(t *testing.T) {
		assert.ErrorIs(t, g.Insert(1, []float32{0, 0, 0}), errZeroVector)
	})

	t.Run("replaces existing vector", func(t *testing.T) {
		require.NoError(t, g.Insert(1, []float32{1, 0, 0}))
		require.NoError(t, g.Insert(1, []float32{0, 1, 0}))
		assert.Equal(t, 1, g.Len())

		hits, err := g.Search([]float32{0, 1, 0}, 1, 16, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	})
}

func TestHNSW_SearchRecall(t *testing.T) {
	const dims, n, k = 16, 500, 10
	vectors := randomVectors(n, dims, 7)
	g := buildGraph(t, vectors, dims)

	all := make([]core.ID, 0, n)
	for i := 1; i <= n; i++ {
		all = append(all, core.ID(i))
	}

	queries := randomVectors(20, dims, 99)
	hits, total := 0, 0
	for _, q := range queries {
		approx, err := g.Search(q, k, 64, nil)
		require.NoError(t, err)
		exact, err := g.exact(q, k, all)
		require.NoError(t, err)

		want := NewIDSet()
		for _, nb := range exact {
			want[nb.ID] = struct{}{}
		}
		for _, nb := range approx {
			if want.Has(nb.ID) {
				hits++
			}
		}
		total += len(exact)
	}

	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.85, "recall@%d", k)
}

func TestHNSW_SelfQuery(t *testing.T) {
	vectors := randomVectors(200, 8, 3)
	g := buildGraph(t, vectors, 8)

	for _, id := range []core.ID{1, 50, 200} {
		hits, err := g.Search(vectors[id], 1, 64, nil)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, id, hits[0].ID)
		assert.InDelta(t, 0, hits[0].Distance, 1e-5)
	}
}

func TestHNSW_Deterministic(t *testing.T) {
	vectors := randomVectors(150, 8, 11)
	a := buildGraph(t, vectors, 8)
	b := buildGraph(t, vectors, 8)

	query := randomVectors(1, 8, 42)[1]
	hitsA, err := a.Search(query, 10, 32, nil)
	require.NoError(t, err)
	hitsB, err := b.Search(query, 10, 32, nil)
	require.NoError(t, err)
	assert.Equal(t, hitsA, hitsB)
}

func TestHNSW_Delete(t *testing.T) {
	vectors := randomVectors(120, 8, 5)
	g := buildGraph(t, vectors, 8)

	entry := g.entry
	for i := 1; i <= 60; i++ {
		g.Delete(core.ID(i))
	}
	g.Delete(entry)
	g.Delete(9999)

	assert.False(t, g.Has(entry))
	for _, n := range g.nodes {
		for _, level := range n.friends {
			for _, f := range level {
				assert.True(t, g.Has(f), "dangling link %d -> %d", n.id, f)
			}
		}
	}

	found, survivors := 0, 0
	for id, vec := range vectors {
		if !g.Has(id) {
			continue
		}
		survivors++
		hits, err := g.Search(vec, 1, 64, nil)
		require.NoError(t, err)
		if len(hits) == 1 && hits[0].ID == id {
			found++
		}
	}
	assert.Equal(t, g.Len(), survivors)
	assert.GreaterOrEqual(t, float64(found)/float64(survivors), 0.95)
}

func TestHNSW_FilteredSearch(t *testing.T) {
	vectors := randomVectors(300, 8, 13)
	g := buildGraph(t, vectors, 8)

	even := func(id core.ID) bool { return id%2 == 0 }
	hits, err := g.Search(vectors[1], 10, 64, even)
	require.NoError(t, err)
	assert.Len(t, hits, 10)
	for _, h := range hits {
		assert.True(t, even(h.ID))
	}
}

func TestHNSW_LevelFor(t *testing.T) {
	g := newHNSW(8, 24, 200)
	assert.Equal(t, g.levelFor(12345), g.levelFor(12345))

	zero := 0
	for i := 1; i <= 1000; i++ {
		if g.levelFor(core.ID(i)) == 0 {
			zero++
		}
	}
	// With M=24 roughly 96% of nodes live only on the base layer.
	assert.Greater(t, zero, 900)
}

func TestHNSW_Empty(t *testing.T) {
	g := newHNSW(3, 4, 16)
	hits, err := g.Search([]float32{1, 0, 0}, 5, 16, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	g.Delete(1)
	assert.Zero(t, g.Len())
}
