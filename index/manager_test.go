package index

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/retry"
	"github.com/poiesic/policyrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})}, opts...)
	m, err := NewManager(3, opts...)
	require.NoError(t, err)
	return m
}

func policy(id core.ID, name string) *core.PolicyDocument {
	return &core.PolicyDocument{
		ID:             id,
		PolicyName:     name,
		SourceFilename: fmt.Sprintf("%d.txt", id),
		FullText:       name,
	}
}

func TestManager_ScalarIndexes(t *testing.T) {
	m := newTestManager(t)

	a := policy(1, "Youth Housing Support")
	a.Category, a.Region = "주거", "서울"
	b := policy(2, "youth savings account")
	b.Category, b.Region = "금융", "서울"
	c := policy(3, "청년 월세 지원")
	c.Category, c.Region = "주거", "부산"
	for _, d := range []*core.PolicyDocument{a, b, c} {
		m.OnUpsert(d)
	}

	t.Run("exact lookup folds case", func(t *testing.T) {
		got, err := m.Lookup(FieldPolicyName, "YOUTH HOUSING SUPPORT")
		require.NoError(t, err)
		assert.Equal(t, NewIDSet(1), got)
	})

	t.Run("prefix lookup", func(t *testing.T) {
		got, err := m.LookupPrefix(FieldPolicyName, "Youth")
		require.NoError(t, err)
		assert.Equal(t, NewIDSet(1, 2), got)

		got, err = m.LookupPrefix(FieldPolicyName, "청년")
		require.NoError(t, err)
		assert.Equal(t, NewIDSet(3), got)
	})

	t.Run("category and region", func(t *testing.T) {
		got, err := m.Lookup(FieldCategory, "주거")
		require.NoError(t, err)
		assert.Equal(t, NewIDSet(1, 3), got)

		got, err = m.Lookup(FieldRegion, "대구")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("values with counts", func(t *testing.T) {
		regions, err := m.Values(FieldRegion)
		require.NoError(t, err)
		assert.Equal(t, []ValueCount{{Value: "서울", Count: 2}, {Value: "부산", Count: 1}}, regions)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := m.Lookup(Field("deadline"), "x")
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
	})

	t.Run("replacement moves keys", func(t *testing.T) {
		moved := policy(3, "청년 월세 지원")
		moved.Category, moved.Region = "주거", "대구"
		m.OnUpsert(moved)

		got, err := m.Lookup(FieldRegion, "부산")
		require.NoError(t, err)
		assert.Empty(t, got)
		got, err = m.Lookup(FieldRegion, "대구")
		require.NoError(t, err)
		assert.Equal(t, NewIDSet(3), got)
	})
}

func TestManager_TagsAndContainment(t *testing.T) {
	m := newTestManager(t)

	a := policy(1, "A")
	a.Tags = []string{"청년", "주거"}
	a.Eligibility = map[string]core.Value{
		"age_min":   core.Number(19),
		"age_max":   core.Number(34),
		"residence": core.Array(core.String("서울"), core.String("경기")),
	}
	b := policy(2, "B")
	b.Tags = []string{"Youth"}
	b.Eligibility = map[string]core.Value{"residence": core.String("부산")}
	c := policy(3, "C")
	for _, d := range []*core.PolicyDocument{a, b, c} {
		m.OnUpsert(d)
	}

	t.Run("tags are case-sensitive", func(t *testing.T) {
		assert.Equal(t, NewIDSet(1), m.WithTag("청년"))
		assert.Equal(t, NewIDSet(2), m.WithTag("Youth"))
		assert.Empty(t, m.WithTag("youth"))
	})

	t.Run("containment matches scalars and array elements", func(t *testing.T) {
		assert.Equal(t, NewIDSet(2), m.Contains(FieldEligibility, "residence", core.String("부산")))
		assert.Equal(t, NewIDSet(1), m.Contains(FieldEligibility, "residence", core.String("경기")))
		assert.Equal(t, NewIDSet(1), m.Contains(FieldEligibility, "age_min", core.Number(19)))
		assert.Empty(t, m.Contains(FieldAdditionalInfo, "residence", core.String("부산")))
	})

	t.Run("eligible age", func(t *testing.T) {
		assert.Equal(t, NewIDSet(1, 2, 3), m.EligibleAt(25))
		assert.Equal(t, NewIDSet(2, 3), m.EligibleAt(40))
	})
}

func TestManager_Delete(t *testing.T) {
	m := newTestManager(t)
	doc := policy(1, "A")
	doc.Tags = []string{"x"}
	doc.Embedding = []float32{1, 0, 0}
	m.OnUpsert(doc)
	require.Equal(t, 1, m.VectorLen())

	m.OnDelete(1)
	assert.Zero(t, m.Len())
	assert.Zero(t, m.VectorLen())
	assert.Empty(t, m.WithTag("x"))

	t.Run("retired upsert removes", func(t *testing.T) {
		m.OnUpsert(doc)
		retired := doc.Clone()
		retired.Retired = true
		m.OnUpsert(retired)
		assert.Zero(t, m.Len())
		assert.Zero(t, m.VectorLen())
	})
}

func TestManager_SearchVector(t *testing.T) {
	m := newTestManager(t)
	vectors := map[core.ID][]float32{
		1: {1, 0, 0},
		2: {0.8, 0.6, 0},
		3: {0, 1, 0},
		4: {0, 0, 1},
	}
	for id := core.ID(1); id <= 4; id++ {
		doc := policy(id, fmt.Sprint(id))
		doc.Embedding = vectors[id]
		m.OnUpsert(doc)
	}
	m.OnUpsert(policy(5, "no vector"))

	t.Run("ranked by distance", func(t *testing.T) {
		hits, err := m.SearchVector([]float32{1, 0, 0}, 3, nil)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, core.ID(1), hits[0].ID)
		assert.InDelta(t, 0, hits[0].Distance, 1e-6)
		assert.Equal(t, core.ID(2), hits[1].ID)
		assert.InDelta(t, 0.2, hits[1].Distance, 1e-6)
	})

	t.Run("filtered exactly", func(t *testing.T) {
		hits, err := m.SearchVector([]float32{1, 0, 0}, 5, NewIDSet(3, 4, 5))
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, core.ID(3), hits[0].ID)
		assert.Equal(t, core.ID(4), hits[1].ID)
	})

	t.Run("filtered through the graph", func(t *testing.T) {
		graph := newTestManager(t, WithExactThreshold(0))
		for id := core.ID(1); id <= 4; id++ {
			doc := policy(id, fmt.Sprint(id))
			doc.Embedding = vectors[id]
			graph.OnUpsert(doc)
		}
		hits, err := graph.SearchVector([]float32{1, 0, 0}, 2, NewIDSet(2, 4))
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, core.ID(2), hits[0].ID)
		assert.Equal(t, core.ID(4), hits[1].ID)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		_, err := m.SearchVector([]float32{1, 0, 0}, 0, nil)
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = m.SearchVector([]float32{1, 0}, 1, nil)
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = m.SearchVector([]float32{0, 0, 0}, 1, nil)
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
	})
}

func TestManager_Pending(t *testing.T) {
	m := newTestManager(t)

	doc := policy(1, "broken vector")
	doc.Tags = []string{"청년"}
	doc.Embedding = []float32{0, 0, 0}
	m.OnUpsert(doc)

	assert.Equal(t, []core.ID{1}, m.Pending())
	assert.Equal(t, NewIDSet(1), m.WithTag("청년"), "still in the tag index")
	assert.Zero(t, m.VectorLen())

	fixed := doc.Clone()
	fixed.Embedding = []float32{0, 1, 0}
	m.OnUpsert(fixed)
	assert.Empty(t, m.Pending())
	assert.Equal(t, 1, m.VectorLen())
}

func TestManager_InsertRetriesDoNotSleep(t *testing.T) {
	m := newTestManager(t, WithRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Hour}))

	doc := policy(1, "broken vector")
	doc.Embedding = []float32{0, 0, 0}

	done := make(chan struct{})
	go func() {
		m.OnUpsert(doc)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("upsert blocked on retry backoff")
	}

	assert.Equal(t, []core.ID{1}, m.Pending())
	hits, err := m.SearchVector([]float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestManager_RebuildAll(t *testing.T) {
	ctx := context.Background()
	repo, backend, err := badger.NewMemoryRepository(3)
	require.NoError(t, err)
	defer backend.Close()
	defer repo.Close()

	live := newTestManager(t)
	repo.Subscribe(live)

	var ids []core.ID
	for i, vec := range [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}, {0, 0.2, 1}} {
		doc := &core.PolicyDocument{
			PolicyName:     fmt.Sprintf("정책 %d", i),
			SourceFilename: fmt.Sprintf("%d.txt", i),
			FullText:       "본문",
			Region:         "서울",
			Embedding:      vec,
		}
		docID, err := repo.Upsert(ctx, doc)
		require.NoError(t, err)
		ids = append(ids, docID)
	}
	id, err := repo.Upsert(ctx, &core.PolicyDocument{PolicyName: "retired", SourceFilename: "r.txt", FullText: "x", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	require.NoError(t, repo.Retire(ctx, id))

	query := []float32{1, 0.05, 0}
	before, err := live.SearchVector(query, 3, nil)
	require.NoError(t, err)

	rebuilt := newTestManager(t)
	require.NoError(t, rebuilt.RebuildAll(ctx, repo))
	after, err := rebuilt.SearchVector(query, 3, nil)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, live.Len(), rebuilt.Len())
	assert.Equal(t, 4, rebuilt.Len())
	retired, err := rebuilt.Lookup(FieldPolicyName, "retired")
	require.NoError(t, err)
	assert.Empty(t, retired)

	t.Run("rebuild is repeatable", func(t *testing.T) {
		require.NoError(t, rebuilt.RebuildAll(ctx, repo))
		again, err := rebuilt.SearchVector(query, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, after, again)
	})

	t.Run("rebuild repairs a damaged index", func(t *testing.T) {
		live.OnDelete(ids[0])
		live.ann.Delete(ids[1])
		damaged, err := live.SearchVector(query, 3, nil)
		require.NoError(t, err)
		require.NotEqual(t, before, damaged)
		assert.Equal(t, 3, live.Len())

		require.NoError(t, live.RebuildAll(ctx, repo))
		repaired, err := live.SearchVector(query, 3, nil)
		require.NoError(t, err)
		assert.Equal(t, before, repaired)
		assert.Equal(t, 4, live.Len())
		assert.Equal(t, 4, live.VectorLen())
		assert.Empty(t, live.Pending())
	})
}

func TestNewManager_Options(t *testing.T) {
	_, err := NewManager(3, WithHNSW(1, 10, 10))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = NewManager(3, WithExactThreshold(-1))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	m, err := NewManager(3, WithHNSW(8, 50, 20), WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, 20, m.efSearch)
}

func TestIntersect(t *testing.T) {
	assert.Nil(t, Intersect(nil, nil))
	assert.Equal(t, NewIDSet(1), Intersect(nil, NewIDSet(1)))
	assert.Equal(t, NewIDSet(2), Intersect(NewIDSet(1, 2), NewIDSet(2, 3)))
	assert.Empty(t, Intersect(NewIDSet(1), IDSet{}))
}
