package storage

import (
	"sync"
	"testing"

	"github.com/poiesic/policyrag/core"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()

	var wg sync.WaitGroup
	counts := map[string]*int{"a.txt": new(int), "b.txt": new(int)}
	for i := range 100 {
		key := []string{"a.txt", "b.txt"}[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(key)
			*counts[key]++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, *counts["a.txt"])
	assert.Equal(t, 50, *counts["b.txt"])
	assert.Empty(t, k.locks, "released keys are dropped")
}

type countingObserver struct {
	upserts, deletes int
}

func (o *countingObserver) OnUpsert(doc *core.PolicyDocument) {
	doc.PolicyName = "mutated"
	o.upserts++
}

func (o *countingObserver) OnDelete(core.ID) { o.deletes++ }

func TestObservers(t *testing.T) {
	var obs Observers
	a, b := &countingObserver{}, &countingObserver{}
	obs.Subscribe(a)
	obs.Subscribe(b)

	doc := &core.PolicyDocument{ID: 1, PolicyName: "원본"}
	obs.NotifyUpsert(doc)
	obs.NotifyDelete(1)

	assert.Equal(t, "원본", doc.PolicyName, "observers get copies")
	assert.Equal(t, 1, a.upserts)
	assert.Equal(t, 1, b.upserts)
	assert.Equal(t, 1, b.deletes)
}
