package index

import (
	"cmp"
	"container/heap"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/poiesic/policyrag/core"
)

var (
	errZeroVector = errors.New("zero-length vector cannot be indexed")
	errDimensions = errors.New("vector has wrong dimension")
)

// Neighbor is one hit from a vector search.
type Neighbor struct {
	ID       core.ID
	Distance float32
}

type hnswNode struct {
	id      core.ID
	vec     []float32
	level   int
	friends [][]core.ID
}

// hnsw is a hierarchical navigable small world graph over unit vectors
// using cosine distance. It is not safe for concurrent use; Manager guards it.
type hnsw struct {
	m              int
	mMax0          int
	efConstruction int
	levelMult      float64
	dims           int

	nodes    map[core.ID]*hnswNode
	entry    core.ID
	maxLevel int
}

func newHNSW(dims, m, efConstruction int) *hnsw {
	return &hnsw{
		m:              m,
		mMax0:          2 * m,
		efConstruction: efConstruction,
		levelMult:      1 / math.Log(float64(m)),
		dims:           dims,
		nodes:          make(map[core.ID]*hnswNode),
	}
}

func (g *hnsw) Len() int {
	return len(g.nodes)
}

func (g *hnsw) Has(id core.ID) bool {
	_, ok := g.nodes[id]
	return ok
}

// levelFor derives the node level from the id so that inserting the
// same documents in the same order always yields the same graph.
func (g *hnsw) levelFor(id core.ID) int {
	h := splitmix64(uint64(id))
	// Uniform in (0, 1].
	u := (float64(h>>11) + 1) / float64(1<<53)
	return int(math.Floor(-math.Log(u) * g.levelMult))
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func (g *hnsw) maxConn(level int) int {
	if level == 0 {
		return g.mMax0
	}
	return g.m
}

func (g *hnsw) prepare(vec []float32) ([]float32, error) {
	if g.dims > 0 && len(vec) != g.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", errDimensions, len(vec), g.dims)
	}
	if core.Norm(vec) == 0 {
		return nil, errZeroVector
	}
	unit := slices.Clone(vec)
	core.NormalizeVector(unit)
	return unit, nil
}

func (g *hnsw) distance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

// Insert adds or replaces the vector for id.
func (g *hnsw) Insert(id core.ID, vec []float32) error {
	unit, err := g.prepare(vec)
	if err != nil {
		return err
	}
	if g.Has(id) {
		g.Delete(id)
	}

	level := g.levelFor(id)
	node := &hnswNode{id: id, vec: unit, level: level, friends: make([][]core.ID, level+1)}

	if len(g.nodes) == 0 {
		g.nodes[id] = node
		g.entry = id
		g.maxLevel = level
		return nil
	}

	ep := []candidate{{id: g.entry, dist: g.distance(unit, g.nodes[g.entry].vec)}}
	for l := g.maxLevel; l > level; l-- {
		ep = g.searchLayer(unit, ep, 1, l, nil)
	}

	g.nodes[id] = node
	for l := min(level, g.maxLevel); l >= 0; l-- {
		found := g.searchLayer(unit, ep, g.efConstruction, l, nil)
		neighbors := g.selectNeighbors(unit, found, g.m)
		node.friends[l] = ids(neighbors)

		for _, nb := range neighbors {
			other := g.nodes[nb.id]
			other.friends[l] = append(other.friends[l], id)
			if len(other.friends[l]) > g.maxConn(l) {
				g.shrink(other, l)
			}
		}
		ep = found
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entry = id
	}
	return nil
}

// Delete removes id and repairs the links of nodes that pointed at it.
func (g *hnsw) Delete(id core.ID) {
	node, ok := g.nodes[id]
	if !ok {
		return
	}
	delete(g.nodes, id)

	for _, other := range g.sortedNodes() {
		for l := 0; l <= min(other.level, node.level); l++ {
			idx := slices.Index(other.friends[l], id)
			if idx < 0 {
				continue
			}
			pool := slices.Delete(other.friends[l], idx, idx+1)
			for _, f := range node.friends[l] {
				if f != other.id && f != id && !slices.Contains(pool, f) {
					pool = append(pool, f)
				}
			}
			other.friends[l] = pool
			g.shrink(other, l)
		}
	}

	if g.entry == id {
		g.resetEntry()
	}
}

func (g *hnsw) resetEntry() {
	g.entry, g.maxLevel = 0, 0
	first := true
	for _, n := range g.sortedNodes() {
		if first || n.level > g.maxLevel {
			g.entry, g.maxLevel = n.id, n.level
			first = false
		}
	}
}

func (g *hnsw) sortedNodes() []*hnswNode {
	out := make([]*hnswNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *hnswNode) int { return cmp.Compare(a.id, b.id) })
	return out
}

// shrink reduces the links of n at level to the best maxConn neighbors.
func (g *hnsw) shrink(n *hnswNode, level int) {
	pool := make([]candidate, 0, len(n.friends[level]))
	for _, f := range n.friends[level] {
		other, ok := g.nodes[f]
		if !ok {
			continue
		}
		pool = append(pool, candidate{id: f, dist: g.distance(n.vec, other.vec)})
	}
	sortCandidates(pool)
	n.friends[level] = ids(g.selectNeighbors(n.vec, pool, g.maxConn(level)))
}

// selectNeighbors applies the diversity heuristic to candidates sorted by
// distance, then tops the result up with the closest discarded candidates.
func (g *hnsw) selectNeighbors(q []float32, candidates []candidate, m int) []candidate {
	if len(candidates) <= m {
		return slices.Clone(candidates)
	}
	selected := make([]candidate, 0, m)
	var discarded []candidate
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		vec := g.nodes[c.id].vec
		keep := true
		for _, s := range selected {
			if g.distance(vec, g.nodes[s.id].vec) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			discarded = append(discarded, c)
		}
	}
	for _, c := range discarded {
		if len(selected) >= m {
			break
		}
		selected = append(selected, c)
	}
	sortCandidates(selected)
	return selected
}

// searchLayer runs a best-first search on one layer. Nodes rejected by
// accept are traversed for routing but never returned.
func (g *hnsw) searchLayer(q []float32, entries []candidate, ef, level int, accept func(core.ID) bool) []candidate {
	visited := make(map[core.ID]struct{}, ef*4)
	frontier := &minHeap{}
	results := &maxHeap{}

	for _, e := range entries {
		if _, seen := visited[e.id]; seen {
			continue
		}
		visited[e.id] = struct{}{}
		heap.Push(frontier, e)
		if accept == nil || accept(e.id) {
			heap.Push(results, e)
			if results.Len() > ef {
				heap.Pop(results)
			}
		}
	}

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		node := g.nodes[c.id]
		if node == nil || level > node.level {
			continue
		}
		for _, f := range node.friends[level] {
			if _, seen := visited[f]; seen {
				continue
			}
			visited[f] = struct{}{}
			other, ok := g.nodes[f]
			if !ok {
				continue
			}
			d := g.distance(q, other.vec)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(frontier, candidate{id: f, dist: d})
				if accept == nil || accept(f) {
					heap.Push(results, candidate{id: f, dist: d})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := []candidate(*results)
	sortCandidates(out)
	return out
}

// Search returns up to k nearest accepted neighbors of query.
func (g *hnsw) Search(query []float32, k, ef int, accept func(core.ID) bool) ([]Neighbor, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}
	unit, err := g.prepare(query)
	if err != nil {
		return nil, err
	}

	ep := []candidate{{id: g.entry, dist: g.distance(unit, g.nodes[g.entry].vec)}}
	for l := g.maxLevel; l > 0; l-- {
		ep = g.searchLayer(unit, ep, 1, l, nil)
	}
	found := g.searchLayer(unit, ep, max(ef, k), 0, accept)

	if len(found) > k {
		found = found[:k]
	}
	out := make([]Neighbor, len(found))
	for i, c := range found {
		out[i] = Neighbor{ID: c.id, Distance: c.dist}
	}
	return out, nil
}

// exact scores the given ids by brute force.
func (g *hnsw) exact(query []float32, k int, ids []core.ID) ([]Neighbor, error) {
	unit, err := g.prepare(query)
	if err != nil {
		return nil, err
	}
	pool := make([]candidate, 0, len(ids))
	for _, id := range ids {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		pool = append(pool, candidate{id: id, dist: g.distance(unit, n.vec)})
	}
	sortCandidates(pool)
	if len(pool) > k {
		pool = pool[:k]
	}
	out := make([]Neighbor, len(pool))
	for i, c := range pool {
		out[i] = Neighbor{ID: c.id, Distance: c.dist}
	}
	return out, nil
}

func (g *hnsw) Reset() {
	g.nodes = make(map[core.ID]*hnswNode)
	g.entry = 0
	g.maxLevel = 0
}

type candidate struct {
	id   core.ID
	dist float32
}

func compareCandidates(a, b candidate) int {
	if c := cmp.Compare(a.dist, b.dist); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

func sortCandidates(cs []candidate) {
	slices.SortFunc(cs, compareCandidates)
}

func ids(cs []candidate) []core.ID {
	out := make([]core.ID, len(cs))
	for i, c := range cs {
		out[i] = c.id
	}
	return out
}

type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return compareCandidates(h[i], h[j]) < 0 }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return compareCandidates(h[i], h[j]) > 0 }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
