package index

import (
	"cmp"
	"slices"
	"strings"

	"github.com/poiesic/policyrag/core"
)

// IDSet is an unordered set of document ids.
type IDSet map[core.ID]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...core.ID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s IDSet) Has(id core.ID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []core.ID {
	out := make([]core.ID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Intersect returns the ids present in both sets. A nil set means
// "no restriction", so intersecting with nil returns the other set.
func Intersect(a, b IDSet) IDSet {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(IDSet, len(a))
	for id := range a {
		if b.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

func (s IDSet) clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// postings maps a key to the ids carrying it.
type postings map[string]IDSet

func (p postings) add(key string, id core.ID) bool {
	set, ok := p[key]
	if !ok {
		set = IDSet{}
		p[key] = set
	}
	set[id] = struct{}{}
	return !ok
}

func (p postings) remove(key string, id core.ID) bool {
	set, ok := p[key]
	if !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(p, key)
		return true
	}
	return false
}

// scalarIndex supports exact and prefix lookups over case-folded values.
type scalarIndex struct {
	byKey postings
	keys  []string // sorted folded keys
	raw   map[string]int
}

func newScalarIndex() *scalarIndex {
	return &scalarIndex{byKey: postings{}, raw: map[string]int{}}
}

func (s *scalarIndex) add(value string, id core.ID) {
	if value == "" {
		return
	}
	key := core.Fold(value)
	if s.byKey.add(key, id) {
		i, _ := slices.BinarySearch(s.keys, key)
		s.keys = slices.Insert(s.keys, i, key)
	}
	s.raw[value]++
}

func (s *scalarIndex) remove(value string, id core.ID) {
	if value == "" {
		return
	}
	key := core.Fold(value)
	if s.byKey.remove(key, id) {
		if i, found := slices.BinarySearch(s.keys, key); found {
			s.keys = slices.Delete(s.keys, i, i+1)
		}
	}
	if s.raw[value]--; s.raw[value] <= 0 {
		delete(s.raw, value)
	}
}

func (s *scalarIndex) lookup(value string) IDSet {
	set := s.byKey[core.Fold(value)]
	if set == nil {
		return IDSet{}
	}
	return set.clone()
}

func (s *scalarIndex) lookupPrefix(prefix string) IDSet {
	prefix = core.Fold(prefix)
	out := IDSet{}
	i, _ := slices.BinarySearch(s.keys, prefix)
	for ; i < len(s.keys) && strings.HasPrefix(s.keys[i], prefix); i++ {
		for id := range s.byKey[s.keys[i]] {
			out[id] = struct{}{}
		}
	}
	return out
}

// ValueCount is a distinct field value with the number of documents carrying it.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

func (s *scalarIndex) values() []ValueCount {
	out := make([]ValueCount, 0, len(s.raw))
	for v, n := range s.raw {
		out = append(out, ValueCount{Value: v, Count: n})
	}
	slices.SortFunc(out, func(a, b ValueCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return out
}
