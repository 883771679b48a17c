package search

import (
	"cmp"
	"slices"

	"github.com/poiesic/policyrag/core"
)

// Keyword field ranks, best first.
const (
	RankName     = 1
	RankSummary  = 2
	RankTag      = 3
	RankFullText = 4
)

// Candidate is an unranked search hit.
type Candidate struct {
	Document *core.PolicyDocument
	Score    float32
	// FieldRank is the keyword field that matched. Zero for vector hits.
	FieldRank int
}

// Rank orders candidates by score descending, then field rank ascending,
// then document id ascending, and tags every result with matchType.
func Rank(candidates []Candidate, matchType core.MatchType) []*core.SearchResult {
	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.FieldRank, b.FieldRank); c != 0 {
			return c
		}
		return cmp.Compare(a.Document.ID, b.Document.ID)
	})

	results := make([]*core.SearchResult, len(sorted))
	for i, c := range sorted {
		results[i] = &core.SearchResult{
			Document:  c.Document,
			MatchType: matchType,
			Score:     c.Score,
		}
	}
	return results
}

// keywordRank returns the best field rank at which doc matches, or 0.
// folded is the case-folded query; raw is the trimmed query used for
// exact tag membership.
func keywordRank(doc *core.PolicyDocument, folded, raw string) int {
	switch {
	case core.ContainsFold(doc.PolicyName, folded):
		return RankName
	case core.ContainsFold(doc.Summary, folded):
		return RankSummary
	case doc.HasTag(raw):
		return RankTag
	case core.ContainsFold(doc.FullText, folded):
		return RankFullText
	}
	return 0
}
