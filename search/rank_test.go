package search

import (
	"testing"

	"github.com/poiesic/policyrag/core"
	"github.com/stretchr/testify/assert"
)

func doc(id core.ID) *core.PolicyDocument {
	return &core.PolicyDocument{ID: id}
}

func TestRank(t *testing.T) {
	t.Run("score descending then id", func(t *testing.T) {
		results := Rank([]Candidate{
			{Document: doc(3), Score: 0.8},
			{Document: doc(1), Score: 0.8},
			{Document: doc(2), Score: 0.95},
		}, core.MatchTypeVector)

		assert.Equal(t, []core.ID{2, 1, 3}, ids(results))
		for _, r := range results {
			assert.Equal(t, core.MatchTypeVector, r.MatchType)
		}
	})

	t.Run("field rank breaks equal scores", func(t *testing.T) {
		results := Rank([]Candidate{
			{Document: doc(1), Score: 1, FieldRank: RankFullText},
			{Document: doc(2), Score: 1, FieldRank: RankTag},
			{Document: doc(3), Score: 1, FieldRank: RankName},
			{Document: doc(4), Score: 1, FieldRank: RankSummary},
			{Document: doc(5), Score: 1, FieldRank: RankName},
		}, core.MatchTypeText)

		assert.Equal(t, []core.ID{3, 5, 4, 2, 1}, ids(results))
	})

	t.Run("deterministic and pure", func(t *testing.T) {
		input := []Candidate{
			{Document: doc(2), Score: 0.5},
			{Document: doc(1), Score: 0.5},
		}
		first := Rank(input, core.MatchTypeVector)
		second := Rank(input, core.MatchTypeVector)
		assert.Equal(t, ids(first), ids(second))
		assert.Equal(t, core.ID(2), input[0].Document.ID, "input untouched")
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Rank(nil, core.MatchTypeText))
	})
}

func TestKeywordRank(t *testing.T) {
	d := &core.PolicyDocument{
		PolicyName: "청년 Rent Support",
		Summary:    "monthly rent help",
		Tags:       []string{"주거"},
		FullText:   "deposit loan details",
	}

	tests := []struct {
		query string
		want  int
	}{
		{query: "rent support", want: RankName},
		{query: "MONTHLY", want: RankSummary},
		{query: "주거", want: RankTag},
		{query: "Deposit", want: RankFullText},
		{query: "unrelated", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, keywordRank(d, core.Fold(tt.query), tt.query))
		})
	}
}
