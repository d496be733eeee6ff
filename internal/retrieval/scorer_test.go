package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/model"
)

func at(h int) *time.Time {
	t := time.Date(2025, 1, 1, h, 0, 0, 0, time.UTC)
	return &t
}

func embed(t *testing.T, text string) *model.Embedding {
	t.Helper()
	r, err := embedding.NewHashEmbedder(0).Embed(context.Background(), text)
	require.NoError(t, err)
	return r.Stored()
}

func TestLexicalScore(t *testing.T) {
	m := &model.Memory{
		Text:   "Quarterly budget review",
		Tags:   []string{"finance"},
		Facets: map[string]any{"project": "apollo launch"},
	}
	tests := []struct {
		query string
		want  float64
	}{
		{"budget review", 1},
		{"BUDGET, review!", 1},
		{"review budget", 1},
		{"budget lunch", 0.5},
		{"finance apollo", 1},
		{"apollo launch", 1},
		{"lunch", 0},
		{"", 0},
		{"budg", 1},
		{"review budget lunch", 2.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.InDelta(t, tt.want, LexicalScore(tt.query, m), 1e-9)
		})
	}
}

func TestLexicalScoreMatchesSubstrings(t *testing.T) {
	plural := &model.Memory{Text: "quarterly budgets review"}
	assert.InDelta(t, 1, LexicalScore("budget", plural), 1e-9)
	assert.InDelta(t, 1, LexicalScore("budget review", plural), 1e-9, "each word matches inside a longer word")

	cjk := &model.Memory{Text: "季度预算审查会议"}
	assert.InDelta(t, 1, LexicalScore("预算", cjk), 1e-9)
	assert.InDelta(t, 0.5, LexicalScore("预算 午餐", cjk), 1e-9)
	assert.Zero(t, LexicalScore("午餐", cjk))

	split := &model.Memory{Text: "budget", Tags: []string{"review"}}
	assert.InDelta(t, 1, LexicalScore("budget review", split), 1e-9)
}

func TestRankAlphaZeroFindsSubstrings(t *testing.T) {
	cands := []model.Memory{
		{ID: 1, Text: "季度预算审查会议"},
		{ID: 2, Text: "quarterly budgets review"},
		{ID: 3, Text: "unrelated lunch note"},
	}
	got := Rank(Query{Text: "预算", Alpha: 0}, cands)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Memory.ID)

	got = Rank(Query{Text: "budget", Alpha: 0}, cands)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Memory.ID)
}

func TestSemanticScoreDimensionMismatch(t *testing.T) {
	m := &model.Memory{Embedding: &model.Embedding{Vector: []float32{1, 0, 0}, Dim: 3}}
	s, ok := SemanticScore([]float32{1, 0}, m)
	assert.False(t, ok)
	assert.Zero(t, s)

	s, ok = SemanticScore([]float32{-1, 0, 0}, m)
	assert.True(t, ok)
	assert.Zero(t, s, "negative cosine floors at 0")

	_, ok = SemanticScore([]float32{1}, &model.Memory{})
	assert.False(t, ok)
}

func TestRankBudgetAboveLunch(t *testing.T) {
	a := model.Memory{ID: 1, Text: "quarterly budget review", Tags: []string{"budget"}, Time: at(1)}
	b := model.Memory{ID: 2, Text: "unrelated lunch note", Tags: []string{"misc"}, Time: at(2)}
	a.Embedding = embed(t, a.Text)
	b.Embedding = embed(t, b.Text)

	q := embed(t, "budget")
	got := Rank(Query{Text: "budget", Vector: q.Vector, Alpha: 0.7}, []model.Memory{b, a})
	require.NotEmpty(t, got)
	assert.Equal(t, int64(1), got[0].Memory.ID)
	for _, s := range got {
		assert.NotEqual(t, int64(2), s.Memory.ID, "zero-score candidate must be dropped")
	}
}

func TestRankAlphaZeroIgnoresEmbeddings(t *testing.T) {
	// b's embedding matches the query vector exactly but shares no words.
	q := []float32{1, 0}
	a := model.Memory{ID: 1, Text: "budget", Embedding: &model.Embedding{Vector: []float32{0, 1}}}
	b := model.Memory{ID: 2, Text: "lunch", Embedding: &model.Embedding{Vector: []float32{1, 0}}}

	got := Rank(Query{Text: "budget", Vector: q, Alpha: 0}, []model.Memory{a, b})
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Memory.ID)
	assert.Zero(t, got[0].Semantic)

	got = Rank(Query{Text: "budget", Vector: q, Alpha: 1}, []model.Memory{a, b})
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Memory.ID)
}

func TestRankTieBreak(t *testing.T) {
	vec := []float32{1, 1}
	e := func() *model.Embedding { return &model.Embedding{Vector: []float32{2, 2}} }
	cands := []model.Memory{
		{ID: 5, Time: at(1), Embedding: e()},
		{ID: 3, Embedding: e()},
		{ID: 4, Time: at(3), Embedding: e()},
		{ID: 2, Time: at(3), Embedding: e()},
		{ID: 1, Embedding: e()},
	}
	got := Rank(Query{Vector: vec, Alpha: 1}, cands)
	var ids []int64
	for _, s := range got {
		ids = append(ids, s.Memory.ID)
	}
	assert.Equal(t, []int64{2, 4, 5, 1, 3}, ids)
}

func TestRankSkipsMismatchedDims(t *testing.T) {
	cands := []model.Memory{
		{ID: 1, Text: "budget", Embedding: &model.Embedding{Vector: []float32{1, 0, 0}}},
		{ID: 2, Text: "budget", Embedding: &model.Embedding{Vector: []float32{1, 0}}},
	}
	got := Rank(Query{Text: "budget", Vector: []float32{1, 0}, Alpha: 0.5}, cands)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Memory.ID)
	assert.InDelta(t, 1.0, got[0].Combined, 1e-9)
	assert.InDelta(t, 0.5, got[1].Combined, 1e-9)
}

func TestRankDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(rt, "n")
		words := []string{"budget", "review", "lunch", "note", "plan"}
		cands := make([]model.Memory, n)
		for i := range cands {
			text := rapid.SampledFrom(words).Draw(rt, "w1") + " " + rapid.SampledFrom(words).Draw(rt, "w2")
			cands[i] = model.Memory{
				ID:        int64(i + 1),
				Text:      text,
				Time:      at(rapid.IntRange(0, 3).Draw(rt, "hour")),
				Embedding: &model.Embedding{Vector: []float32{float32(rapid.IntRange(0, 3).Draw(rt, "x")), 1}},
			}
		}
		q := Query{Text: "budget review", Vector: []float32{1, 1}, Alpha: rapid.Float64Range(0, 1).Draw(rt, "alpha")}

		first := Rank(q, cands)
		reversed := make([]model.Memory, n)
		for i := range cands {
			reversed[n-1-i] = cands[i]
		}
		second := Rank(q, reversed)

		if len(first) != len(second) {
			rt.Fatalf("length differs: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i].Memory.ID != second[i].Memory.ID {
				rt.Fatalf("order depends on input order at %d", i)
			}
			if first[i].Combined < 0 || first[i].Combined > 1+1e-9 {
				rt.Fatalf("combined score out of range: %v", first[i].Combined)
			}
			if i > 0 && first[i].Combined > first[i-1].Combined {
				rt.Fatalf("not sorted by combined score")
			}
		}
	})
}
