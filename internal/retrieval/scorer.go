// Package retrieval ranks records against a query by a blend of lexical
// and embedding similarity.
package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/memops/internal/chunker"
	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/model"
)

// DefaultAlpha weights the semantic term when a request gives no alpha.
const DefaultAlpha = 0.7

// Query is one scoring request. Vector may be nil, in which case only the
// lexical term contributes.
type Query struct {
	Text   string
	Vector []float32
	Alpha  float64
}

// Scored is a candidate with its component scores.
type Scored struct {
	Memory   model.Memory `json:"memory"`
	Lexical  float64      `json:"lexical_score"`
	Semantic float64      `json:"semantic_score"`
	Combined float64      `json:"combined_score"`
}

// Rank scores every candidate, drops those with no positive score and sorts
// the rest by combined score descending, then time descending (records
// without time last), then id ascending.
func Rank(q Query, candidates []model.Memory) []Scored {
	alpha := q.Alpha
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	terms := queryTerms(q.Text)

	out := make([]Scored, 0, len(candidates))
	for _, m := range candidates {
		s := Scored{Memory: m}
		if alpha < 1 {
			s.Lexical = lexicalScore(terms, &m)
		}
		if alpha > 0 && len(q.Vector) > 0 {
			s.Semantic, _ = SemanticScore(q.Vector, &m)
		}
		s.Combined = alpha*s.Semantic + (1-alpha)*s.Lexical
		if s.Combined <= 0 {
			continue
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return less(&out[i], &out[j])
	})
	return out
}

func less(a, b *Scored) bool {
	if a.Combined != b.Combined {
		return a.Combined > b.Combined
	}
	at, bt := a.Memory.Time, b.Memory.Time
	switch {
	case at != nil && bt != nil && !at.Equal(*bt):
		return at.After(*bt)
	case at != nil && bt == nil:
		return true
	case at == nil && bt != nil:
		return false
	}
	return a.Memory.ID < b.Memory.ID
}

// SemanticScore is the cosine similarity between the query vector and the
// record's embedding, floored at 0. The bool is false when the record has
// no embedding or its dimensionality differs from the query's.
func SemanticScore(query []float32, m *model.Memory) (float64, bool) {
	if m.Embedding == nil || len(m.Embedding.Vector) != len(query) || len(query) == 0 {
		return 0, false
	}
	cos := embedding.CosineSimilarity(query, m.Embedding.Vector)
	if cos < 0 {
		cos = 0
	}
	return cos, true
}

// LexicalScore is 1 when the normalized query occurs as a substring of one
// of the record's searchable fields, otherwise the fraction of distinct query
// words found as substrings. Substrings let "budget" match "budgets" and a
// CJK phrase match inside unspaced text.
func LexicalScore(query string, m *model.Memory) float64 {
	return lexicalScore(queryTerms(query), m)
}

type terms struct {
	phrase string
	words  []string
}

func queryTerms(query string) terms {
	words := chunker.Words(query)
	return terms{phrase: strings.Join(words, " "), words: distinct(words)}
}

// haystack lowercases each field and collapses punctuation to single spaces.
// Fields are joined by newlines so a phrase never spans two of them.
func haystack(m *model.Memory) string {
	parts := searchableParts(m)
	norm := make([]string, 0, len(parts))
	for _, part := range parts {
		if w := chunker.Words(part); len(w) > 0 {
			norm = append(norm, strings.Join(w, " "))
		}
	}
	return strings.Join(norm, "\n")
}

func lexicalScore(q terms, m *model.Memory) float64 {
	if len(q.words) == 0 {
		return 0
	}
	text := haystack(m)
	if strings.Contains(text, q.phrase) {
		return 1
	}
	hits := 0
	for _, w := range q.words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(q.words))
}

// searchableParts lists the text, tags, scalar facets and facet values.
func searchableParts(m *model.Memory) []string {
	parts := []string{m.Text, m.Type, m.Subject, m.Location, m.Topic}
	parts = append(parts, m.Tags...)
	keys := make([]string, 0, len(m.Facets))
	for k := range m.Facets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := m.Facets[k]; v != nil {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return parts
}

func distinct(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := words[:0:0]
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
