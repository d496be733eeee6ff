package store

import (
	"context"
	"strings"
)

// DefaultContextBudget is the token budget used when none is given.
const DefaultContextBudget = 4000

// ContextParams holds parameters for context assembly.
type ContextParams struct {
	IDs    []int64 // in priority order
	Budget int     // max tokens (rough proxy: 1 token ≈ 4 chars)
}

// ContextMemory is one record packed into a context.
type ContextMemory struct {
	ID      int64   `json:"id"`
	Type    string  `json:"type,omitempty"`
	Text    string  `json:"text"`
	Weight  float64 `json:"weight"`
	Excerpt bool    `json:"excerpt,omitempty"`
}

// ContextResult is the assembled context.
type ContextResult struct {
	Budget   int             `json:"budget"`
	Used     int             `json:"used"`
	Memories []ContextMemory `json:"memories"`
}

// Text joins the packed memories into one prompt section.
func (c *ContextResult) Text() string {
	var b strings.Builder
	for i, m := range c.Memories {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(m.Text)
	}
	return b.String()
}

// IDs lists the packed record ids.
func (c *ContextResult) IDs() []int64 {
	ids := make([]int64, len(c.Memories))
	for i, m := range c.Memories {
		ids[i] = m.ID
	}
	return ids
}

// Context loads the listed live records and greedily packs their text into
// the budget, in the order given. The first record that does not fit is
// excerpted when enough room remains, and packing stops there.
func (r rows) Context(ctx context.Context, p ContextParams) (*ContextResult, error) {
	budget := p.Budget
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	charBudget := budget * 4

	memories, err := r.GetMany(ctx, p.IDs)
	if err != nil {
		return nil, err
	}

	result := &ContextResult{Budget: budget, Memories: []ContextMemory{}}
	used := 0

	for _, m := range memories {
		if m.Deleted {
			continue
		}
		contentLen := len(m.Text)
		if used+contentLen <= charBudget {
			result.Memories = append(result.Memories, ContextMemory{
				ID: m.ID, Type: m.Type, Text: m.Text, Weight: m.Weight,
			})
			used += contentLen
			continue
		}
		// Partial fit: excerpt. The first record is always excerpted so a
		// small budget still yields something to summarize.
		remaining := charBudget - used
		if remaining >= 100 || len(result.Memories) == 0 {
			excerpt := strings.ToValidUTF8(m.Text[:remaining], "") + "..."
			result.Memories = append(result.Memories, ContextMemory{
				ID: m.ID, Type: m.Type, Text: excerpt, Weight: m.Weight, Excerpt: true,
			})
			used += len(excerpt)
		}
		break
	}

	result.Used = used / 4
	return result, nil
}
