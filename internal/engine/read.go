package engine

import (
	"context"
	"time"

	"github.com/rcliao/memops/internal/generation"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/resolver"
	"github.com/rcliao/memops/internal/store"
)

// RetrieveResult is a projected, ordered view of the resolved records.
type RetrieveResult struct {
	Rows  []map[string]any `json:"rows"`
	Count int              `json:"count"`
	Mode  ir.TargetMode    `json:"mode"`
}

func (e *Engine) retrieve(ctx context.Context, res *resolver.Resolution, args *ir.RetrieveArgs) (*RetrieveResult, error) {
	ms, err := e.liveMemories(ctx, res)
	if err != nil {
		return nil, err
	}
	include := args.Include
	if len(include) == 0 {
		include = ir.RetrieveFields
	}

	out := &RetrieveResult{Rows: make([]map[string]any, 0, len(ms)), Mode: res.Mode}
	for i := range ms {
		row := project(&ms[i], include)
		if res.Scores != nil {
			sc := res.Scores[i]
			row["lexical_score"] = sc.Lexical
			row["semantic_score"] = sc.Semantic
			row["combined_score"] = sc.Combined
		}
		out.Rows = append(out.Rows, row)
	}
	out.Count = len(out.Rows)
	return out, nil
}

// project renders the whitelisted fields of m.
func project(m *model.Memory, include []string) map[string]any {
	row := make(map[string]any, len(include))
	for _, f := range include {
		switch f {
		case "id":
			row[f] = m.ID
		case "text":
			row[f] = m.Text
		case "type":
			row[f] = m.Type
		case "tags":
			row[f] = nonNil(m.Tags)
		case "facets":
			row[f] = m.Facets
		case "time":
			row[f] = formatTime(m.Time)
		case "subject":
			row[f] = m.Subject
		case "location":
			row[f] = m.Location
		case "topic":
			row[f] = m.Topic
		case "source":
			row[f] = m.Source
		case "weight":
			row[f] = m.Weight
		case "lock_mode":
			row[f] = m.LockMode
		case "expire_at":
			row[f] = formatTime(m.ExpireAt)
		case "lineage_parents":
			row[f] = nonNilIDs(m.LineageParents)
		case "lineage_children":
			row[f] = nonNilIDs(m.LineageChildren)
		case "read_perm_level":
			row[f] = m.Permissions.ReadLevel
		case "write_perm_level":
			row[f] = m.Permissions.WriteLevel
		case "read_whitelist":
			row[f] = nonNil(m.Permissions.ReadWhitelist)
		case "read_blacklist":
			row[f] = nonNil(m.Permissions.ReadBlacklist)
		case "write_whitelist":
			row[f] = nonNil(m.Permissions.WriteWhitelist)
		case "write_blacklist":
			row[f] = nonNil(m.Permissions.WriteBlacklist)
		}
	}
	return row
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilIDs(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}

// SummarizeResult is generated text over the resolved records.
type SummarizeResult struct {
	Summary   string  `json:"summary"`
	Count     int     `json:"count"`
	SourceIDs []int64 `json:"source_ids"`
	Model     string  `json:"model,omitempty"`
	Focus     string  `json:"focus,omitempty"`
	// Truncated is set when the budget excerpted or dropped records.
	Truncated bool `json:"truncated,omitempty"`
}

// summarize packs the resolved records into a prompt and asks the
// generator for a summary. It only reads the store.
func (e *Engine) summarize(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.SummarizeArgs) (*SummarizeResult, error) {
	out := &SummarizeResult{SourceIDs: []int64{}, Focus: args.Focus}
	if len(res.IDs) == 0 {
		return out, nil
	}

	packed, err := e.store.Context(ctx, store.ContextParams{IDs: res.IDs, Budget: store.DefaultContextBudget})
	if err != nil {
		return nil, memerr.Store(err, "load summary sources")
	}
	out.SourceIDs = packed.IDs()
	out.Count = len(packed.Memories)
	if out.Count == 0 {
		return out, nil
	}
	for _, m := range packed.Memories {
		if m.Excerpt {
			out.Truncated = true
		}
	}
	if out.Count < len(res.IDs) {
		out.Truncated = true
	}

	c := generation.Constraints{MaxTokens: args.MaxTokens, Focus: args.Focus, Lang: req.Meta.Lang}
	summary, err := e.generator.Generate(ctx, generation.SummaryPrompt(packed.Text(), c), c)
	if err != nil {
		return nil, err
	}
	out.Summary = summary
	out.Model = e.generator.Model()
	return out, nil
}
