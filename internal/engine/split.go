package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/memops/internal/chunker"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/resolver"
	"github.com/rcliao/memops/internal/store"
)

// DefaultMaxSplits caps custom segments when max_splits is not given.
const DefaultMaxSplits = 10

// SplitItem is the outcome for one source record.
type SplitItem struct {
	ParentID   int64   `json:"parent_id"`
	ChildIDs   []int64 `json:"child_ids"`
	SplitCount int     `json:"split_count"`
	Strategy   string  `json:"strategy_used"`
}

// SplitResult reports a completed split.
type SplitResult struct {
	Results     []SplitItem `json:"results"`
	TotalSplits int         `json:"total_splits"`
	// Unsplit lists sources that yielded fewer than two segments.
	Unsplit []int64 `json:"unsplit,omitempty"`
}

func (r *SplitResult) affectedCount() int { return r.TotalSplits }

// splitPlan holds the segments computed for one source.
type splitPlan struct {
	source   model.Memory
	segments []string
	vectors  []*model.Embedding
}

// segments breaks text according to the strategy in args.
func segments(text string, args *ir.SplitArgs) []string {
	var out []string
	switch args.Strategy {
	case ir.SplitByChunks:
		c := args.Params.ByChunks
		var chunks []chunker.ChunkResult
		if c.NumChunks > 0 {
			chunks = chunker.ChunkN(text, c.NumChunks)
		} else {
			chunks = chunker.Chunk(text, chunker.SizedOptions(c.ChunkSize))
		}
		for _, ch := range chunks {
			out = append(out, ch.Text)
		}
	case ir.SplitByHeadings:
		for _, ch := range chunker.Sections(text) {
			out = append(out, ch.Text)
		}
	case ir.SplitCustom:
		c := args.Params.Custom
		limit := c.MaxSplits
		if limit <= 0 {
			limit = DefaultMaxSplits
		}
		runes := []rune(text)
		for _, seg := range c.Segments {
			s := strings.TrimSpace(seg.Text)
			if s == "" && len(seg.Range) == 2 {
				start := clamp(seg.Range[0], 0, len(runes))
				end := clamp(seg.Range[1], start, len(runes))
				s = strings.TrimSpace(string(runes[start:end]))
			}
			if s != "" {
				out = append(out, s)
			}
			if len(out) == limit {
				break
			}
		}
	default:
		per := 0
		if s := args.Params.BySentences; s != nil {
			per = s.MaxSentences
		}
		out = chunker.GroupSentences(chunker.Sentences(text), per)
	}

	kept := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return kept
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *Engine) planSplit(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.SplitArgs) ([]splitPlan, []int64, error) {
	if err := requireAll(req, res); err != nil {
		return nil, nil, err
	}
	ms, err := e.liveMemories(ctx, res)
	if err != nil {
		return nil, nil, err
	}
	if len(ms) == 0 {
		return nil, nil, memerr.NotFound("Split resolved no live records")
	}

	var plans []splitPlan
	var unsplit []int64
	for _, m := range ms {
		segs := segments(m.Text, args)
		if len(segs) < 2 {
			unsplit = append(unsplit, m.ID)
			continue
		}
		plans = append(plans, splitPlan{source: m, segments: segs})
	}
	return plans, unsplit, nil
}

// split creates the children of every source in one transaction. Child
// embeddings are computed first, outside the transaction.
func (e *Engine) split(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.SplitArgs, now time.Time) (*SplitResult, error) {
	plans, unsplit, err := e.planSplit(ctx, req, res, args)
	if err != nil {
		return nil, err
	}

	if !args.SkipEmbedding && e.embedder != nil {
		for i := range plans {
			p := &plans[i]
			p.vectors = make([]*model.Embedding, len(p.segments))
			for j, seg := range p.segments {
				r, err := e.embedder.Embed(ctx, seg)
				if err != nil {
					return nil, err
				}
				p.vectors[j] = r.Stored()
			}
		}
	}

	out := &SplitResult{Results: []SplitItem{}, Unsplit: unsplit}
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		for i := range plans {
			p := &plans[i]
			src, err := loadUnchanged(ctx, tx, &p.source, req, now)
			if err != nil {
				return err
			}
			item := SplitItem{ParentID: src.ID, Strategy: args.Strategy}
			for j, seg := range p.segments {
				child := splitChild(src, seg, args.Inherit())
				if p.vectors != nil {
					child.Embedding = p.vectors[j]
				}
				id, err := tx.Insert(ctx, child)
				if err != nil {
					return memerr.Store(err, "insert split of memory %d", src.ID)
				}
				item.ChildIDs = append(item.ChildIDs, id)
			}
			item.SplitCount = len(item.ChildIDs)

			src.LineageChildren = appendIDs(src.LineageChildren, item.ChildIDs...)
			if args.SoftDeleteSource {
				softDelete(src, fmt.Sprintf("split into %d records", item.SplitCount), now)
			}
			if err := tx.Update(ctx, src); err != nil {
				return memerr.Store(err, "update memory %d", src.ID)
			}
			out.Results = append(out.Results, item)
			out.TotalSplits += item.SplitCount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// splitChild builds one child record. Children always carry the
// split_from_<id> tag and a lineage link to the source.
func splitChild(src *model.Memory, text string, inherit bool) *model.Memory {
	child := &model.Memory{
		Text:           text,
		Weight:         model.DefaultWeight,
		LineageParents: []int64{src.ID},
	}
	if inherit {
		child.Type = src.Type
		child.Tags = append([]string{}, src.Tags...)
		child.Facets = copyFacets(src.Facets)
		child.Time = src.Time
		child.Subject = src.Subject
		child.Location = src.Location
		child.Topic = src.Topic
		child.Source = src.Source
		child.Weight = src.Weight
		child.Permissions = src.Permissions
	}
	child.Tags = appendTag(child.Tags, fmt.Sprintf("split_from_%d", src.ID))
	return child
}

func appendTag(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(tags, tag)
}
