package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/resolver"
	"github.com/rcliao/memops/internal/store"
)

// MergeResult reports a completed merge.
type MergeResult struct {
	PrimaryID   int64   `json:"primary_id"`
	MergedIDs   []int64 `json:"merged_ids"`
	MergedCount int     `json:"merged_count"`
	Reembedded  bool    `json:"reembedded"`
}

func (r *MergeResult) affectedCount() int { return r.MergedCount + 1 }

// mergePlan is the merge computed from a snapshot, before any write.
type mergePlan struct {
	primary model.Memory
	others  []model.Memory
	text    string
	tags    []string
}

func (e *Engine) planMerge(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.MergeArgs) (*mergePlan, error) {
	if err := requireAll(req, res); err != nil {
		return nil, err
	}
	ms, err := e.liveMemories(ctx, res)
	if err != nil {
		return nil, err
	}
	if len(ms) < 2 {
		return nil, memerr.NotFound("Merge needs at least 2 live records, resolved %d", len(ms))
	}

	primaryID := int64(args.PrimaryID)
	if primaryID == 0 {
		primaryID = ms[0].ID
	}
	p := &mergePlan{}
	found := false
	for _, m := range ms {
		if m.ID == primaryID {
			p.primary = m
			found = true
		} else {
			p.others = append(p.others, m)
		}
	}
	if !found {
		return nil, memerr.NotFound("primary_id %d is not among the resolved records", primaryID)
	}

	texts := make([]string, 0, len(p.others))
	tags := append([]string{}, p.primary.Tags...)
	for _, m := range p.others {
		if strings.TrimSpace(m.Text) != "" {
			texts = append(texts, m.Text)
		}
		tags = append(tags, m.Tags...)
	}
	p.text = p.primary.Text
	if len(texts) > 0 {
		if p.text != "" {
			p.text += "\n\n"
		}
		p.text += strings.Join(texts, "\n")
	}
	p.tags = uniqueStrings(tags)
	return p, nil
}

func (p *mergePlan) otherIDs() []int64 {
	ids := make([]int64, len(p.others))
	for i, m := range p.others {
		ids[i] = m.ID
	}
	return ids
}

// merge folds the non-primary records into the primary in one
// transaction. Re-embedding happens first, outside the transaction.
func (e *Engine) merge(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.MergeArgs, now time.Time) (*MergeResult, error) {
	p, err := e.planMerge(ctx, req, res, args)
	if err != nil {
		return nil, err
	}

	var emb *model.Embedding
	if !args.SkipReembedding && e.embedder != nil && p.text != p.primary.Text {
		r, err := e.embedder.Embed(ctx, p.text)
		if err != nil {
			return nil, err
		}
		emb = r.Stored()
	}

	others := p.otherIDs()
	err = e.store.InTx(ctx, func(tx *store.Tx) error {
		primary, err := loadUnchanged(ctx, tx, &p.primary, req, now)
		if err != nil {
			return err
		}
		for i := range p.others {
			m, err := loadUnchanged(ctx, tx, &p.others[i], req, now)
			if err != nil {
				return err
			}
			softDelete(m, mergedReason(primary.ID), now)
			m.LineageParents = appendIDs(m.LineageParents, primary.ID)
			if err := tx.Update(ctx, m); err != nil {
				return memerr.Store(err, "update memory %d", m.ID)
			}
		}

		primary.Text = p.text
		primary.Tags = p.tags
		if emb != nil {
			primary.Embedding = emb
		}
		primary.LineageChildren = appendIDs(primary.LineageChildren, others...)
		if err := tx.Update(ctx, primary); err != nil {
			return memerr.Store(err, "update memory %d", primary.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &MergeResult{
		PrimaryID:   p.primary.ID,
		MergedIDs:   others,
		MergedCount: len(others),
		Reembedded:  emb != nil,
	}, nil
}

// loadUnchanged reloads a planned record inside tx, checks its lock, and
// fails when it changed since the plan was computed.
func loadUnchanged(ctx context.Context, tx *store.Tx, planned *model.Memory, req *ir.Request, now time.Time) (*model.Memory, error) {
	m, err := loadLive(ctx, tx, planned.ID)
	if err != nil {
		return nil, err
	}
	if !m.UpdatedAt.Equal(planned.UpdatedAt) {
		return nil, memerr.Conflict("memory %d changed while %s was running", m.ID, req.Op)
	}
	if err := m.CheckLock(req.Op, req.Meta.Actor, now); err != nil {
		return nil, conflict(err)
	}
	return m, nil
}

// appendIDs appends ids not already present. Lineage arrays only grow.
func appendIDs(list []int64, ids ...int64) []int64 {
	seen := make(map[int64]bool, len(list))
	for _, id := range list {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			list = append(list, id)
			seen[id] = true
		}
	}
	return list
}
