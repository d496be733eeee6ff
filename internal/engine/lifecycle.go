package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/resolver"
	"github.com/rcliao/memops/internal/store"
)

func (e *Engine) label(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.LabelArgs, now time.Time) (*BatchResult, error) {
	out := e.applyEach(ctx, req, res.IDs, now, mutate(func(m *model.Memory) error {
		applyLabel(m, args)
		return nil
	}))
	return &out, nil
}

func applyLabel(m *model.Memory, args *ir.LabelArgs) {
	switch args.Mode {
	case ir.LabelReplace:
		if args.Tags != nil {
			m.Tags = uniqueStrings(args.Tags)
		}
		if args.Facets != nil {
			clearFacets(m, facetKeys(m.Facets))
			m.Facets = copyFacets(args.Facets)
			mirrorFacets(m, m.Facets)
		}
	case ir.LabelRemove:
		drop := make(map[string]bool, len(args.Tags))
		for _, t := range args.Tags {
			drop[t] = true
		}
		kept := m.Tags[:0]
		for _, t := range m.Tags {
			if !drop[t] {
				kept = append(kept, t)
			}
		}
		m.Tags = kept
		removed := facetKeys(args.Facets)
		for _, k := range removed {
			delete(m.Facets, k)
		}
		clearFacets(m, removed)
	default:
		m.Tags = uniqueStrings(append(m.Tags, args.Tags...))
		if len(args.Facets) > 0 {
			if m.Facets == nil {
				m.Facets = map[string]any{}
			}
			for k, v := range copyFacets(args.Facets) {
				m.Facets[k] = v
			}
			mirrorFacets(m, args.Facets)
		}
	}
}

func facetKeys(f map[string]any) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	return keys
}

// UpdateResult reports an Update batch and whether text changes were
// re-embedded.
type UpdateResult struct {
	BatchResult
	Reembedded bool `json:"reembedded,omitempty"`
}

func (e *Engine) update(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.UpdateArgs, now time.Time) (*UpdateResult, error) {
	set := &args.Set

	// A text change is embedded once, before any write.
	var emb *model.Embedding
	if set.Text != nil && e.embedder != nil && len(res.IDs) > 0 {
		r, err := e.embedder.Embed(ctx, *set.Text)
		if err != nil {
			return nil, err
		}
		emb = r.Stored()
	}

	out := &UpdateResult{Reembedded: emb != nil}
	out.BatchResult = e.applyEach(ctx, req, res.IDs, now, mutate(func(m *model.Memory) error {
		applyUpdate(m, set, emb)
		return nil
	}))
	return out, nil
}

func applyUpdate(m *model.Memory, set *ir.UpdateSet, emb *model.Embedding) {
	if set.Text != nil && *set.Text != m.Text {
		m.Text = *set.Text
		// A stale vector is worse than none.
		m.Embedding = emb
	}
	if set.Type != nil {
		m.Type = *set.Type
	}
	if set.Facets != nil {
		clearFacets(m, facetKeys(m.Facets))
		m.Facets = copyFacets(set.Facets)
		mirrorFacets(m, m.Facets)
	}
	if set.Time != nil {
		m.Time = set.Time.Ptr()
	}
	if set.Subject != nil {
		m.Subject = *set.Subject
	}
	if set.Location != nil {
		m.Location = *set.Location
	}
	if set.Topic != nil {
		m.Topic = *set.Topic
	}
	if set.Weight != nil {
		m.Weight = model.ClampWeight(*set.Weight)
	}
	if set.Source != nil {
		m.Source = *set.Source
	}
	if set.AutoFrequency != nil {
		m.AutoFrequency = *set.AutoFrequency
	}
	if set.ExpireAt != nil {
		m.ExpireAt = set.ExpireAt.Ptr()
		if m.ExpireAction == "" {
			m.ExpireAction = model.ExpireSoftDelete
		}
	}
	if set.NextAutoUpdateAt != nil {
		m.NextAutoUpdateAt = set.NextAutoUpdateAt.Ptr()
	}
	m.Permissions = permissions(m.Permissions, &set.PermissionArgs)
}

func (e *Engine) promote(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.PromoteArgs, now time.Time) (*BatchResult, error) {
	out := e.applyEach(ctx, req, res.IDs, now, mutate(func(m *model.Memory) error {
		switch {
		case args.Weight != nil:
			m.Weight = model.ClampWeight(*args.Weight)
		case args.WeightDelta != nil:
			m.Weight = model.ClampWeight(m.Weight + math.Abs(*args.WeightDelta))
		default:
			m.AutoFrequency = args.Remind.RRule
			m.NextAutoUpdateAt = args.Remind.Until.Ptr()
		}
		return nil
	}))
	return &out, nil
}

func (e *Engine) demote(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.DemoteArgs, now time.Time) (*BatchResult, error) {
	out := e.applyEach(ctx, req, res.IDs, now, mutate(func(m *model.Memory) error {
		switch {
		case args.Archive != nil:
			m.Weight = 0
		case args.Weight != nil:
			m.Weight = model.ClampWeight(*args.Weight)
		default:
			m.Weight = model.ClampWeight(m.Weight - math.Abs(*args.WeightDelta))
		}
		return nil
	}))
	return &out, nil
}

// LockResult reports a Lock batch.
type LockResult struct {
	BatchResult
	Mode   model.LockMode    `json:"mode"`
	Reason string            `json:"reason,omitempty"`
	Policy *model.LockPolicy `json:"policy,omitempty"`
}

func (e *Engine) lock(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.LockArgs, now time.Time) (*LockResult, error) {
	policy := args.LockPolicy()
	out := &LockResult{Mode: args.Mode, Reason: args.Reason, Policy: policy}
	out.BatchResult = e.applyEach(ctx, req, res.IDs, now, mutate(func(m *model.Memory) error {
		applyLock(m, args.Mode, args.Reason, policy)
		return nil
	}))
	return out, nil
}

func applyLock(m *model.Memory, mode model.LockMode, reason string, policy *model.LockPolicy) {
	if mode == model.LockNone {
		m.LockMode = model.LockNone
		m.LockReason = ""
		m.LockPolicy = nil
		m.LockExpires = nil
		return
	}
	m.LockMode = mode
	m.LockReason = reason
	m.LockPolicy = policy
	m.LockExpires = nil
	if policy != nil {
		m.LockExpires = policy.Expires
	}
}

// ExpireResult reports an Expire batch.
type ExpireResult struct {
	BatchResult
	ExpireAt time.Time          `json:"expire_at"`
	OnExpire model.ExpireAction `json:"on_expire"`
	Reason   string             `json:"reason,omitempty"`
}

// expireAt computes the absolute deadline for args against now.
func expireAt(args *ir.ExpireArgs, now time.Time) (time.Time, error) {
	if args.ExpireAt != nil {
		return args.ExpireAt.Time, nil
	}
	d, err := ir.ParseTTL(args.TTL)
	if err != nil {
		return time.Time{}, memerr.Validation("args.ttl: %v", err)
	}
	return now.Add(d).UTC(), nil
}

func (e *Engine) expire(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.ExpireArgs, now time.Time) (*ExpireResult, error) {
	at, err := expireAt(args, now)
	if err != nil {
		return nil, err
	}
	out := &ExpireResult{ExpireAt: at, OnExpire: args.OnExpire, Reason: args.Reason}
	out.BatchResult = e.applyEach(ctx, req, res.IDs, now, mutate(func(m *model.Memory) error {
		t := at
		m.ExpireAt = &t
		m.ExpireAction = args.OnExpire
		m.ExpireReason = args.Reason
		return nil
	}))
	return out, nil
}

// DeleteResult reports a Delete batch.
type DeleteResult struct {
	BatchResult
	Soft   bool   `json:"soft"`
	Reason string `json:"reason,omitempty"`
}

func (e *Engine) delete(ctx context.Context, req *ir.Request, res *resolver.Resolution, args *ir.DeleteArgs, now time.Time) (*DeleteResult, error) {
	ids, err := e.deleteTargets(ctx, res, args, now)
	if err != nil {
		return nil, err
	}
	out := &DeleteResult{Soft: args.IsSoft(), Reason: args.Reason}
	if args.IsSoft() {
		out.BatchResult = e.applyEach(ctx, req, ids, now, mutate(func(m *model.Memory) error {
			softDelete(m, args.Reason, now)
			return nil
		}))
		return out, nil
	}
	out.BatchResult = e.applyEach(ctx, req, ids, now, func(ctx context.Context, tx *store.Tx, m *model.Memory) error {
		if err := tx.HardDelete(ctx, m.ID); err != nil {
			return memerr.Store(err, "delete memory %d", m.ID)
		}
		return nil
	})
	return out, nil
}

// deleteTargets narrows the resolved ids by older_than.
func (e *Engine) deleteTargets(ctx context.Context, res *resolver.Resolution, args *ir.DeleteArgs, now time.Time) ([]int64, error) {
	if args.OlderThan == "" {
		return res.IDs, nil
	}
	d, err := ir.ParseTTL(args.OlderThan)
	if err != nil {
		return nil, memerr.Validation("args.older_than: %v", err)
	}
	cutoff := now.Add(-d)
	ms, err := e.liveMemories(ctx, res)
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	for _, m := range ms {
		if m.Time != nil && m.Time.Before(cutoff) {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func softDelete(m *model.Memory, reason string, now time.Time) {
	t := now.UTC()
	m.Deleted = true
	m.DeletedAt = &t
	m.DeleteReason = reason
}

func mergedReason(primary int64) string {
	return fmt.Sprintf("merged into %d", primary)
}
