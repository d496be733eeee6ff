package engine

import (
	"context"
	"time"

	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/resolver"
)

// Plan previews what a dry-run request would do.
type Plan struct {
	Op         model.Op      `json:"op"`
	TargetMode ir.TargetMode `json:"target_mode,omitempty"`
	TargetIDs  []int64       `json:"target_ids"`
	// Blocked lists targets whose lock would refuse the operation.
	Blocked []ItemOutcome `json:"blocked,omitempty"`
	Preview any           `json:"preview,omitempty"`
}

func (e *Engine) planEncode(args *ir.EncodeArgs) *Plan {
	preview := map[string]any{
		"text":                args.Payload.Content(),
		"generated_embedding": !args.SkipEmbedding && e.embedder != nil,
	}
	if e.embedder != nil && !args.SkipEmbedding {
		preview["embedding_provider"] = e.embedder.Name()
	}
	return &Plan{Op: model.OpEncode, TargetIDs: []int64{}, Preview: preview}
}

// plan resolves the op-specific preview without writing.
func (e *Engine) plan(ctx context.Context, req *ir.Request, res *resolver.Resolution, now time.Time) (*Plan, error) {
	p := &Plan{Op: req.Op, TargetMode: res.Mode, TargetIDs: res.IDs}
	if p.TargetIDs == nil {
		p.TargetIDs = []int64{}
	}

	switch args := req.Args.(type) {
	case *ir.MergeArgs:
		mp, err := e.planMerge(ctx, req, res, args)
		if err != nil {
			return nil, err
		}
		p.Preview = map[string]any{
			"primary_id":    mp.primary.ID,
			"merged_ids":    mp.otherIDs(),
			"merged_text":   mp.text,
			"would_reembed": !args.SkipReembedding && e.embedder != nil && mp.text != mp.primary.Text,
		}
	case *ir.SplitArgs:
		plans, unsplit, err := e.planSplit(ctx, req, res, args)
		if err != nil {
			return nil, err
		}
		segs := map[int64][]string{}
		for _, sp := range plans {
			segs[sp.source.ID] = sp.segments
		}
		p.Preview = map[string]any{"strategy": args.Strategy, "segments": segs, "unsplit": unsplit}
	case *ir.ExpireArgs:
		at, err := expireAt(args, now)
		if err != nil {
			return nil, err
		}
		p.Preview = map[string]any{"expire_at": at, "on_expire": args.OnExpire}
	case *ir.DeleteArgs:
		ids, err := e.deleteTargets(ctx, res, args, now)
		if err != nil {
			return nil, err
		}
		p.TargetIDs = ids
		p.Preview = map[string]any{"soft": args.IsSoft()}
	case *ir.LockArgs:
		p.Preview = map[string]any{"mode": args.Mode, "policy": args.LockPolicy()}
	case *ir.RetrieveArgs, *ir.SummarizeArgs:
		if res.Scores != nil {
			p.Preview = res.Scores
		}
	default:
		p.Preview = req.Args
	}

	if !req.Op.ReadOnly() {
		blocked, err := e.blocked(ctx, req, p.TargetIDs, now)
		if err != nil {
			return nil, err
		}
		p.Blocked = blocked
	}
	return p, nil
}

// blocked reports the targets whose lock refuses req.Op.
func (e *Engine) blocked(ctx context.Context, req *ir.Request, ids []int64, now time.Time) ([]ItemOutcome, error) {
	ms, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, memerr.Store(err, "load targets")
	}
	var out []ItemOutcome
	for i := range ms {
		if err := ms[i].CheckLock(req.Op, req.Meta.Actor, now); err != nil {
			out = append(out, ItemOutcome{ID: ms[i].ID, Status: StatusFailed, Error: conflict(err)})
		}
	}
	return out, nil
}
