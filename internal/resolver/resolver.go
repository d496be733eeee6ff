// Package resolver turns a request's target into an ordered list of live
// record ids.
package resolver

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/retrieval"
	"github.com/rcliao/memops/internal/store"
)

// Options tune resolution defaults.
type Options struct {
	// DefaultK is the result count for read-only searches with no limit or k.
	DefaultK int
	// MaxLimit caps every search and filter result count.
	MaxLimit int
	// Alpha is the semantic weight used when a search gives none.
	Alpha float64
}

// DefaultOptions returns the stock resolution settings.
func DefaultOptions() Options {
	return Options{DefaultK: 10, MaxLimit: 100, Alpha: retrieval.DefaultAlpha}
}

// Resolution is the outcome of resolving one target.
type Resolution struct {
	Mode ir.TargetMode
	IDs  []int64
	// Memories holds the resolved records for filter and search modes.
	Memories []model.Memory
	// Scores holds per-record scores for search mode, aligned with IDs.
	Scores []retrieval.Scored
	// Notes record degradations such as lexical-only scoring.
	Notes []string
}

// Resolver resolves targets against a store.
type Resolver struct {
	store    store.Reader
	embedder embedding.Embedder
	opts     Options
	logger   *zap.Logger
}

// New creates a Resolver. embedder may be nil, which limits search to
// lexical scoring.
func New(s store.Reader, embedder embedding.Embedder, opts Options, logger *zap.Logger) *Resolver {
	def := DefaultOptions()
	if opts.DefaultK <= 0 {
		opts.DefaultK = def.DefaultK
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = def.MaxLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:    s,
		embedder: embedder,
		opts:     opts,
		logger:   logger.With(zap.String("component", "resolver")),
	}
}

// Resolve converts the request's target into live record ids. now is the
// evaluation instant for relative time ranges. Safety violations fail
// before the store is read.
func (r *Resolver) Resolve(ctx context.Context, req *ir.Request, now time.Time) (*Resolution, error) {
	t := req.Target
	if t == nil {
		return nil, memerr.Validation("op %s requires a target", req.Op)
	}
	if err := t.Validate(); err != nil {
		return nil, memerr.Validation("invalid target").WithCause(err)
	}

	switch t.Mode() {
	case ir.ModeIDs:
		ids, err := r.store.Live(ctx, t.IDs)
		if err != nil {
			return nil, memerr.Store(err, "resolve ids")
		}
		return &Resolution{Mode: ir.ModeIDs, IDs: ids}, nil

	case ir.ModeFilter:
		return r.resolveFilter(ctx, t.Filter, now)

	case ir.ModeSearch:
		return r.resolveSearch(ctx, t.Search, req.Op.ReadOnly())

	default:
		if !req.Meta.Confirmation && !req.Meta.DryRun {
			return nil, memerr.Safety("target all requires meta.confirmation=true")
		}
		all, err := r.store.Candidates(ctx)
		if err != nil {
			return nil, memerr.Store(err, "resolve all")
		}
		return &Resolution{Mode: ir.ModeAll, IDs: idsOf(all), Memories: all}, nil
	}
}

func (r *Resolver) resolveFilter(ctx context.Context, f *ir.Filter, now time.Time) (*Resolution, error) {
	limit := f.Limit
	if limit <= 0 || limit > r.opts.MaxLimit {
		limit = r.opts.MaxLimit
	}
	p := store.FilterParams{
		HasTags:      f.HasTags,
		NotTags:      f.NotTags,
		Type:         f.Type,
		Subject:      f.Subject,
		Location:     f.Location,
		Topic:        f.Topic,
		WeightGTE:    f.WeightGTE,
		WeightLTE:    f.WeightLTE,
		ExpireBefore: f.ExpireBefore.Ptr(),
		ExpireAfter:  f.ExpireAfter.Ptr(),
		OrderBy:      f.OrderBy,
		Limit:        limit,
	}
	if f.TimeRange != nil {
		start, end := f.TimeRange.Bounds(now)
		p.TimeStart, p.TimeEnd = &start, &end
	}

	ms, err := r.store.Query(ctx, p)
	if err != nil {
		return nil, memerr.Store(err, "resolve filter")
	}
	return &Resolution{Mode: ir.ModeFilter, IDs: idsOf(ms), Memories: ms}, nil
}

func (r *Resolver) resolveSearch(ctx context.Context, s *ir.Search, readOnly bool) (*Resolution, error) {
	k, err := r.searchK(s, readOnly)
	if err != nil {
		return nil, err
	}
	alpha := r.opts.Alpha
	orderBy := ir.OrderRelevance
	if o := s.Overrides; o != nil {
		if o.Alpha != nil {
			alpha = *o.Alpha
		}
		if o.OrderBy != "" {
			orderBy = o.OrderBy
		}
	}

	res := &Resolution{Mode: ir.ModeSearch}
	q := retrieval.Query{Text: s.Intent.Query, Vector: s.Intent.Vector, Alpha: alpha}

	if q.Vector == nil && alpha > 0 {
		switch {
		case r.embedder == nil:
			res.Notes = append(res.Notes, "no embedding provider configured; lexical scoring only")
			q.Alpha = 0
		default:
			emb, err := r.embedder.Embed(ctx, q.Text)
			if err != nil {
				if !readOnly {
					return nil, memerr.ProviderFrom(err, "embed search query")
				}
				r.logger.Warn("query embedding failed, degrading to lexical scoring", zap.Error(err))
				res.Notes = append(res.Notes, "embedding provider failed; lexical scoring only")
				q.Alpha = 0
			} else {
				q.Vector = emb.Vector
			}
		}
	}

	candidates, err := r.store.Candidates(ctx)
	if err != nil {
		return nil, memerr.Store(err, "load search candidates")
	}
	scored := retrieval.Rank(q, candidates)
	if len(scored) > k {
		scored = scored[:k]
	}
	if orderBy != ir.OrderRelevance {
		reorder(scored, orderBy)
	}

	res.Scores = scored
	for _, sc := range scored {
		res.IDs = append(res.IDs, sc.Memory.ID)
		res.Memories = append(res.Memories, sc.Memory)
	}
	if res.IDs == nil {
		res.IDs = []int64{}
	}
	return res, nil
}

// searchK enforces the explicit cap on mutating searches and picks the
// result count.
func (r *Resolver) searchK(s *ir.Search, readOnly bool) (int, error) {
	k := s.Limit
	var overrideK int
	if s.Overrides != nil {
		overrideK = s.Overrides.K
	}
	switch {
	case k == 0 && !readOnly:
		return 0, memerr.Safety("mutating operations targeting search require search.limit")
	case k == 0 && overrideK > 0:
		k = overrideK
	case k == 0:
		k = r.opts.DefaultK
	case overrideK > 0 && overrideK < k:
		k = overrideK
	}
	if k > r.opts.MaxLimit {
		k = r.opts.MaxLimit
	}
	return k, nil
}

func reorder(scored []retrieval.Scored, orderBy string) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i].Memory, scored[j].Memory
		if orderBy == ir.OrderWeightDesc {
			return a.Weight > b.Weight
		}
		switch {
		case a.Time == nil:
			return false
		case b.Time == nil:
			return true
		case orderBy == ir.OrderTimeAsc:
			return a.Time.Before(*b.Time)
		default:
			return a.Time.After(*b.Time)
		}
	})
}

func idsOf(ms []model.Memory) []int64 {
	ids := make([]int64, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
	}
	return ids
}
