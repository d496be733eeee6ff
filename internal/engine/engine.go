// Package engine executes validated memory operations against a store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/generation"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/metrics"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/resolver"
	"github.com/rcliao/memops/internal/store"
)

// DefaultProviderTimeout bounds a provider call when Options gives none.
const DefaultProviderTimeout = 30 * time.Second

// Options wires an Engine's collaborators.
type Options struct {
	Store store.Store
	// Embedder may be nil: Encode then stores no vector and search falls
	// back to lexical scoring.
	Embedder embedding.Embedder
	// Generator defaults to the extractive generator.
	Generator       generation.Generator
	Resolver        resolver.Options
	ProviderTimeout time.Duration
	Metrics         *metrics.Collector
	Logger          *zap.Logger
	// Now supplies the evaluation instant when a request carries no
	// meta.timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Engine dispatches requests to the twelve operation handlers.
type Engine struct {
	store     store.Store
	resolver  *resolver.Resolver
	embedder  embedding.Embedder
	generator generation.Generator
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.Generator == nil {
		opts.Generator = generation.NewExtractive()
	}
	logger := opts.Logger.With(zap.String("component", "engine"))

	var emb embedding.Embedder
	if opts.Embedder != nil {
		emb = &timedEmbedder{inner: opts.Embedder, timeout: opts.ProviderTimeout, metrics: opts.Metrics}
	}
	gen := &timedGenerator{inner: opts.Generator, timeout: opts.ProviderTimeout, metrics: opts.Metrics}

	return &Engine{
		store:     opts.Store,
		resolver:  resolver.New(opts.Store, emb, opts.Resolver, opts.Logger),
		embedder:  emb,
		generator: gen,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       opts.Now,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// Envelope is the result of one request.
type Envelope struct {
	Success bool          `json:"success"`
	Data    any           `json:"data"`
	Error   *memerr.Error `json:"error"`
	Meta    EnvelopeMeta  `json:"meta"`
}

// EnvelopeMeta carries execution diagnostics.
type EnvelopeMeta struct {
	TraceID    string      `json:"trace_id"`
	Op         model.Op    `json:"op,omitempty"`
	Stage      model.Stage `json:"stage,omitempty"`
	TargetMode string      `json:"target_mode,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	DryRun     bool        `json:"dry_run,omitempty"`
	Plan       *Plan       `json:"plan,omitempty"`
	Notes      []string    `json:"notes,omitempty"`
}

// affectedCounter is implemented by results that change records.
type affectedCounter interface {
	affectedCount() int
}

// partial is implemented by best-effort results that may contain failures.
type partial interface {
	firstFailure() *memerr.Error
}

// ExecuteJSON parses a JSON request and executes it. Parse failures are
// reported as a ValidationError envelope.
func (e *Engine) ExecuteJSON(ctx context.Context, b []byte) *Envelope {
	req, err := ir.Parse(b)
	if err != nil {
		env := &Envelope{Meta: EnvelopeMeta{TraceID: e.traceID("")}}
		var op struct {
			Op model.Op `json:"op"`
		}
		if json.Unmarshal(b, &op) == nil {
			env.Meta.Op = op.Op
		}
		env.Error = memerr.From(err)
		e.finish(env, time.Now(), 0)
		return env
	}
	return e.Execute(ctx, req)
}

// Execute runs one request. It never returns nil; failures are reported in
// the envelope.
func (e *Engine) Execute(ctx context.Context, req *ir.Request) *Envelope {
	start := time.Now()
	env := &Envelope{
		Meta: EnvelopeMeta{
			TraceID: e.traceID(req.Meta.TraceID),
			Op:      req.Op,
			Stage:   req.Stage,
			DryRun:  req.Meta.DryRun,
		},
	}

	data, err := e.execute(ctx, req, env)
	affected := 0
	if err == nil {
		env.Success = true
		env.Data = data
		if c, ok := data.(affectedCounter); ok {
			affected = c.affectedCount()
		}
		if p, ok := data.(partial); ok && affected == 0 {
			if first := p.firstFailure(); first != nil {
				// Every record failed; surface the first failure.
				env.Success = false
				env.Error = first
			}
		}
	} else {
		env.Error = memerr.From(err)
		env.Data = data
	}
	e.finish(env, start, affected)
	return env
}

func (e *Engine) finish(env *Envelope, start time.Time, affected int) {
	d := time.Since(start)
	env.Meta.DurationMS = d.Milliseconds()

	outcome := "success"
	if env.Error != nil {
		outcome = string(env.Error.Kind)
	}
	e.metrics.RecordOperation(string(env.Meta.Op), outcome, d, affected)

	fields := []zap.Field{
		zap.String("trace_id", env.Meta.TraceID),
		zap.String("op", string(env.Meta.Op)),
		zap.String("stage", string(env.Meta.Stage)),
		zap.String("outcome", outcome),
		zap.Int("affected", affected),
		zap.Duration("duration", d),
	}
	if env.Meta.DryRun {
		fields = append(fields, zap.Bool("dry_run", true))
	}
	if env.Error != nil {
		fields = append(fields, zap.String("error", env.Error.Error()))
	}
	e.logger.Info("executed", fields...)
}

func (e *Engine) execute(ctx context.Context, req *ir.Request, env *Envelope) (any, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := req.Meta.Now(e.now())

	if req.Op == model.OpEncode {
		args := req.Args.(*ir.EncodeArgs)
		if req.Meta.DryRun {
			env.Meta.Plan = e.planEncode(args)
			return nil, nil
		}
		return e.encode(ctx, args, now)
	}

	res, err := e.resolver.Resolve(ctx, req, now)
	if err != nil {
		return nil, err
	}
	env.Meta.TargetMode = string(res.Mode)
	env.Meta.Notes = append(env.Meta.Notes, res.Notes...)

	if req.Meta.DryRun {
		plan, err := e.plan(ctx, req, res, now)
		if err != nil {
			return nil, err
		}
		env.Meta.Plan = plan
		return nil, nil
	}

	switch args := req.Args.(type) {
	case *ir.LabelArgs:
		return e.label(ctx, req, res, args, now)
	case *ir.UpdateArgs:
		return e.update(ctx, req, res, args, now)
	case *ir.PromoteArgs:
		return e.promote(ctx, req, res, args, now)
	case *ir.DemoteArgs:
		return e.demote(ctx, req, res, args, now)
	case *ir.MergeArgs:
		return e.merge(ctx, req, res, args, now)
	case *ir.SplitArgs:
		return e.split(ctx, req, res, args, now)
	case *ir.LockArgs:
		return e.lock(ctx, req, res, args, now)
	case *ir.ExpireArgs:
		return e.expire(ctx, req, res, args, now)
	case *ir.DeleteArgs:
		return e.delete(ctx, req, res, args, now)
	case *ir.RetrieveArgs:
		return e.retrieve(ctx, res, args)
	case *ir.SummarizeArgs:
		return e.summarize(ctx, req, res, args)
	}
	return nil, memerr.Validation("no handler for op %s", req.Op)
}

func (e *Engine) traceID(given string) string {
	if given != "" {
		return given
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), e.entropy).String()
}

// liveMemories loads the resolved records. Filter, search and all modes
// already carry them; ids mode loads them here.
func (e *Engine) liveMemories(ctx context.Context, res *resolver.Resolution) ([]model.Memory, error) {
	if res.Memories != nil || len(res.IDs) == 0 {
		return res.Memories, nil
	}
	ms, err := e.store.GetMany(ctx, res.IDs)
	if err != nil {
		return nil, memerr.Store(err, "load targets")
	}
	live := ms[:0]
	for _, m := range ms {
		if !m.Deleted {
			live = append(live, m)
		}
	}
	return live, nil
}

// requireAll fails when an ids-mode target lost ids during resolution.
// Atomic operations use it so a missing input aborts the whole batch.
func requireAll(req *ir.Request, res *resolver.Resolution) error {
	if res.Mode != ir.ModeIDs {
		return nil
	}
	found := make(map[int64]bool, len(res.IDs))
	for _, id := range res.IDs {
		found[id] = true
	}
	var missing []int64
	seen := map[int64]bool{}
	for _, id := range req.Target.IDs {
		if !found[id] && !seen[id] {
			missing = append(missing, id)
		}
		seen[id] = true
	}
	if len(missing) > 0 {
		return memerr.NotFound("%s: memories %v do not exist or are deleted", req.Op, missing)
	}
	return nil
}

// conflict classifies a lock refusal.
func conflict(err error) *memerr.Error {
	var le *model.LockedError
	if errors.As(err, &le) {
		return memerr.Conflict("%s", le.Error()).WithCause(err)
	}
	return memerr.From(err)
}
