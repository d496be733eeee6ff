package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/generation"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/metrics"
)

// timedEmbedder bounds every call with a timeout, records metrics and
// classifies failures as retryable ProviderErrors.
type timedEmbedder struct {
	inner   embedding.Embedder
	timeout time.Duration
	metrics *metrics.Collector
}

func (e *timedEmbedder) Embed(ctx context.Context, text string) (embedding.Result, error) {
	type reply struct {
		res embedding.Result
		err error
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan reply, 1)
	go func() {
		res, err := e.inner.Embed(ctx, text)
		ch <- reply{res, err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	e.metrics.RecordProviderCall(e.inner.Name(), "embed", time.Since(start), r.err)
	if r.err != nil {
		return embedding.Result{}, providerError(r.err, "embedding provider "+e.inner.Name(), e.timeout)
	}
	if len(r.res.Vector) == 0 {
		return embedding.Result{}, memerr.Provider(nil, "embedding provider %s returned an empty vector", e.inner.Name())
	}
	return r.res, nil
}

func (e *timedEmbedder) Name() string { return e.inner.Name() }

func (e *timedEmbedder) Dims() int { return e.inner.Dims() }

// timedGenerator is the generation counterpart of timedEmbedder.
type timedGenerator struct {
	inner   generation.Generator
	timeout time.Duration
	metrics *metrics.Collector
}

func (g *timedGenerator) Generate(ctx context.Context, prompt string, c generation.Constraints) (string, error) {
	type reply struct {
		text string
		err  error
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ch := make(chan reply, 1)
	go func() {
		text, err := g.inner.Generate(ctx, prompt, c)
		ch <- reply{text, err}
	}()

	var r reply
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	g.metrics.RecordProviderCall(g.inner.Name(), "generate", time.Since(start), r.err)
	if r.err != nil {
		return "", providerError(r.err, "generation provider "+g.inner.Name(), g.timeout)
	}
	return r.text, nil
}

func (g *timedGenerator) Name() string { return g.inner.Name() }

func (g *timedGenerator) Model() string { return g.inner.Model() }

func providerError(err error, what string, timeout time.Duration) *memerr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return memerr.Provider(err, "%s timed out after %s", what, timeout)
	}
	return memerr.ProviderFrom(err, "%s failed", what)
}
