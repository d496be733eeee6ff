package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) (embedding.Result, error) {
	return embedding.Result{}, errors.New("connection refused")
}
func (failingEmbedder) Name() string { return "failing" }
func (failingEmbedder) Dims() int    { return 512 }

type fixture struct {
	store *store.SQLiteStore
	ids   map[string]int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	emb := embedding.NewHashEmbedder(0)
	f := &fixture{store: s, ids: map[string]int64{}}
	add := func(name, text string, tags []string, when time.Time, weight float64, deleted bool) {
		r, err := emb.Embed(context.Background(), text)
		require.NoError(t, err)
		m := &model.Memory{
			Text: text, Tags: tags, Time: &when, Weight: weight, Deleted: deleted, Embedding: r.Stored(),
		}
		id, err := s.Insert(context.Background(), m)
		require.NoError(t, err)
		f.ids[name] = id
	}
	add("budget", "quarterly budget review", []string{"budget"}, now.Add(-time.Hour), 0.4, false)
	add("lunch", "unrelated lunch note", []string{"misc"}, now.Add(-72*time.Hour), 0.9, false)
	add("plan", "budget plan for next year", []string{"budget", "plan"}, now.Add(-2*time.Hour), 0.8, false)
	add("gone", "budget archive", []string{"budget"}, now, 0.5, true)
	return f
}

func (f *fixture) resolver(e embedding.Embedder) *Resolver {
	return New(f.store, e, DefaultOptions(), zap.NewNop())
}

func request(op model.Op, target ir.Target) *ir.Request {
	return &ir.Request{Stage: op.Stage(), Op: op, Target: &target}
}

func TestResolveIDs(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(nil)

	res, err := r.Resolve(context.Background(), request(model.OpDelete, ir.Target{
		IDs: ir.IDList{f.ids["plan"], 999, f.ids["gone"], f.ids["budget"]},
	}), now)
	require.NoError(t, err)
	assert.Equal(t, ir.ModeIDs, res.Mode)
	assert.Equal(t, []int64{f.ids["plan"], f.ids["budget"]}, res.IDs)
}

func TestResolveIDsAllMissing(t *testing.T) {
	f := newFixture(t)
	res, err := f.resolver(nil).Resolve(context.Background(), request(model.OpLabel, ir.Target{IDs: ir.IDList{f.ids["gone"], 404}}), now)
	require.NoError(t, err)
	assert.Empty(t, res.IDs)
}

func TestResolveFilter(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(nil)

	res, err := r.Resolve(context.Background(), request(model.OpRetrieve, ir.Target{Filter: &ir.Filter{
		HasTags:   []string{"budget"},
		TimeRange: &ir.TimeRange{Relative: "last", Amount: 1, Unit: "days"},
	}}), now)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.ids["budget"], f.ids["plan"]}, res.IDs, "most recent first, deleted excluded")
	assert.Len(t, res.Memories, 2)

	res, err = r.Resolve(context.Background(), request(model.OpRetrieve, ir.Target{Filter: &ir.Filter{Limit: 1, OrderBy: ir.OrderWeightDesc}}), now)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.ids["lunch"]}, res.IDs)
}

func TestResolveAllRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(nil)

	req := request(model.OpDelete, ir.Target{All: true})
	_, err := r.Resolve(context.Background(), req, now)
	assert.Equal(t, memerr.KindSafety, memerr.KindOf(err))

	req.Meta.Confirmation = true
	res, err := r.Resolve(context.Background(), req, now)
	require.NoError(t, err)
	assert.Len(t, res.IDs, 3)
}

func TestMutatingSearchRequiresLimit(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(embedding.NewHashEmbedder(0))

	for _, op := range []model.Op{model.OpDelete, model.OpUpdate, model.OpMerge, model.OpLabel, model.OpExpire} {
		req := request(op, ir.Target{Search: &ir.Search{
			Intent:    ir.SearchIntent{Query: "budget"},
			Overrides: &ir.SearchOverrides{K: 2},
		}})
		_, err := r.Resolve(context.Background(), req, now)
		assert.Equal(t, memerr.KindSafety, memerr.KindOf(err), op)
	}

	req := request(model.OpDelete, ir.Target{Search: &ir.Search{Intent: ir.SearchIntent{Query: "budget"}, Limit: 1}})
	res, err := r.Resolve(context.Background(), req, now)
	require.NoError(t, err)
	assert.Len(t, res.IDs, 1)
}

func TestReadOnlySearchDefaults(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(embedding.NewHashEmbedder(0))

	req := request(model.OpRetrieve, ir.Target{Search: &ir.Search{Intent: ir.SearchIntent{Query: "budget review"}}})
	res, err := r.Resolve(context.Background(), req, now)
	require.NoError(t, err)
	require.NotEmpty(t, res.IDs)
	assert.Equal(t, f.ids["budget"], res.IDs[0])
	assert.NotContains(t, res.IDs, f.ids["gone"])
	assert.Len(t, res.Scores, len(res.IDs))
	assert.Empty(t, res.Notes)

	req.Target.Search.Overrides = &ir.SearchOverrides{K: 1}
	res, err = r.Resolve(context.Background(), req, now)
	require.NoError(t, err)
	assert.Len(t, res.IDs, 1)
}

func TestSearchOrderOverride(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(embedding.NewHashEmbedder(0))
	alpha := 0.0

	req := request(model.OpRetrieve, ir.Target{Search: &ir.Search{
		Intent:    ir.SearchIntent{Query: "budget"},
		Overrides: &ir.SearchOverrides{Alpha: &alpha, OrderBy: ir.OrderWeightDesc},
	}})
	res, err := r.Resolve(context.Background(), req, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.ids["plan"], f.ids["budget"]}, res.IDs)
}

func TestSearchProviderFailure(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(failingEmbedder{})

	read := request(model.OpRetrieve, ir.Target{Search: &ir.Search{Intent: ir.SearchIntent{Query: "budget"}}})
	res, err := r.Resolve(context.Background(), read, now)
	require.NoError(t, err)
	assert.NotEmpty(t, res.IDs)
	require.Len(t, res.Notes, 1)
	assert.Contains(t, res.Notes[0], "lexical scoring only")
	for _, s := range res.Scores {
		assert.Zero(t, s.Semantic)
	}

	write := request(model.OpDelete, ir.Target{Search: &ir.Search{Intent: ir.SearchIntent{Query: "budget"}, Limit: 1}})
	_, err = r.Resolve(context.Background(), write, now)
	assert.Equal(t, memerr.KindProvider, memerr.KindOf(err))
	assert.True(t, memerr.IsRetryable(err))
}

func TestSearchWithoutEmbedder(t *testing.T) {
	f := newFixture(t)
	req := request(model.OpRetrieve, ir.Target{Search: &ir.Search{Intent: ir.SearchIntent{Query: "lunch"}}})
	res, err := f.resolver(nil).Resolve(context.Background(), req, now)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.ids["lunch"]}, res.IDs)
	assert.Len(t, res.Notes, 1)
}
