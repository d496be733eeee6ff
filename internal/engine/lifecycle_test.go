package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/model"
)

func TestLabelModes(t *testing.T) {
	h := newHarness(t)
	id := h.encode("labelled", "a", "b")

	env := h.run(`{"stage":"STO","op":"Label","target":{"ids":[%d]},"args":{"tags":["b","c"],"facets":{"subject":"alice","project":"x"}}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	m := h.get(id)
	assert.Equal(t, []string{"a", "b", "c"}, m.Tags)
	assert.Equal(t, "alice", m.Subject)
	assert.Equal(t, "x", m.Facets["project"])

	env = h.run(`{"stage":"STO","op":"Label","target":{"ids":[%d]},"args":{"tags":["a"],"facets":{"subject":""},"mode":"remove"}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	m = h.get(id)
	assert.Equal(t, []string{"b", "c"}, m.Tags)
	assert.Empty(t, m.Subject)
	assert.NotContains(t, m.Facets, "subject")
	assert.Equal(t, "x", m.Facets["project"])

	env = h.run(`{"stage":"STO","op":"Label","target":{"ids":[%d]},"args":{"tags":["only"],"mode":"replace"}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	m = h.get(id)
	assert.Equal(t, []string{"only"}, m.Tags)
	assert.Equal(t, "x", m.Facets["project"], "replace without facets keeps them")
}

func TestUpdateReembedsChangedText(t *testing.T) {
	h := newHarness(t)
	id := h.encode("original text")
	before := h.get(id)

	env := h.run(`{"stage":"STO","op":"Update","target":{"ids":[%d]},"args":{"set":{"text":"rewritten text","weight":2}}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	res := env.Data.(*UpdateResult)
	assert.True(t, res.Reembedded)
	assert.Equal(t, 1, res.Affected)

	after := h.get(id)
	assert.Equal(t, "rewritten text", after.Text)
	assert.Equal(t, 1.0, after.Weight)
	require.NotNil(t, after.Embedding)
	assert.NotEqual(t, before.Embedding.Vector, after.Embedding.Vector)
}

func TestUpdateRejectsEmbeddingWrites(t *testing.T) {
	h := newHarness(t)
	id := h.encode("x")
	env := h.run(`{"stage":"STO","op":"Update","target":{"ids":[%d]},"args":{"set":{"embedding":[1,2]}}}`, id)
	require.False(t, env.Success)
	assert.Equal(t, memerr.KindValidation, env.Error.Kind)
}

func TestPromoteClampsWeight(t *testing.T) {
	h := newHarness(t)
	id := h.encodeArgs(map[string]any{"payload": map[string]any{"text": "important"}, "weight": 0.9})

	env := h.run(`{"stage":"STO","op":"Promote","target":{"ids":[%d]},"args":{"weight_delta":0.5}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	assert.Equal(t, 1.0, h.get(id).Weight)
}

func TestWeightDeltaSignIgnored(t *testing.T) {
	h := newHarness(t)
	id := h.encodeArgs(map[string]any{"payload": map[string]any{"text": "signed"}, "weight": 0.5})

	require.True(t, h.run(`{"stage":"STO","op":"Promote","target":{"ids":[%d]},"args":{"weight_delta":-0.25}}`, id).Success)
	assert.InDelta(t, 0.75, h.get(id).Weight, 1e-9)

	require.True(t, h.run(`{"stage":"STO","op":"Demote","target":{"ids":[%d]},"args":{"weight_delta":-0.5}}`, id).Success)
	assert.InDelta(t, 0.25, h.get(id).Weight, 1e-9)
}

func TestPromoteDemoteWeightProperty(t *testing.T) {
	h := newHarness(t)
	id := h.encode("property subject")
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		start := rapid.Float64Range(0, 1).Draw(rt, "start")
		delta := rapid.Float64Range(-3, 3).Draw(rt, "delta")
		promote := rapid.Bool().Draw(rt, "promote")

		set := &ir.Request{Stage: model.StageSTO, Op: model.OpUpdate, Target: &ir.Target{IDs: ir.IDList{id}},
			Args: &ir.UpdateArgs{Set: ir.UpdateSet{Weight: &start}}}
		if env := h.engine.Execute(ctx, set); !env.Success {
			rt.Fatalf("set weight: %v", env.Error)
		}

		req := &ir.Request{Stage: model.StageSTO, Target: &ir.Target{IDs: ir.IDList{id}}}
		want := model.ClampWeight(start - math.Abs(delta))
		if promote {
			req.Op = model.OpPromote
			req.Args = &ir.PromoteArgs{WeightDelta: &delta}
			want = model.ClampWeight(start + math.Abs(delta))
		} else {
			req.Op = model.OpDemote
			req.Args = &ir.DemoteArgs{WeightDelta: &delta}
		}
		if env := h.engine.Execute(ctx, req); !env.Success {
			rt.Fatalf("%s: %v", req.Op, env.Error)
		}

		got := h.get(id).Weight
		if got < 0 || got > 1 {
			rt.Fatalf("weight %v escaped [0,1]", got)
		}
		if math.Abs(got-want) > 1e-9 {
			rt.Fatalf("weight = %v, want %v", got, want)
		}
	})
}

func TestPromoteRemind(t *testing.T) {
	h := newHarness(t)
	id := h.encode("stand-up")

	env := h.run(`{"stage":"STO","op":"Promote","target":{"ids":[%d]},"args":{"remind":{"rrule":"FREQ=DAILY","until":"2025-07-01T00:00:00Z"}}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	m := h.get(id)
	assert.Equal(t, "FREQ=DAILY", m.AutoFrequency)
	require.NotNil(t, m.NextAutoUpdateAt)
	assert.True(t, m.NextAutoUpdateAt.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDemoteArchive(t *testing.T) {
	h := newHarness(t)
	id := h.encode("old news")
	env := h.run(`{"stage":"STO","op":"Demote","target":{"ids":[%d]},"args":{"archive":true}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	assert.Equal(t, 0.0, h.get(id).Weight)
}

func TestLockReadOnlyBlocksUpdate(t *testing.T) {
	h := newHarness(t)
	id := h.encode("policy text")

	env := h.run(`{"stage":"STO","op":"Lock","target":{"ids":[%d]},"args":{"mode":"read_only","reason":"legal hold"}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	assert.Equal(t, model.LockReadOnly, h.get(id).LockMode)

	env = h.run(`{"stage":"STO","op":"Update","target":{"ids":[%d]},"args":{"set":{"text":"changed"}}}`, id)
	require.False(t, env.Success)
	assert.Equal(t, memerr.KindConflict, env.Error.Kind)
	assert.Equal(t, "policy text", h.get(id).Text)

	env = h.run(`{"stage":"STO","op":"Lock","target":{"ids":[%d]},"args":{"mode":"none"}}`, id)
	require.True(t, env.Success)
	m := h.get(id)
	assert.Equal(t, model.LockNone, m.LockMode)
	assert.Empty(t, m.LockReason)

	env = h.run(`{"stage":"STO","op":"Update","target":{"ids":[%d]},"args":{"set":{"text":"changed"}}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	assert.Equal(t, "changed", h.get(id).Text)
}

func TestLockExpiresAt(t *testing.T) {
	h := newHarness(t)
	id := h.encode("temporary hold")

	env := h.run(`{"stage":"STO","op":"Lock","target":{"ids":[%d]},"args":{"mode":"custom","policy":{"deny":["Delete"],"expires":"2025-06-01T11:00:00Z"}}}`, id)
	require.True(t, env.Success, "%v", env.Error)

	env = h.run(`{"stage":"STO","op":"Delete","target":{"ids":[%d]}}`, id)
	require.True(t, env.Success, "an expired lock no longer applies: %v", env.Error)
	assert.True(t, h.get(id).Deleted)
}

func TestPartialBatchItemizesFailures(t *testing.T) {
	h := newHarness(t)
	locked := h.encode("locked")
	free := h.encode("free")
	require.True(t, h.run(`{"stage":"STO","op":"Lock","target":{"ids":[%d]},"args":{"mode":"read_only"}}`, locked).Success)

	env := h.run(`{"stage":"STO","op":"Promote","target":{"ids":[%d,%d]},"args":{"weight":0.8}}`, locked, free)
	require.True(t, env.Success, "%v", env.Error)
	res := env.Data.(*BatchResult)
	assert.Equal(t, 2, res.Requested)
	assert.Equal(t, 1, res.Affected)
	assert.Equal(t, []int64{free}, res.Succeeded)
	assert.Equal(t, []int64{locked}, res.Failed())
	require.Len(t, res.Items, 2)
	assert.Equal(t, StatusFailed, res.Items[0].Status)
	assert.Equal(t, memerr.KindConflict, res.Items[0].Error.Kind)

	assert.Equal(t, 0.5, h.get(locked).Weight)
	assert.Equal(t, 0.8, h.get(free).Weight)
}

func TestAppendOnlyAllowsLabelOnly(t *testing.T) {
	h := newHarness(t)
	id := h.encode("ledger line")
	require.True(t, h.run(`{"stage":"STO","op":"Lock","target":{"ids":[%d]},"args":{"mode":"append_only"}}`, id).Success)

	assert.True(t, h.run(`{"stage":"STO","op":"Label","target":{"ids":[%d]},"args":{"tags":["audited"]}}`, id).Success)
	env := h.run(`{"stage":"STO","op":"Demote","target":{"ids":[%d]},"args":{"archive":true}}`, id)
	require.False(t, env.Success)
	assert.Equal(t, memerr.KindConflict, env.Error.Kind)
}

func TestEmptyTargetSucceedsWithNothingAffected(t *testing.T) {
	h := newHarness(t)
	env := h.run(`{"stage":"STO","op":"Label","target":{"filter":{"has_tags":["missing"]}},"args":{"tags":["x"]}}`)
	require.True(t, env.Success, "%v", env.Error)
	assert.Equal(t, 0, env.Data.(*BatchResult).Affected)
}

func TestDeleteSoftThenHard(t *testing.T) {
	h := newHarness(t)
	id := h.encode("to remove")

	env := h.run(`{"stage":"STO","op":"Delete","target":{"ids":[%d]},"args":{"reason":"cleanup"}}`, id)
	require.True(t, env.Success, "%v", env.Error)
	assert.True(t, env.Data.(*DeleteResult).Soft)
	m := h.get(id)
	assert.True(t, m.Deleted)
	assert.Equal(t, "cleanup", m.DeleteReason)
	assert.Equal(t, model.StateSoftDeleted, m.State())

	other := h.encode("gone for good")
	env = h.run(`{"stage":"STO","op":"Delete","target":{"ids":[%d]},"args":{"soft":false}}`, other)
	require.True(t, env.Success, "%v", env.Error)
	_, err := h.store.Get(context.Background(), other)
	require.Error(t, err)
}

func TestDeleteOlderThan(t *testing.T) {
	h := newHarness(t)
	old := h.encodeArgs(map[string]any{
		"payload": map[string]any{"text": "old log"}, "tags": []string{"log"}, "time": "2025-05-01T00:00:00Z",
	})
	fresh := h.encodeArgs(map[string]any{
		"payload": map[string]any{"text": "fresh log"}, "tags": []string{"log"}, "time": "2025-05-30T00:00:00Z",
	})

	env := h.run(`{"stage":"STO","op":"Delete","target":{"filter":{"has_tags":["log"]}},"args":{"older_than":"7d","soft":false}}`)
	require.True(t, env.Success, "%v", env.Error)
	assert.Equal(t, []int64{old}, env.Data.(*DeleteResult).Succeeded)

	_, err := h.store.Get(context.Background(), old)
	require.Error(t, err)
	assert.False(t, h.get(fresh).Deleted)
}

func TestOverlongDurationsFailValidation(t *testing.T) {
	h := newHarness(t)
	id := h.encode("created today", "log")
	before := h.count()

	env := h.run(`{"stage":"STO","op":"Delete","target":{"filter":{"has_tags":["log"]}},"args":{"older_than":"300 years"}}`)
	require.False(t, env.Success)
	assert.Equal(t, memerr.KindValidation, env.Error.Kind)

	env = h.run(`{"stage":"STO","op":"Expire","target":{"ids":[%d]},"args":{"ttl":"P300Y"}}`, id)
	require.False(t, env.Success)
	assert.Equal(t, memerr.KindValidation, env.Error.Kind)

	swept, err := h.engine.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, swept.Due)

	m := h.get(id)
	assert.False(t, m.Deleted)
	assert.Nil(t, m.ExpireAt)
	assert.Equal(t, before, h.count())
}

func TestNoDeleteLockBlocksDelete(t *testing.T) {
	h := newHarness(t)
	id := h.encode("keep forever")
	require.True(t, h.run(`{"stage":"STO","op":"Lock","target":{"ids":[%d]},"args":{"mode":"no_delete"}}`, id).Success)

	env := h.run(`{"stage":"STO","op":"Delete","target":{"ids":[%d]}}`, id)
	require.False(t, env.Success)
	assert.Equal(t, memerr.KindConflict, env.Error.Kind)
	assert.False(t, h.get(id).Deleted)

	assert.True(t, h.run(`{"stage":"STO","op":"Update","target":{"ids":[%d]},"args":{"set":{"topic":"archive"}}}`, id).Success)
}
