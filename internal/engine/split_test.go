package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/memerr"
)

func TestSplitBySentencesRecordsLineage(t *testing.T) {
	h := newHarness(t)
	src := h.encodeArgs(map[string]any{
		"payload": map[string]any{"text": "First point. Second point. Third point."},
		"tags":    []string{"notes"},
		"type":    "meeting",
	})

	env := h.run(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"soft_delete_source":true}}`, src)
	require.True(t, env.Success, "%v", env.Error)
	res := env.Data.(*SplitResult)
	require.Len(t, res.Results, 1)
	item := res.Results[0]
	assert.Equal(t, src, item.ParentID)
	assert.Equal(t, ir.SplitBySentences, item.Strategy)
	assert.Equal(t, 3, item.SplitCount)
	assert.Equal(t, 3, res.TotalSplits)

	parent := h.get(src)
	assert.True(t, parent.Deleted)
	assert.Equal(t, item.ChildIDs, parent.LineageChildren)

	tag := fmt.Sprintf("split_from_%d", src)
	for i, id := range item.ChildIDs {
		child := h.get(id)
		assert.Equal(t, []int64{src}, child.LineageParents)
		assert.True(t, child.HasTag(tag))
		assert.True(t, child.HasTag("notes"))
		assert.Equal(t, "meeting", child.Type)
		assert.NotNil(t, child.Embedding)
		assert.Contains(t, child.Text, []string{"First", "Second", "Third"}[i])
	}
}

func TestSplitWithoutInheritance(t *testing.T) {
	h := newHarness(t)
	src := h.encodeArgs(map[string]any{
		"payload": map[string]any{"text": "One. Two."},
		"tags":    []string{"private"},
	})

	env := h.run(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"inherit_all":false,"skip_embedding":true}}`, src)
	require.True(t, env.Success, "%v", env.Error)
	item := env.Data.(*SplitResult).Results[0]
	require.Len(t, item.ChildIDs, 2)
	child := h.get(item.ChildIDs[0])
	assert.Equal(t, []string{fmt.Sprintf("split_from_%d", src)}, child.Tags)
	assert.Nil(t, child.Embedding)
	assert.False(t, h.get(src).Deleted)
}

func TestSplitCustomSegments(t *testing.T) {
	h := newHarness(t)
	src := h.encode("héllo world and more")

	env := h.run(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"strategy":"custom","params":{"custom":{"segments":[{"range":[0,5]},{"text":"and more"},{"text":"dropped"}],"max_splits":2}}}}`, src)
	require.True(t, env.Success, "%v", env.Error)
	item := env.Data.(*SplitResult).Results[0]
	require.Len(t, item.ChildIDs, 2)
	assert.Equal(t, "héllo", h.get(item.ChildIDs[0]).Text)
	assert.Equal(t, "and more", h.get(item.ChildIDs[1]).Text)
}

func TestSplitReportsUnsplitSources(t *testing.T) {
	h := newHarness(t)
	src := h.encode("Just one sentence.")

	env := h.run(`{"stage":"STO","op":"Split","target":{"ids":[%d]}}`, src)
	require.True(t, env.Success, "%v", env.Error)
	res := env.Data.(*SplitResult)
	assert.Empty(t, res.Results)
	assert.Equal(t, []int64{src}, res.Unsplit)
	assert.Equal(t, 0, res.TotalSplits)
	assert.Equal(t, 1, h.count())
}

func TestSplitMissingIDFails(t *testing.T) {
	h := newHarness(t)
	src := h.encode("A. B.")

	env := h.run(`{"stage":"STO","op":"Split","target":{"ids":[%d,4242]}}`, src)
	require.False(t, env.Success)
	assert.Equal(t, memerr.KindNotFound, env.Error.Kind)
	assert.Equal(t, 1, h.count())
}

func TestSegments(t *testing.T) {
	tests := []struct {
		name string
		text string
		args ir.SplitArgs
		want int
	}{
		{"sentences", "One. Two. Three.", ir.SplitArgs{Strategy: ir.SplitBySentences}, 3},
		{"headings", "# A\nalpha\n# B\nbeta", ir.SplitArgs{Strategy: ir.SplitByHeadings}, 2},
		{"blank text", "   ", ir.SplitArgs{Strategy: ir.SplitBySentences}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, segments(tt.text, &tt.args), tt.want)
		})
	}
}
