package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "summarize [query]",
		Short: "Summarize the memories relevant to a query or tags",
		Long:  "Select memories by search query or tags, pack them into a token budget and generate a summary.",
		Run:   runSummarize,
	}

	cmd.Flags().StringP("tags", "t", "", "Select by tags instead of a query (comma-separated)")
	cmd.Flags().IntP("limit", "l", 0, "Max records to summarize")
	cmd.Flags().String("focus", "", "Aspect to emphasize")
	cmd.Flags().IntP("max-tokens", "b", 256, "Max tokens in the summary")
	cmd.Flags().String("lang", "", "Answer language")

	RootCmd.AddCommand(cmd)
}

func runSummarize(cmd *cobra.Command, args []string) {
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	focus, _ := cmd.Flags().GetString("focus")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	lang, _ := cmd.Flags().GetString("lang")
	query := strings.Join(args, " ")

	var target ir.Target
	switch {
	case tagsStr != "":
		target.Filter = &ir.Filter{HasTags: parseTags(tagsStr), Limit: limit}
	case query != "":
		target.Search = searchTarget(query, limit, -1, ir.OrderRelevance)
	default:
		exitErr("summarize", fmt.Errorf("a query or --tags is required"))
	}

	req := &ir.Request{
		Stage:  model.StageRET,
		Op:     model.OpSummarize,
		Target: &target,
		Args:   &ir.SummarizeArgs{Focus: focus, MaxTokens: maxTokens},
		Meta:   ir.Meta{Lang: lang},
	}
	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		printEnvelope(cmd, e.Execute(cmd.Context(), req))
	})
}
