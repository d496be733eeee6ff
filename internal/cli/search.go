package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by hybrid lexical and semantic similarity",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default: search.default_k)")
	cmd.Flags().Float64("alpha", -1, "Semantic weight in [0,1] (default: search.alpha)")
	cmd.Flags().String("order", ir.OrderRelevance, "Order: relevance, time_desc, time_asc, weight_desc")
	cmd.Flags().StringSlice("include", nil, "Fields to return (default: all)")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	alpha, _ := cmd.Flags().GetFloat64("alpha")
	order, _ := cmd.Flags().GetString("order")
	include, _ := cmd.Flags().GetStringSlice("include")

	req := &ir.Request{
		Stage:  model.StageRET,
		Op:     model.OpRetrieve,
		Target: &ir.Target{Search: searchTarget(strings.Join(args, " "), limit, alpha, order)},
		Args:   &ir.RetrieveArgs{Include: include},
	}
	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		printEnvelope(cmd, e.Execute(cmd.Context(), req))
	})
}

// searchTarget builds a search selector. A negative alpha keeps the
// configured default.
func searchTarget(query string, limit int, alpha float64, order string) *ir.Search {
	s := &ir.Search{
		Intent:    ir.SearchIntent{Query: query},
		Limit:     limit,
		Overrides: &ir.SearchOverrides{OrderBy: order},
	}
	if alpha >= 0 {
		s.Overrides.Alpha = &alpha
	}
	return s
}
