package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories matching a filter",
		Run:   runList,
	}

	cmd.Flags().StringP("tags", "t", "", "Require all tags (comma-separated)")
	cmd.Flags().String("not-tags", "", "Exclude tags (comma-separated)")
	cmd.Flags().String("type", "", "Filter by type")
	cmd.Flags().String("subject", "", "Filter by subject")
	cmd.Flags().String("location", "", "Filter by location")
	cmd.Flags().String("topic", "", "Filter by topic")
	cmd.Flags().Int("last", 0, "Only records from the last N units")
	cmd.Flags().String("unit", "days", "Unit for --last: minutes, hours, days, weeks, months, years")
	cmd.Flags().String("order", ir.OrderTimeDesc, "Order: time_desc, time_asc, weight_desc")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	tagsStr, _ := cmd.Flags().GetString("tags")
	notTagsStr, _ := cmd.Flags().GetString("not-tags")
	typ, _ := cmd.Flags().GetString("type")
	subject, _ := cmd.Flags().GetString("subject")
	location, _ := cmd.Flags().GetString("location")
	topic, _ := cmd.Flags().GetString("topic")
	last, _ := cmd.Flags().GetInt("last")
	unit, _ := cmd.Flags().GetString("unit")
	order, _ := cmd.Flags().GetString("order")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	f := &ir.Filter{
		HasTags:  parseTags(tagsStr),
		NotTags:  parseTags(notTagsStr),
		Type:     typ,
		Subject:  subject,
		Location: location,
		Topic:    topic,
		OrderBy:  order,
		Limit:    limit,
	}
	if last > 0 {
		f.TimeRange = &ir.TimeRange{Relative: "last", Amount: last, Unit: unit}
	}

	req := &ir.Request{
		Stage:  model.StageRET,
		Op:     model.OpRetrieve,
		Target: &ir.Target{Filter: f},
		Args:   &ir.RetrieveArgs{},
	}
	if idsOnly {
		req.Args = &ir.RetrieveArgs{Include: []string{"id"}}
	}

	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		env := e.Execute(cmd.Context(), req)
		if !idsOnly || !env.Success {
			printEnvelope(cmd, env)
			return
		}
		for _, row := range env.Data.(*engine.RetrieveResult).Rows {
			fmt.Fprintln(cmd.OutOrStdout(), row["id"])
		}
	})
}
