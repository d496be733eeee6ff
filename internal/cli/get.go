package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id> [id...]",
		Short: "Retrieve memories by id",
		Args:  cobra.MinimumNArgs(1),
		Run:   runGet,
	}

	cmd.Flags().StringSlice("include", nil, "Fields to return (default: all)")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	include, _ := cmd.Flags().GetStringSlice("include")
	ids, err := parseIDs(args)
	if err != nil {
		exitErr("get", err)
	}

	req := &ir.Request{
		Stage:  model.StageRET,
		Op:     model.OpRetrieve,
		Target: &ir.Target{IDs: ids},
		Args:   &ir.RetrieveArgs{Include: include},
	}
	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		printEnvelope(cmd, e.Execute(cmd.Context(), req))
	})
}

func parseIDs(args []string) (ir.IDList, error) {
	ids := make(ir.IDList, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
