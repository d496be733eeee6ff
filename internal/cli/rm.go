package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/model"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id> [id...]",
		Short: "Delete memories",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRm,
	}

	cmd.Flags().Bool("hard", false, "Permanent delete (irreversible)")
	cmd.Flags().String("reason", "", "Why the records are deleted")
	cmd.Flags().Bool("dry-run", false, "Plan without writing")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	hard, _ := cmd.Flags().GetBool("hard")
	reason, _ := cmd.Flags().GetString("reason")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	ids, err := parseIDs(args)
	if err != nil {
		exitErr("rm", err)
	}
	soft := !hard
	req := &ir.Request{
		Stage:  model.StageSTO,
		Op:     model.OpDelete,
		Target: &ir.Target{IDs: ids},
		Args:   &ir.DeleteArgs{Soft: &soft, Reason: reason},
		Meta:   ir.Meta{DryRun: dryRun},
	}
	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		printEnvelope(cmd, e.Execute(cmd.Context(), req))
	})
}
