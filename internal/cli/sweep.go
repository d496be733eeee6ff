package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/ir"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply the on-expire action of every record past its deadline",
		Run:   runSweep,
	}

	cmd.Flags().String("at", "", "Evaluate deadlines at this instant (ISO-8601, default: now)")

	RootCmd.AddCommand(cmd)
}

func runSweep(cmd *cobra.Command, args []string) {
	at, _ := cmd.Flags().GetString("at")
	now := time.Now().UTC()
	if at != "" {
		t, err := ir.ParseTime(at)
		if err != nil {
			exitErr("sweep", err)
		}
		now = t
	}

	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		res, err := e.Sweep(cmd.Context(), now)
		if err != nil {
			exitErr("sweep", err)
		}
		printJSON(cmd, res)
	})
}
