package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "exec [request.json]",
		Short: "Execute one JSON operation request",
		Long:  "Execute one operation request. The request is read from the file argument or piped via stdin; the result envelope is printed as JSON.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runExec,
	}

	RootCmd.AddCommand(cmd)
}

func runExec(cmd *cobra.Command, args []string) {
	var data []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		exitErr("read request", err)
	}

	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		printEnvelope(cmd, e.ExecuteJSON(cmd.Context(), data))
	})
}
