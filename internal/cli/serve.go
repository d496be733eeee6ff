package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/server"
	"github.com/rcliao/memops/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the operation API over HTTP",
		Long:  "Serve POST /v1/execute, POST /v1/sweep, GET /healthz and GET /metrics until interrupted.",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	cmd.Flags().Duration("sweep-every", 0, "Run the expiry sweep at this interval (0 disables)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	sweepEvery, _ := cmd.Flags().GetDuration("sweep-every")
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	withEngine(func(_ *store.SQLiteStore, e *engine.Engine) {
		srv := server.New(e, registry, logger)
		err := srv.Run(ctx, server.Config{
			Addr:            addr,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			SweepInterval:   sweepEvery,
		})
		if err != nil {
			exitErr("serve", err)
		}
	})
}
