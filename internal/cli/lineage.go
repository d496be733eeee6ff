package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "lineage <id>",
		Short: "Show the records a memory was merged or split from and into",
		Args:  cobra.ExactArgs(1),
		Run:   runLineage,
	}

	RootCmd.AddCommand(cmd)
}

func runLineage(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitErr("lineage", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	lineage, err := s.Lineage(cmd.Context(), id)
	if err != nil {
		exitErr("lineage", err)
	}

	printJSON(cmd, lineage)
}
