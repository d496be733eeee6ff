package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every live memory as a JSON array. Soft-deleted records are included with --include-deleted.",
		Run:   runExport,
	}

	cmd.Flags().Bool("include-deleted", false, "Include soft-deleted records")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	includeDeleted, _ := cmd.Flags().GetBool("include-deleted")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	memories, err := s.ExportAll(cmd.Context(), includeDeleted)
	if err != nil {
		exitErr("export", err)
	}

	printJSON(cmd, memories)
}
