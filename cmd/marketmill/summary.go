package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avelline/marketmill/internal/artifact"
	"github.com/avelline/marketmill/internal/summary"
)

func newSummaryCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary [table...]",
		Short: "Print schema, counts and samples for built artifacts",
		Long: fmt.Sprintf(
			"Summary inspects the parquet artifacts in the output directory.\nTables: %s. With no arguments every table is shown.",
			strings.Join(summary.AllTables(), ", "),
		),
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			runner := &summary.Runner{
				Store:  artifact.NewStore(cfg.Paths.Output),
				Open:   summarySession(cfg),
				Out:    cmd.OutOrStdout(),
				Tables: args,
			}
			return runner.Summarize(cmd.Context())
		},
	}

	return cmd
}
