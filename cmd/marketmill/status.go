package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/avelline/marketmill/internal/artifact"
	"github.com/avelline/marketmill/internal/engine"
	"github.com/avelline/marketmill/internal/manifest"
	"github.com/avelline/marketmill/internal/steps"
)

type statusOptions struct {
	jsonOutput bool
}

func newStatusCmd(root *rootFlags) *cobra.Command {
	opts := &statusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which build steps are complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

type stepStatus struct {
	ID             string    `json:"id"`
	Target         string    `json:"target"`
	DependsOn      []string  `json:"depends_on,omitempty"`
	Done           bool      `json:"done"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds,omitempty"`
}

func runStatus(cmd *cobra.Command, root *rootFlags, opts *statusOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	reg := engine.NewRegistry()
	if err := steps.RegisterAll(reg, steps.Deps{
		Config:    cfg,
		Store:     artifact.NewStore(cfg.Paths.Output),
		Connector: newConnector(cfg),
	}); err != nil {
		return err
	}

	man, err := manifest.NewStore(cfg.ManifestPath()).Load()
	if err != nil {
		return err
	}

	rows := make([]stepStatus, 0, reg.Len())
	for _, step := range reg.Steps() {
		row := stepStatus{
			ID:        step.ID,
			Target:    step.Target,
			DependsOn: step.DependsOn,
		}
		if entry, ok := man[step.ID]; ok {
			row.Done = true
			row.CompletedAt = entry.CompletedAt
			row.ElapsedSeconds = entry.ElapsedSeconds
		}
		rows = append(rows, row)
	}

	if opts.jsonOutput {
		return renderStatusJSON(cmd, rows)
	}
	return renderStatusTable(cmd, rows)
}

func renderStatusTable(cmd *cobra.Command, rows []stepStatus) error {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	fmt.Fprintln(writer, "ID\tTARGET\tDEPENDS\tSTATUS\tCOMPLETED\tELAPSED")
	for _, row := range rows {
		depends := strings.Join(row.DependsOn, ",")
		if depends == "" {
			depends = "-"
		}
		status, completed, elapsed := "pending", "-", "-"
		if row.Done {
			status = "done"
			completed = formatRelativeTime(row.CompletedAt)
			elapsed = fmt.Sprintf("%.1fs", row.ElapsedSeconds)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n", row.ID, row.Target, depends, status, completed, elapsed)
	}

	return writer.Flush()
}

type statusJSONPayload struct {
	Count int          `json:"count"`
	Steps []stepStatus `json:"steps"`
}

func renderStatusJSON(cmd *cobra.Command, rows []stepStatus) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(statusJSONPayload{Count: len(rows), Steps: rows})
}

func formatRelativeTime(ts time.Time) string {
	if ts.IsZero() {
		return "never"
	}

	delta := time.Since(ts)
	if delta < time.Minute {
		return "just now"
	}
	if delta < time.Hour {
		return fmt.Sprintf("%d minutes ago", int(delta.Minutes()))
	}
	if delta < 24*time.Hour {
		return fmt.Sprintf("%d hours ago", int(delta.Hours()))
	}

	return fmt.Sprintf("%d days ago", int(delta.Hours()/24))
}
