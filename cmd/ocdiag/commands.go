package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/marcusrbrown/ocdiag/internal/diag"
	"github.com/marcusrbrown/ocdiag/internal/output"
)

// VersionInfo is the JSON shape of 'ocdiag version --json'.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func newVersionCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		Long:    `Display the ocdiag binary version, git commit, and build date.`,
		Example: `  ocdiag version`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.FromContext(cmd.Context())

			if jsonOut {
				enc := json.NewEncoder(out.Out)
				enc.SetIndent("", "  ")

				return enc.Encode(VersionInfo{Version: version, Commit: commit, Date: date})
			}

			out.Print("ocdiag %s\n", version)
			out.Print("  commit: %s\n", commit)
			out.Print("  built:  %s\n", date)

			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

func newSectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "sections",
		Short:   "List the report sections",
		Long:    `List the section keys accepted by --only, in report order.`,
		Example: `  ocdiag sections`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.FromContext(cmd.Context())

			for _, s := range diag.Catalog() {
				out.Print("%-16s %s\n", s.Key, s.Label)
			}

			return nil
		},
	}
}
