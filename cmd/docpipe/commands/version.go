package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/display"
	"github.com/teranos/docpipe/version"
)

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show docpipe version information",
		Long:  `Display version, build time, commit hash, and platform information for the docpipe binary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOutput := display.ShouldOutputJSON(cmd)
			info := version.Get()

			if jsonOutput {
				return display.OutputJSON(cmd.OutOrStdout(), info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, info.String())
			fmt.Fprintf(out, "Platform: %s\n", info.Platform)
			fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
	return cmd
}
