package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/display"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply -f <seed.yaml>",
		Short: "Save every config of a seed file on a running server",
		Long: `Apply a YAML seed file through the gRPC API. Fetchers are saved first,
then emitters, then iterators. Applying the same file twice is harmless.

Seed file format:
  fetchers:
    - id: docs
      plugin_id: file-system
      config: {basePath: /srv/docs}
  emitters: [...]
  iterators: [...]

Example:
  docpipe apply -f seed.yaml --addr pipes.internal:50051`,
		Args: cobra.NoArgs,
		RunE: runApply,
	}
	addAddrFlag(cmd)
	cmd.Flags().StringP("file", "f", "", "Seed file to apply")
	cmd.Flags().Bool("dry-run", false, "Validate and list the configs without saving")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runApply(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	out := cmd.OutOrStdout()

	seed, err := config.LoadSeed(config.ExpandHome(path))
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Fprint(out, pterm.Warning.Sprintln("DRY RUN: nothing is saved"))
		for _, c := range seed.Configs() {
			fmt.Fprintf(out, "  %-9s %-24s plugin=%s\n", c.Kind, c.ID, c.PluginID)
		}
		return nil
	}

	client, err := dial(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	n, err := seed.Apply(ctx, func(ctx context.Context, c pipes.ExtensionConfig) error {
		configJSON, err := c.ConfigJSON()
		if err != nil {
			return err
		}
		if _, err := client.SaveConfig(ctx, c.Kind, c.ID, c.PluginID, configJSON); err != nil {
			return errors.Wrapf(err, "%s %q", c.Kind, c.ID)
		}
		fmt.Fprintf(out, "  saved %s %s\n", c.Kind, c.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("applied %d config(s) before failing: %w", n, err)
	}
	fmt.Fprint(out, pterm.Success.Sprintfln("Applied %d config(s) from %s", n, path))
	return nil
}

func newExtensionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extensions",
		Aliases: []string{"ext"},
		Short:   "List the extensions loaded by a running server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			exts, err := client.ListExtensions(cmd.Context())
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), exts)
			}
			if len(exts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No extensions loaded")
				return nil
			}
			rows := make([][]string, 0, len(exts))
			for _, e := range exts {
				schema := "-"
				if e.HasSchema {
					schema = "yes"
				}
				rows = append(rows, []string{e.PluginID, e.Version, strings.Join(e.Capabilities, ","), schema, display.Truncate(e.Description, 50)})
			}
			return display.Table(cmd.OutOrStdout(), []string{"PLUGIN", "VERSION", "CAPABILITIES", "SCHEMA", "DESCRIPTION"}, rows)
		},
	}
	addAddrFlag(cmd)
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}
