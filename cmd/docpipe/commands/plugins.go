package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/display"
	grpcplugin "github.com/teranos/docpipe/plugin/grpc"
)

func newPluginsCmd() *cobra.Command {
	group := &cobra.Command{
		Use:     "plugins",
		Aliases: []string{"plugin"},
		Short:   "List installed plugin binaries and manifests",
		Long: `Inspect the plugin search paths (plugin.paths) without starting anything.

Each path may hold a plugins.toml with [plugins.<name>] tables and a
plugins/ directory of binaries, each with an optional <binary>.toml
manifest. Use 'docpipe extensions' to see what a running server loaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	ls := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List discovered plugins",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			var rows [][]string
			for _, p := range cfg.Plugin.Paths {
				dir := config.ExpandHome(p)
				manifests, err := grpcplugin.DiscoverManifests(dir)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", dir, err)
					continue
				}
				for _, m := range manifests {
					rows = append(rows, []string{
						m.Name,
						pluginState(m, cfg.Plugin.Enabled),
						pluginSource(m),
						dir,
					})
				}
			}
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No plugins found in %v\n", cfg.Plugin.Paths)
				return nil
			}
			return display.Table(cmd.OutOrStdout(), []string{"NAME", "STATE", "SOURCE", "PATH"}, rows)
		},
	}

	group.AddCommand(ls)
	return group
}

func pluginState(m grpcplugin.PluginConfig, enabled []string) string {
	switch {
	case slices.Contains(enabled, m.Name):
		return "enabled"
	case m.Enabled:
		return "available"
	default:
		return "disabled"
	}
}

func pluginSource(m grpcplugin.PluginConfig) string {
	switch {
	case m.Address != "":
		return "remote " + m.Address
	case m.Command != "":
		return display.Truncate(m.Command, 40)
	default:
		return display.Truncate(m.Binary, 40)
	}
}
