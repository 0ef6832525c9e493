package commands

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/display"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/server/protocol"
)

var kindAliases = map[pipes.Kind][]string{
	pipes.KindFetcher:  {"fetchers"},
	pipes.KindEmitter:  {"emitters"},
	pipes.KindIterator: {"iterators", "pipe-iterator", "pipe-iterators"},
}

// newConfigKindCmd builds the save/get/ls/rm/schema group of one config kind.
func newConfigKindCmd(kind pipes.Kind) *cobra.Command {
	name := string(kind)
	group := &cobra.Command{
		Use:     name,
		Aliases: kindAliases[kind],
		Short:   fmt.Sprintf("Manage %s configs", name),
		Long: fmt.Sprintf(`Manage named %[1]s configs on a running server.

A %[1]s config binds an id to a plugin and the plugin's own settings.

Examples:
  docpipe %[1]s save <id> --plugin <pluginId> --config '{"key":"value"}'
  docpipe %[1]s save <id> --plugin <pluginId> --config @settings.json
  docpipe %[1]s get <id>
  docpipe %[1]s ls
  docpipe %[1]s rm <id>
  docpipe %[1]s schema <pluginId>`, name),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	addAddrFlag(group)

	save := &cobra.Command{
		Use:   "save <id>",
		Short: fmt.Sprintf("Create or replace a %s config", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pluginID, _ := cmd.Flags().GetString("plugin")
			raw, _ := cmd.Flags().GetString("config")
			validate, _ := cmd.Flags().GetBool("validate")
			configJSON, err := readJSONArg(cmd, raw)
			if err != nil {
				return err
			}

			client, err := dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := client.Save(cmd.Context(), kind, &protocol.SaveConfigRequest{
				ID:         args[0],
				PluginID:   pluginID,
				ConfigJSON: configJSON,
				Validate:   validate,
			})
			if err != nil {
				return fmt.Errorf("failed to save %s %q: %w", name, args[0], err)
			}
			fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("Saved %s %s", name, id))
			return nil
		},
	}
	save.Flags().String("plugin", "", "Plugin id serving this config")
	save.Flags().String("config", "", "Config JSON object, @file or - for stdin")
	save.Flags().Bool("validate", false, "Check the config against the plugin's schema before saving")
	_ = save.MarkFlagRequired("plugin")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: fmt.Sprintf("Show a %s config", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			cfg, err := client.GetConfig(cmd.Context(), kind, args[0])
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), cfg)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:     %s\n", cfg.ID)
			fmt.Fprintf(out, "Plugin: %s\n", cfg.PluginID)
			fmt.Fprintf(out, "Config:\n%s\n", display.Indent(cfg.ConfigJSON))
			return nil
		},
	}
	get.Flags().BoolP("json", "j", false, "Output as JSON")

	ls := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   fmt.Sprintf("List %s configs", name),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			configs, err := client.ListConfigs(cmd.Context(), kind)
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), configs)
			}
			if len(configs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No %s configs\n", name)
				return nil
			}
			sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
			rows := make([][]string, 0, len(configs))
			for _, c := range configs {
				rows = append(rows, []string{c.ID, c.PluginID, display.Truncate(c.ConfigJSON, 60)})
			}
			return display.Table(cmd.OutOrStdout(), []string{"ID", "PLUGIN", "CONFIG"}, rows)
		},
	}
	ls.Flags().BoolP("json", "j", false, "Output as JSON")

	rm := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   fmt.Sprintf("Delete a %s config", name),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			existed, err := client.DeleteConfig(cmd.Context(), kind, args[0])
			if err != nil {
				return err
			}
			if !existed {
				fmt.Fprint(cmd.OutOrStdout(), pterm.Warning.Sprintfln("No %s %s to delete", name, args[0]))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("Deleted %s %s", name, args[0]))
			return nil
		},
	}

	schema := &cobra.Command{
		Use:   "schema <pluginId>",
		Short: fmt.Sprintf("Show the JSON schema a plugin's %s config must satisfy", name),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			s, err := client.ConfigSchema(cmd.Context(), kind, args[0])
			if err != nil {
				return err
			}
			if s == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Plugin %s publishes no schema\n", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), display.Indent(s))
			return nil
		},
	}

	group.AddCommand(save, get, ls, rm, schema)
	return group
}
