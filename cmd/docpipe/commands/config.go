package commands

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/display"
)

func newConfigCmd() *cobra.Command {
	group := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise docpipe configuration",
		Long: `Show or initialise the docpipe configuration.

Configuration sources (in order of precedence):
1. Command line flags
2. Environment variables (DOCPIPE_* prefix, .env honoured)
3. Project config (nearest ./docpipe.toml)
4. User config (~/.docpipe/config.toml)
5. System config (/etc/docpipe/config.toml)
6. Default values

Examples:
  docpipe config show                 # Show the effective configuration
  docpipe config show --format json   # ... as JSON
  docpipe config init                 # Write defaults to ~/.docpipe/config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return writeConfig(cmd, masked(cfg), format)
		},
	}
	show.Flags().String("format", "toml", "Output format: toml, json, yaml")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			force, _ := cmd.Flags().GetBool("force")
			if path == "" {
				path = config.DefaultUserConfigPath()
			}
			path = config.ExpandHome(path)

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite; the old file is kept as %s.back1)", path, path)
			}

			v := viper.New()
			config.SetDefaults(v)
			cfg, err := config.LoadWithViper(v)
			if err != nil {
				return err
			}
			if err := config.Persist(cfg, path); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("Wrote default configuration to %s", path))
			return nil
		},
	}
	initCmd.Flags().String("path", "", "Where to write (default ~/.docpipe/config.toml)")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	group.AddCommand(show, initCmd)
	return group
}

// masked hides secrets that may have come from the environment
func masked(cfg *config.Config) *config.Config {
	out := *cfg
	const mask = "********"
	if out.Store.PostgresURL != "" {
		out.Store.PostgresURL = mask
	}
	if out.Store.Redis.Password != "" {
		out.Store.Redis.Password = mask
	}
	if out.Plugin.AuthToken != "" {
		out.Plugin.AuthToken = mask
	}
	return &out
}

// writeConfig renders through the TOML tags so every format shares the
// snake_case keys used in config files.
func writeConfig(cmd *cobra.Command, cfg *config.Config, format string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to TOML: %w", err)
	}
	out := cmd.OutOrStdout()
	if format == "toml" {
		fmt.Fprintf(out, "# docpipe configuration\n%s", string(data))
		return nil
	}

	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	switch format {
	case "json":
		return display.OutputJSON(out, tree)
	case "yaml":
		data, err := yaml.Marshal(tree)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Fprintf(out, "# docpipe configuration\n%s", string(data))
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}
