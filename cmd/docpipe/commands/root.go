// Package commands holds the docpipe CLI.
//
// Most commands are thin clients of a running server's gRPC API (--addr);
// server, config, db and plugins work on the local configuration.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/pipes"
)

// NewRootCmd builds the docpipe command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docpipe",
		Short: "docpipe - fetch, parse and emit documents",
		Long: `docpipe - a document pipeline server.

docpipe fetches documents through fetcher extensions, parses them into
metadata records and hands the records to emitter extensions, either one
request at a time or as asynchronous pipe jobs driven by an iterator.

Available commands:
  server    - Run the gRPC server and admin API
  fetcher   - Manage fetcher configs
  emitter   - Manage emitter configs
  iterator  - Manage pipe iterator configs
  fetch     - Fetch and parse one document
  job       - Run and inspect pipe jobs
  apply     - Apply a seed file of configs
  config    - Show or initialise docpipe configuration
  db        - Database operations
  plugins   - List installed plugin binaries and manifests

Examples:
  docpipe server -v
  docpipe fetcher save docs --plugin file-system --config '{"basePath":"/srv/docs"}'
  docpipe fetch docs reports/q3.pdf
  docpipe job run --iterator all-docs --fetcher docs --emitter search --wait`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			jsonLogs, _ := cmd.Flags().GetBool("json-logs")
			if err := logger.Initialize(jsonLogs, verbosityFlag(cmd)); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Cleanup()
		},
	}

	root.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	root.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")
	root.PersistentFlags().String("config", "", "Config file (default: cascade of ./docpipe.toml, ~/.docpipe/config.toml, /etc/docpipe/config.toml)")

	root.AddCommand(
		newServerCmd(),
		newConfigKindCmd(pipes.KindFetcher),
		newConfigKindCmd(pipes.KindEmitter),
		newConfigKindCmd(pipes.KindIterator),
		newFetchCmd(),
		newJobCmd(),
		newApplyCmd(),
		newExtensionsCmd(),
		newConfigCmd(),
		newDBCmd(),
		newPluginsCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig honours --config, falling back to the config cascade.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(config.ExpandHome(path))
	}
	return config.Load()
}

func verbosityFlag(cmd *cobra.Command) logger.Verbosity {
	n, _ := cmd.Flags().GetCount("verbose")
	return logger.Verbosity(n)
}
