package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/db"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/logger"
)

func newDBCmd() *cobra.Command {
	group := &cobra.Command{
		Use:   "db",
		Short: "Manage the docpipe database",
		Long: `Manage the SQL store holding extension configs and job statuses.

Examples:
  docpipe db migrate                      # Migrate the configured store
  docpipe db migrate --db-path /tmp/x.db  # Migrate a specific SQLite file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE:  runDBMigrate,
	}
	migrate.Flags().String("db-path", "", "SQLite database path (overrides store.sqlite_path)")

	group.AddCommand(migrate)
	return group
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	dbPath, _ := cmd.Flags().GetString("db-path")
	if dbPath != "" {
		cfg.Store.Backend = config.BackendSQLite
		cfg.Store.SQLitePath = dbPath
	}

	out := cmd.OutOrStdout()
	switch cfg.Store.Backend {
	case config.BackendSQLite, "":
		path := config.ExpandHome(cfg.Store.SQLitePath)
		database, err := db.OpenWithMigrations(path, logger.Logger)
		if err != nil {
			return errors.Wrapf(err, "failed to migrate %s", path)
		}
		defer database.Close()
		fmt.Fprint(out, pterm.Success.Sprintfln("SQLite database %s is up to date", path))

	case config.BackendPostgres:
		database, err := db.OpenPostgres(cmd.Context(), cfg.Store.PostgresURL, logger.Logger)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.Migrate(database, logger.Logger); err != nil {
			return errors.Wrap(err, "failed to migrate postgres store")
		}
		fmt.Fprint(out, pterm.Success.Sprintln("Postgres database is up to date"))

	default:
		fmt.Fprintf(out, "The %s store has no schema to migrate\n", cfg.Store.Backend)
	}
	return nil
}
