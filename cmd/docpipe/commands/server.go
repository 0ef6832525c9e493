package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/server"
)

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"serve"},
		Short:   "Run the docpipe gRPC server and admin API",
		Long: `Run the docpipe server: the docpipe.Pipes gRPC service, the admin HTTP
API (health, metrics, job views) and the pipe job workers.

Flags override the loaded configuration for this run only.

Examples:
  docpipe server
  docpipe server -v --grpc :50051 --admin :8089
  docpipe server --store memory --seed seed.yaml`,
		Args: cobra.NoArgs,
		RunE: runServer,
	}
	cmd.Flags().String("grpc", "", "gRPC listen address (overrides server.grpc_address)")
	cmd.Flags().String("admin", "", "Admin HTTP listen address (overrides server.admin_address)")
	cmd.Flags().Bool("no-admin", false, "Disable the admin HTTP API")
	cmd.Flags().String("db-path", "", "SQLite database path (overrides store.sqlite_path)")
	cmd.Flags().String("store", "", "Store backend: sqlite, postgres, redis or memory (overrides store.backend)")
	cmd.Flags().String("seed", "", "Seed file applied at startup (overrides server.seed_file)")
	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	// the server logs lifecycle events even without -v
	verbosity := verbosityFlag(cmd)
	if verbosity == logger.Quiet {
		verbosity = logger.Verbose
		logger.SetVerbosity(verbosity)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if err := applyServerFlags(cmd, cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	srv, err := server.NewFromConfig(ctx, cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	printStartupBanner(cmd.OutOrStdout(), cfg, verbosity)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		if err != nil {
			return errors.Wrap(err, "server stopped")
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
			defer stopCancel()
			err := srv.Stop(stopCtx)
			// let Start return
			<-errChan
			shutdownDone <- err
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// applyServerFlags layers the server flags over cfg.
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) error {
	if v, _ := cmd.Flags().GetString("grpc"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v, _ := cmd.Flags().GetString("admin"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if off, _ := cmd.Flags().GetBool("no-admin"); off {
		cfg.Server.AdminAddress = ""
	}
	if v, _ := cmd.Flags().GetString("db-path"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store.Backend = v
	}
	if v, _ := cmd.Flags().GetString("seed"); v != "" {
		cfg.Server.SeedFile = v
	}
	return cfg.Validate()
}
