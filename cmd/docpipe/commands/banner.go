package commands

import (
	"fmt"
	"io"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(w io.Writer, cfg *config.Config, verbosity logger.Verbosity) {
	cyan := "\033[36m"
	green := "\033[32m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Fprintf(w, "\n%s%s", cyan, bold)
	fmt.Fprintf(w, "   ╔═══════════════════════════════════════════╗\n")
	fmt.Fprintf(w, "   ║   docpipe   fetch  ▸  parse  ▸  emit      ║\n")
	fmt.Fprintf(w, "   ╚═══════════════════════════════════════════╝%s\n\n", reset)

	fmt.Fprintf(w, "%s%s┌─ docpipe ─────────────────────────────────────┐%s\n", green, bold, reset)
	if versionInfo.IsRelease() {
		fmt.Fprintf(w, "%s│%s Version:   %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	} else {
		fmt.Fprintf(w, "%s│%s Version:   development build\n", green, reset)
	}
	fmt.Fprintf(w, "%s│%s Verbosity: %s\n", green, reset, verbosity)
	fmt.Fprintf(w, "%s│%s gRPC:      %s\n", green, reset, cfg.Server.GRPCAddress)
	if cfg.Server.AdminAddress != "" {
		fmt.Fprintf(w, "%s│%s Admin:     %s\n", green, reset, cfg.Server.AdminAddress)
	} else {
		fmt.Fprintf(w, "%s│%s Admin:     disabled\n", green, reset)
	}
	fmt.Fprintf(w, "%s│%s Store:     %s\n", green, reset, storeDescription(cfg.Store))
	fmt.Fprintf(w, "%s│%s Parser:    %s\n", green, reset, cfg.Parser.Engine)
	fmt.Fprintf(w, "%s│%s Workers:   %d\n", green, reset, cfg.Jobs.MaxConcurrent)
	if cfg.Server.SeedFile != "" {
		fmt.Fprintf(w, "%s│%s Seed:      %s\n", green, reset, cfg.Server.SeedFile)
	}
	fmt.Fprintf(w, "%s└───────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Fprintf(w, "\n%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}

func storeDescription(s config.StoreConfig) string {
	switch s.Backend {
	case config.BackendSQLite, "":
		return "sqlite " + s.SQLitePath
	case config.BackendRedis:
		return "redis " + s.Redis.Address
	default:
		// postgres urls carry credentials
		return s.Backend
	}
}
