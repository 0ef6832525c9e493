package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/server/protocol"
)

const defaultAddr = "localhost:50051"

// addAddrFlag gives a command group the --addr flag of the server to talk to.
func addAddrFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("addr", "", "docpipe gRPC address (default: server.grpc_address from config, else "+defaultAddr+")")
}

// dial connects to --addr, or the configured gRPC address.
func dial(cmd *cobra.Command) (*protocol.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		if cfg, err := loadConfig(cmd); err == nil {
			addr = cfg.Server.GRPCAddress
		}
	}
	if addr == "" {
		addr = defaultAddr
	}
	// ":50051" listens everywhere but dials nowhere
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	client, err := protocol.Dial(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	return client, nil
}

// signalContext is cancelled on Ctrl+C.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// readJSONArg resolves a JSON flag value: "@path" reads a file, "-" reads
// stdin, anything else is taken literally.
func readJSONArg(cmd *cobra.Command, value string) (string, error) {
	switch {
	case value == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", errors.Wrap(err, "failed to read stdin")
		}
		return string(b), nil
	case strings.HasPrefix(value, "@"):
		path := strings.TrimPrefix(value, "@")
		b, err := os.ReadFile(path)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read %s", path)
		}
		return string(b), nil
	default:
		return value, nil
	}
}
