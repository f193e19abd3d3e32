package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/netsync/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "netsyncd",
		Short: "Authoritative netsync game server",
		Long: `netsyncd hosts an authoritative netsync server.

Peers connect over websocket. Every tick the server reads their packets,
replicates entity changes, collects inputs and flushes packets back.

Routes:
  /ws        websocket endpoint carrying netsync packets
  /metrics   Prometheus metrics
  /healthz   liveness probe
  /peers     connected peers with RTT and jitter`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		configCmd(),
		versionCmd(),
	)
	return rootCmd
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
