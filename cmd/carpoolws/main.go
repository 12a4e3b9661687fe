package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const envPrefix = "CARPOOL_WS"

func main() {
	rootCmd := &cobra.Command{
		Use:   "carpoolws",
		Short: "Talk to the carpool realtime endpoint from a terminal",
		Long: `carpoolws connects to the carpool realtime websocket endpoint with the same
dispatcher the apps use: reconnection with backoff, heartbeats and an outbound
queue included.

Every option can also be set through CARPOOL_WS_* environment variables, e.g.
CARPOOL_WS_URL, CARPOOL_WS_TOKEN or CARPOOL_WS_HEARTBEAT_INTERVAL=15s.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		tailCmd(),
		sendCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}
