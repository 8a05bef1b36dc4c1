// Command raiconnectd runs the proxy's control plane as a foreground
// daemon: start binds the listener and blocks until interrupted, while
// stop/status/logs talk to the same running process over its loopback
// control API. The root/subcommand wiring is a cobra root with one
// file per subcommand, each binding its own flags to viper in PreRunE.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "raiconnectd",
	Short: "Local HTTPS interception proxy for osu! private server redirection",
	Long:  "raiconnectd terminates TLS for the game client's official hosts, routes requests to a configured mirror or passthrough target, and splices the Bancho connection unmodified except for an optional supporter-bit patch.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeInternal)
	}
}
