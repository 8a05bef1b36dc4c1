package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rai-connect/core/pkg/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "query a running daemon's lifecycle state and counters",
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(queryControlAPI("GET", "/status"))
	},
}

// queryControlAPI hits the running daemon's control API at the
// configured control-addr and prints the JSON response, re-indented
// (a body that is not JSON is printed as-is). No retry:
// a stopped daemon is a user-facing error, not a transient one.
func queryControlAPI(method, path string) int {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return exitCodeInternal
	}

	req, err := http.NewRequest(method, "http://"+cfg.ControlAddr+path, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build request:", err)
		return exitCodeInternal
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "raiconnectd does not appear to be running:", err)
		return exitCodeInternal
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read response:", err)
		return exitCodeInternal
	}

	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "control API returned %s: %s\n", resp.Status, body)
		return exitCodeInternal
	}
	if len(body) == 0 {
		return exitCodeClean
	}

	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return exitCodeClean
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return exitCodeClean
}

func init() {
	config.RegisterFlags(statusCmd.Flags())
	rootCmd.AddCommand(statusCmd)
}
