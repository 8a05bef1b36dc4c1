package main

import (
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rai-connect/core/pkg/config"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "print a running daemon's buffered log records",
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	Run: func(cmd *cobra.Command, _ []string) {
		if clear, _ := cmd.Flags().GetBool("clear"); clear {
			os.Exit(queryControlAPI("POST", "/logs/clear"))
		}
		since, _ := cmd.Flags().GetString("since")
		path := "/logs"
		if since != "" {
			path += "?since=" + url.QueryEscape(since)
		}
		os.Exit(queryControlAPI("GET", path))
	},
}

func init() {
	config.RegisterFlags(logsCmd.Flags())
	logsCmd.Flags().String("since", "", "only print records after this RFC3339 timestamp")
	logsCmd.Flags().Bool("clear", false, "clear the daemon's in-memory log buffer instead of printing it")
	rootCmd.AddCommand(logsCmd)
}
