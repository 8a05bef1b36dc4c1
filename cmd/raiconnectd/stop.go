package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rai-connect/core/pkg/config"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop a running daemon gracefully",
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(queryControlAPI("POST", "/stop"))
	},
}

func init() {
	config.RegisterFlags(stopCmd.Flags())
	rootCmd.AddCommand(stopCmd)
}
