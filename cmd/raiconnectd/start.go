package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rai-connect/core/pkg/config"
	"github.com/rai-connect/core/pkg/controlplane"
	"github.com/rai-connect/core/pkg/logging"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the proxy and block until stopped",
	Long:  "Bind the TLS listener, install the trust anchor and hosts file block, and run until interrupted or stopped via the control API.",
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			log.Fatal("Error initializing cmd line args: ", err)
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(runStart())
	},
}

func runStart() int {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return exitCodeInternal
	}

	sink, err := logging.NewDevelopment(1000)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logging:", err)
		return exitCodeInternal
	}

	plane := controlplane.New(sink)
	if err := plane.Start(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		return classifyStartError(err)
	}
	sink.Infof("raiconnectd", "proxy started, bound to %s:%d", cfg.BindAddress, cfg.HTTPSPort)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	// The control API's own /stop route must unblock the same wait the
	// OS signal handler does, so an external "stop" call and Ctrl-C
	// converge on one shutdown path instead of the process lingering
	// after an HTTP-triggered Plane.Stop.
	mux := http.NewServeMux()
	mux.Handle("/", plane.Handler())
	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		go func() { shutdownCh <- syscall.SIGTERM }()
	})

	controlSrv := &http.Server{Addr: cfg.ControlAddr, Handler: mux}
	go func() {
		if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sink.Errorf("raiconnectd", "control API server failed: %v", err)
		}
	}()
	sink.Infof("raiconnectd", "control API listening on %s", cfg.ControlAddr)

	<-shutdownCh
	sink.Infof("raiconnectd", "received shutdown signal, draining connections")
	_ = controlSrv.Shutdown(context.Background())

	if err := plane.Stop(); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		return exitCodeInternal
	}
	return exitCodeClean
}

func init() {
	config.RegisterFlags(startCmd.Flags())
	rootCmd.AddCommand(startCmd)
}
