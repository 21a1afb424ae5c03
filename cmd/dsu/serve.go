package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Locator/ElUDP transports, inventory, telemetry, store, bus, and API server together",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			svc, err := newService(cfg)
			if err != nil {
				return err
			}
			if err := svc.start(); err != nil {
				return err
			}
			defer svc.stop()

			if addr := svc.metricsAddr(); addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", svc.metrics.Handler())
				go func() {
					if err := http.ListenAndServe(addr, mux); err != nil {
						svc.logf("serve: metrics listener exited: %v", err)
					}
				}()
			}

			fmt.Println("dsu serve: running. Ctrl-C to stop.")
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			fmt.Println("dsu serve: shutting down...")
			return nil
		},
	}
}
