package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dsu/tui"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Launch a terminal dashboard bound to the live inventory and queue progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.API.Enabled = false

			svc, err := newService(cfg)
			if err != nil {
				return err
			}
			if err := svc.start(); err != nil {
				return err
			}
			defer svc.stop()

			return tui.New(svc.inv).Run()
		},
	}
}
