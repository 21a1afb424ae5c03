package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dsu/device"
)

func newDiscoverCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run discovery for a bounded duration and print the resulting inventory snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.API.Enabled = false
			cfg.Store.Enabled = false

			svc, err := newService(cfg)
			if err != nil {
				return err
			}
			if err := svc.start(); err != nil {
				return err
			}
			defer svc.stop()

			fmt.Printf("discovering for %s...\n", duration)
			time.Sleep(duration)

			printSnapshot(svc.inv.Snapshot())
			return nil
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "how long to wait for discovery replies")
	return cmd
}

func printSnapshot(devices []device.Summary) {
	bold := color.New(color.Bold)
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)

	if len(devices) == 0 {
		warn.Println("no devices discovered")
		return
	}

	bold.Printf("%-34s %-16s %-20s %-10s %s\n", "SERIAL", "NAME", "ADDRESS", "MODE", "PROGRESS")
	for _, d := range devices {
		addr := "-"
		if d.Settings.IP != nil {
			addr = fmt.Sprintf("%s:%d", d.Settings.IP, d.Settings.Port)
		}
		serial := d.Serial
		if serial == "" {
			serial = "(unicast seed)"
		}
		line := fmt.Sprintf("%-34s %-16s %-20s %-10s %d%%",
			serial, d.Settings.Name, addr, d.Settings.BootMode, d.Progress)
		if d.Progress > 0 && d.Progress < 100 {
			warn.Println(line)
		} else {
			ok.Println(line)
		}
	}
}
