package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dsu/device"
	"dsu/firmware"
	"dsu/locator"
	"dsu/queue"
)

// btldrSettlePause is how long push-fw waits after switching a device into
// bootloader mode before streaming firmware, mirroring the original
// load_fw's RUN_BTLDR settle pause.
const btldrSettlePause = 10 * time.Second

func newPushFWCmd() *cobra.Command {
	var discoverFor time.Duration

	cmd := &cobra.Command{
		Use:   "push-fw <serial> <file.fw>",
		Short: "Stream a firmware file to a device and run it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serial, path := args[0], args[1]

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

			fmt.Printf("discovering for %s to find %s...\n", discoverFor, serial)
			time.Sleep(discoverFor)

			var dev *device.Device
			for _, d := range svc.inv.Devices() {
				if d.SerialStr() == serial {
					dev = d
					break
				}
			}
			if dev == nil {
				return fmt.Errorf("push-fw: device %s not found", serial)
			}

			gen, err := firmware.Open(path)
			if err != nil {
				// REDESIGN FLAG applied: a firmware-open failure is a hard
				// error, so the dependent RUN_MAIN entry is never enqueued.
				return fmt.Errorf("push-fw: open firmware %s: %w", path, err)
			}

			exeEl := locator.CmdExeElCmd
			done := make(chan queue.Outcome, 1)

			dev.Queue.Append(&queue.Entry{
				Code:  &exeEl,
				Pack:  locator.EncodeElEnvelope(locator.ElRunBtldr, nil),
				Pause: btldrSettlePause,
			})
			dev.Queue.Append(&queue.Entry{
				Code: &exeEl,
				Gen:  gen,
			})
			dev.Queue.Append(&queue.Entry{
				Code: &exeEl,
				Pack: locator.EncodeElEnvelope(locator.ElRunMain, nil),
			})
			dev.Queue.SetCallback(func(outcome queue.Outcome) {
				svc.metrics.RecordQueueOutcome(outcome.String())
				done <- outcome
			})

			fmt.Printf("pushing %s to %s...\n", path, serial)
			dev.Queue.Run()

			outcome := <-done
			fmt.Printf("push-fw: %s\n", outcome)
			if outcome != queue.OutcomeOK {
				return fmt.Errorf("push-fw: firmware push did not complete: %s", outcome)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&discoverFor, "discover-for", 5*time.Second, "how long to wait for the target device to appear")
	return cmd
}
