// Command dsu is the device-service-utility CLI, §4.13: a cobra command
// tree wrapping the service wiring in service.go, grounded on the teacher's
// cmd/ entrypoints and the niac-go pack member's cobra root command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dsu/config"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "dsu",
		Short: "Discover, inventory, and command embedded devices over Locator/ElUDP",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.yaml (default ~/.dsu/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newPushFWCmd())
	root.AddCommand(newWatchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}
